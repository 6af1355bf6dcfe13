package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestPrinterPrintf(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf))

	p.Printf("checked %d users", 42)
	if !strings.Contains(buf.String(), "checked 42 users") {
		t.Errorf("Printf output = %q, want to contain 'checked 42 users'", buf.String())
	}
}

func TestPrinterQuietSuppressesOutput(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithQuiet(true))

	p.Printf("noise")
	p.Success("noise")
	p.Info("noise")
	p.KeyValue("key", "value")
	if buf.Len() != 0 {
		t.Errorf("quiet printer should produce no output, got %q", buf.String())
	}
}

func TestPrinterJSONModeSuppressesText(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithJSON(true))

	p.Printf("noise")
	p.Section("noise")
	if buf.Len() != 0 {
		t.Errorf("json printer should suppress text output, got %q", buf.String())
	}
}

func TestPrinterErrorBypassesQuiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithErrOutput(&buf), WithQuiet(true), WithNoColor(true))

	p.Error("sweep failed")
	if !strings.Contains(buf.String(), "sweep failed") {
		t.Errorf("Error output = %q, want to contain 'sweep failed'", buf.String())
	}
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf))

	if err := p.JSON(map[string]int{"fixed": 3}); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var decoded map[string]int
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["fixed"] != 3 {
		t.Errorf("fixed = %d, want 3", decoded["fixed"])
	}
}

func TestSweepLine(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithNoColor(true))

	p.SweepLine("3e9f", "fixed")
	p.SweepLine("77aa", "consistent")

	out := buf.String()
	if !strings.Contains(out, "3e9f fixed") {
		t.Errorf("output = %q, want fixed line", out)
	}
	if !strings.Contains(out, "77aa consistent") {
		t.Errorf("output = %q, want consistent line", out)
	}
}

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable([]string{"USER", "PLAN"}, false)
	table.SetOutput(&buf)
	table.Append([]string{"3e9f", "pro"})
	table.Append([]string{"77aa", "free"})
	table.Render()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("rendered %d lines, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "USER") {
		t.Errorf("header = %q, want USER first", lines[0])
	}
	if !strings.Contains(lines[1], "3e9f") || !strings.Contains(lines[1], "pro") {
		t.Errorf("row = %q, want user and plan", lines[1])
	}
}

func TestTableQuiet(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable([]string{"USER"}, true)
	table.SetOutput(&buf)
	table.Append([]string{"3e9f"})
	table.Render()

	if buf.Len() != 0 {
		t.Errorf("quiet table should render nothing, got %q", buf.String())
	}
}

func TestProgressWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(3, "reconciling", ProgressWithOutput(&buf))

	p.Increment()
	p.Finish()

	if !strings.Contains(buf.String(), "reconciling") {
		t.Errorf("progress output = %q, want the description", buf.String())
	}
}

func TestProgressQuiet(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(3, "reconciling", ProgressWithOutput(&buf), ProgressWithQuiet(true))

	p.Increment()
	p.Finish()

	if buf.Len() != 0 {
		t.Errorf("quiet progress should render nothing, got %q", buf.String())
	}
}
