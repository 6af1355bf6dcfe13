package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/JovieInc/Jovie-sub015/internal/archive"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the billing audit trail to a local file",
	Long: `Export audit entries for a window as JSON Lines, the same format the
scheduled archiver ships to object storage.

Examples:
  billingctl export --days 90
  billingctl export --from 2025-01-01 --to 2025-02-01 --gzip
  billingctl export --days 7 --out /tmp/audit.jsonl`,
	RunE: runExport,
}

var (
	exportFrom string
	exportTo   string
	exportDays int
	exportOut  string
	exportGzip bool
)

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Window start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Window end date (YYYY-MM-DD, exclusive)")
	exportCmd.Flags().IntVar(&exportDays, "days", 0, "Window size in days ending now (default 30)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output path (default derived from the window)")
	exportCmd.Flags().BoolVar(&exportGzip, "gzip", false, "Compress the output")
}

func runExport(cmd *cobra.Command, args []string) error {
	from, to, err := exportWindow(exportFrom, exportTo, exportDays)
	if err != nil {
		return err
	}

	requireDatabase()
	ctx := GetContext()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	data, count, err := archive.BuildExport(ctx, st, from, to, exportGzip)
	if err != nil {
		return fmt.Errorf("failed to build export: %w", err)
	}

	if count == 0 {
		printer.Warn("No audit entries between %s and %s; nothing written.",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
		return nil
	}

	out := exportOut
	if out == "" {
		out = defaultExportPath(from, to, exportGzip)
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	if jsonOutput {
		return printer.JSON(map[string]any{
			"path":    out,
			"entries": count,
			"bytes":   len(data),
		})
	}

	printer.Success("Wrote %d entries (%d bytes) to %s", count, len(data), out)
	return nil
}

func exportWindow(fromStr, toStr string, days int) (time.Time, time.Time, error) {
	if fromStr != "" || toStr != "" {
		if fromStr == "" || toStr == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--from and --to must be used together")
		}
		from, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from date: %w", err)
		}
		to, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to date: %w", err)
		}
		if !to.After(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("--to must be after --from")
		}
		return from, to, nil
	}

	if days <= 0 {
		days = 30
	}
	to := time.Now().UTC()
	return to.AddDate(0, 0, -days), to, nil
}

func defaultExportPath(from, to time.Time, compressed bool) string {
	name := fmt.Sprintf("billing-audit-%s-%s.jsonl", from.Format("20060102"), to.Format("20060102"))
	if compressed {
		name += ".gz"
	}
	return name
}
