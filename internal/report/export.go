package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)

// ExportData wraps a report with the moment it was exported.
type ExportData struct {
	Report     *DriftReport `json:"report"`
	ExportedAt time.Time    `json:"exported_at"`
}

func ExportJSON(r *DriftReport) ([]byte, error) {
	export := ExportData{
		Report:     r,
		ExportedAt: time.Now().UTC(),
	}
	return json.MarshalIndent(export, "", "  ")
}

func ExportCSV(r *DriftReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Metric", "Value"}); err != nil {
		return nil, err
	}

	rows := [][]string{
		{"Window Start", r.From.Format(time.RFC3339)},
		{"Window End", r.To.Format(time.RFC3339)},
		{"Total Webhook Writes", fmt.Sprintf("%d", r.TotalWebhookWrites)},
		{"Total Reconciliation Fixes", fmt.Sprintf("%d", r.TotalReconciliationFixes)},
	}

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	if err := w.Write([]string{"", ""}); err != nil {
		return nil, err
	}
	if err := w.Write([]string{"Daily Activity", ""}); err != nil {
		return nil, err
	}
	if err := w.Write([]string{"Date", "Webhook Writes", "Reconciliation Fixes"}); err != nil {
		return nil, err
	}

	for _, d := range r.Days {
		row := []string{
			d.Date.Format("2006-01-02"),
			fmt.Sprintf("%d", d.WebhookWrites),
			fmt.Sprintf("%d", d.ReconciliationFixes),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
