package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/JovieInc/Jovie-sub015/internal/ctl/output"
	"github.com/JovieInc/Jovie-sub015/internal/report"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report webhook vs reconciliation write activity",
	Long: `Break down billing writes by day and origin.

A healthy system shows webhook writes and near-zero reconciliation
fixes; climbing fix counts mean webhooks are being lost or delayed.

Examples:
  billingctl report --days 30
  billingctl report --days 7 --format csv > drift.csv
  billingctl report --chart drift.png`,
	RunE: runReport,
}

var (
	reportDays   int
	reportFormat string
	reportChart  string
)

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "Window size in days, ending now")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "Output format: table, csv, or json")
	reportCmd.Flags().StringVar(&reportChart, "chart", "", "Also write a PNG chart to this path")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}

	requireDatabase()
	ctx := GetContext()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -reportDays)

	rep, err := report.Build(ctx, st, from, to)
	if err != nil {
		return err
	}

	if reportChart != "" {
		png, err := report.RenderChart(rep, 1000, 500)
		if err != nil {
			return fmt.Errorf("failed to render chart: %w", err)
		}
		if err := os.WriteFile(reportChart, png, 0o644); err != nil {
			return fmt.Errorf("failed to write chart: %w", err)
		}
		printer.Success("Chart written to %s", reportChart)
	}

	format := report.ExportFormat(reportFormat)
	if jsonOutput {
		format = report.ExportFormatJSON
	}

	switch format {
	case report.ExportFormatJSON:
		data, err := report.ExportJSON(rep)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	case report.ExportFormatCSV:
		data, err := report.ExportCSV(rep)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	case "table":
		renderReportTable(rep)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, csv, or json)", reportFormat)
	}
}

func renderReportTable(rep *report.DriftReport) {
	printer.Section(fmt.Sprintf("Billing Write Activity (%s to %s)",
		rep.From.Format("2006-01-02"), rep.To.Format("2006-01-02")))

	table := output.NewTable([]string{"DATE", "WEBHOOK", "RECONCILIATION"}, quietMode)
	for _, d := range rep.Days {
		table.Append([]string{
			d.Date.Format("2006-01-02"),
			fmt.Sprintf("%d", d.WebhookWrites),
			fmt.Sprintf("%d", d.ReconciliationFixes),
		})
	}
	table.Render()

	printer.Println()
	printer.Info("%d webhook writes, %d reconciliation fixes", rep.TotalWebhookWrites, rep.TotalReconciliationFixes)
	if rep.TotalReconciliationFixes > 0 {
		printer.Warn("Reconciliation repaired state %d times in this window; check webhook delivery health.", rep.TotalReconciliationFixes)
	}
}
