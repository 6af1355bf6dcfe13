// Package report assembles drift reports from the billing audit trail.
// A report covers a time window and breaks the audit volume down by day
// and source, so operators can see how much state churn arrived through
// webhooks versus how much the reconciliation sweep had to repair.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
	"github.com/JovieInc/Jovie-sub015/internal/store"
)

// ActivityCounter provides per-day audit activity counts. *store.Store
// satisfies it.
type ActivityCounter interface {
	CountAuditEntriesByDay(ctx context.Context, from, to time.Time) ([]store.DailyActivity, error)
}

// DailyDrift is one day of audit activity split by source.
type DailyDrift struct {
	Date                time.Time `json:"date"`
	WebhookWrites       int64     `json:"webhook_writes"`
	ReconciliationFixes int64     `json:"reconciliation_fixes"`
}

// DriftReport is the assembled day-by-day activity for a window.
// Days carries one entry per calendar day, including days with no
// activity, so the series plots without gaps.
type DriftReport struct {
	From                     time.Time    `json:"from"`
	To                       time.Time    `json:"to"`
	Days                     []DailyDrift `json:"days"`
	TotalWebhookWrites       int64        `json:"total_webhook_writes"`
	TotalReconciliationFixes int64        `json:"total_reconciliation_fixes"`
}

// Build aggregates audit activity in [from, to) into a drift report.
// Days are bucketed in UTC to match how the store groups them.
func Build(ctx context.Context, counter ActivityCounter, from, to time.Time) (*DriftReport, error) {
	from = from.UTC()
	to = to.UTC()
	if !to.After(from) {
		return nil, fmt.Errorf("report window must end after it starts: %s >= %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	activity, err := counter.CountAuditEntriesByDay(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit activity: %w", err)
	}

	report := &DriftReport{From: from, To: to}

	index := make(map[string]int)
	for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.AddDate(0, 0, 1) {
		index[day.Format("2006-01-02")] = len(report.Days)
		report.Days = append(report.Days, DailyDrift{Date: day})
	}

	for _, a := range activity {
		i, ok := index[a.Day.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		switch a.Source {
		case audit.SourceWebhook:
			report.Days[i].WebhookWrites += a.Count
			report.TotalWebhookWrites += a.Count
		case audit.SourceReconciliation:
			report.Days[i].ReconciliationFixes += a.Count
			report.TotalReconciliationFixes += a.Count
		}
	}

	return report, nil
}
