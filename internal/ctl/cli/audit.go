package cli

import (
	"fmt"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
	"github.com/JovieInc/Jovie-sub015/internal/ctl/output"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit <user>",
	Short: "Show a user's billing audit trail",
	Long: `Show the most recent billing state transitions recorded for a user,
newest first. Each row is one write: who made it (webhook or
reconciliation), what event drove it, and how the entitlement moved.

Examples:
  billingctl audit 7d8a4e0e-37c5-4f54-8b3b-29d52e5c7a10
  billingctl audit cus_Pj2kXq8vN3 --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

var auditLimit int32

func init() {
	auditCmd.Flags().Int32Var(&auditLimit, "limit", 20, "Maximum entries to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	requireDatabase()
	ctx := GetContext()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := resolveUser(ctx, st, args[0])
	if err != nil {
		return err
	}

	entries, err := st.ListAuditEntries(ctx, rec.UserID, auditLimit)
	if err != nil {
		return fmt.Errorf("failed to load audit trail: %w", err)
	}

	if jsonOutput {
		return printer.JSON(entries)
	}

	if len(entries) == 0 {
		printer.Info("No audit entries for %s", rec.UserID)
		return nil
	}

	printer.Section(fmt.Sprintf("Audit Trail (%s)", rec.Email))
	table := output.NewTable([]string{"WHEN", "SOURCE", "EVENT", "ENTITLEMENT", "REASON"}, quietMode)
	for _, e := range entries {
		table.Append([]string{
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			string(e.Source),
			string(e.EventType),
			transition(e.Before, e.After),
			e.Reason,
		})
	}
	table.Render()
	return nil
}

// transition renders an entitlement move compactly, e.g. "free -> pro".
func transition(before, after audit.Snapshot) string {
	return fmt.Sprintf("%s -> %s", planLabel(before), planLabel(after))
}

func planLabel(s audit.Snapshot) string {
	if !s.IsPro {
		return "free"
	}
	if s.Plan == "" {
		return "pro"
	}
	return s.Plan
}
