package cli

import (
	"fmt"
	"strings"

	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <user>",
	Short: "Open the user's subscription in the Stripe dashboard",
	Long: `Open the Stripe dashboard page for a user's subscription, or for the
customer when no subscription is stored.

Examples:
  billingctl open 7d8a4e0e-37c5-4f54-8b3b-29d52e5c7a10
  billingctl open sub_1OkXq2LkdIwHu7`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
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

	url, err := dashboardURL(cfg.DashboardURL, rec)
	if err != nil {
		return err
	}

	printer.Info("Opening %s", url)
	return browser.OpenURL(url)
}

func dashboardURL(base string, rec *store.BillingRecord) (string, error) {
	base = strings.TrimRight(base, "/")
	switch {
	case rec.StripeSubscriptionID != "":
		return fmt.Sprintf("%s/subscriptions/%s", base, rec.StripeSubscriptionID), nil
	case rec.StripeCustomerID != "":
		return fmt.Sprintf("%s/customers/%s", base, rec.StripeCustomerID), nil
	default:
		return "", fmt.Errorf("%s has no Stripe customer or subscription on record", rec.UserID)
	}
}
