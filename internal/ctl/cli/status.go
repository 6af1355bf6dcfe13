package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/JovieInc/Jovie-sub015/internal/billing"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <user>",
	Short: "Show a user's stored billing state",
	Long: `Show the billing state stored for one user.

The user can be identified by internal uuid, Stripe customer id (cus_...),
Stripe subscription id (sub_...), or external auth id.

Examples:
  billingctl status 7d8a4e0e-37c5-4f54-8b3b-29d52e5c7a10
  billingctl status cus_Pj2kXq8vN3
  billingctl status user_2NiWoZK2kHlqx --live`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusLive bool

func init() {
	statusCmd.Flags().BoolVar(&statusLive, "live", false, "Also fetch live state from Stripe and diff it")
}

type statusResult struct {
	User           *store.BillingRecord `json:"user"`
	ProviderStatus string               `json:"provider_status,omitempty"`
	CustomerEmail  string               `json:"customer_email,omitempty"`
	ExpectedIsPro  *bool                `json:"expected_is_pro,omitempty"`
	Drifted        *bool                `json:"drifted,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	result := statusResult{User: rec}

	if statusLive {
		if err := fetchLiveStatus(ctx, rec, &result); err != nil {
			return err
		}
	}

	if jsonOutput {
		return printer.JSON(result)
	}

	printer.Section("Billing State")
	printer.KeyValue("User", rec.UserID.String())
	printer.KeyValue("Email", rec.Email)
	if rec.ExternalAuthID != "" {
		printer.KeyValue("External ID", rec.ExternalAuthID)
	}
	printer.KeyValue("Entitlement", printer.Entitlement(rec.IsPro, rec.Plan))
	printer.KeyValue("Customer", orDash(rec.StripeCustomerID))
	printer.KeyValue("Subscription", orDash(rec.StripeSubscriptionID))
	printer.KeyValue("Version", fmt.Sprintf("%d", rec.BillingVersion))
	printer.KeyValue("Last Event", formatTime(rec.LastBillingEventAt))
	printer.KeyValue("Updated", formatTime(rec.UpdatedAt))

	if statusLive {
		printer.Section("Provider")
		printer.KeyValue("Status", result.ProviderStatus)
		if result.CustomerEmail != "" {
			printer.KeyValue("Customer Email", result.CustomerEmail)
			if result.CustomerEmail != rec.Email {
				printer.Warn("Stripe customer %s belongs to %s, not the stored email.", rec.StripeCustomerID, result.CustomerEmail)
			}
		}
		if result.Drifted != nil {
			if *result.Drifted {
				printer.Warn("Stored entitlement disagrees with Stripe. Run 'billingctl reconcile %s'.", rec.UserID)
			} else {
				printer.Success("Stored entitlement matches Stripe")
			}
		}
	}

	return nil
}

func fetchLiveStatus(ctx context.Context, rec *store.BillingRecord, result *statusResult) error {
	if rec.StripeSubscriptionID == "" && rec.StripeCustomerID == "" {
		result.ProviderStatus = "none"
		return nil
	}

	provider, err := newProvider()
	if err != nil {
		return err
	}

	if rec.StripeSubscriptionID == "" {
		return fetchLiveCustomer(ctx, provider, rec, result)
	}

	sub, err := provider.RetrieveSubscription(ctx, rec.StripeSubscriptionID)
	if err != nil {
		classified := billing.Classify(err)
		if classified.Kind == billing.ErrorKindNotFound {
			result.ProviderStatus = "missing"
			drifted := rec.IsPro
			expected := false
			result.ExpectedIsPro = &expected
			result.Drifted = &drifted
			return nil
		}
		return fmt.Errorf("provider lookup failed: %w", err)
	}

	expected := billing.IsProStatus(sub.Status)
	drifted := expected != rec.IsPro
	result.ProviderStatus = string(sub.Status)
	result.ExpectedIsPro = &expected
	result.Drifted = &drifted
	return nil
}

// fetchLiveCustomer covers records that carry a customer link but no
// subscription: confirm the customer still exists and surface its email,
// which is where a crossed customer linkage shows up.
func fetchLiveCustomer(ctx context.Context, provider *billing.Client, rec *store.BillingRecord, result *statusResult) error {
	customer, err := provider.RetrieveCustomer(ctx, rec.StripeCustomerID)
	if err != nil {
		if billing.Classify(err).Kind == billing.ErrorKindNotFound {
			result.ProviderStatus = "customer_missing"
			return nil
		}
		return fmt.Errorf("provider lookup failed: %w", err)
	}

	result.ProviderStatus = "no_subscription"
	result.CustomerEmail = customer.Email
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
