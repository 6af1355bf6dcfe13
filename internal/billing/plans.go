package billing

import (
	"github.com/stripe/stripe-go/v83"
)

// Plan codes stored on the billing record. Which features each plan grants
// is the product's concern; this engine only keeps the code in sync with
// the provider.
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"
)

// IsProStatus maps a provider subscription status to the boolean
// entitlement. Active and trialing grant access; past_due, canceled,
// unpaid, incomplete and everything else do not.
func IsProStatus(status stripe.SubscriptionStatus) bool {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// PriceTable maps provider price ids to internal plan codes.
type PriceTable map[string]string

func NewPriceTable(priceIDPro, priceIDTeam string) PriceTable {
	table := PriceTable{}
	if priceIDPro != "" {
		table[priceIDPro] = PlanPro
	}
	if priceIDTeam != "" {
		table[priceIDTeam] = PlanTeam
	}
	return table
}

// PlanForSubscription derives the stored plan code from the subscription's
// first line item. The second return reports whether the price mapped
// cleanly; entitled subscriptions with an unmapped price fall back to
// PlanPro so a price-table gap never drops a paying customer.
func (t PriceTable) PlanForSubscription(sub *stripe.Subscription, entitled bool) (string, bool) {
	if !entitled {
		return PlanFree, true
	}

	priceID := SubscriptionPriceID(sub)
	if priceID != "" {
		if plan, ok := t[priceID]; ok {
			return plan, true
		}
	}
	return PlanPro, false
}

// SubscriptionPriceID returns the price id of the subscription's first line
// item, or empty when the item list is absent.
func SubscriptionPriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}
