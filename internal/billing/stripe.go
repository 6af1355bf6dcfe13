package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/JovieInc/Jovie-sub015/internal/metrics"
)

const defaultProviderTimeout = 10 * time.Second

// Client wraps the Stripe SDK client with the two read operations this
// engine needs. A nil Client is valid and reports unconfigured, so callers
// can wire billing optionally without nil checks at every site.
type Client struct {
	client        *stripe.Client
	webhookSecret string
	prices        PriceTable
	timeout       time.Duration
}

func NewClient(secretKey, webhookSecret string, prices PriceTable, timeout time.Duration) *Client {
	if secretKey == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	return &Client{
		client:        stripe.NewClient(secretKey),
		webhookSecret: webhookSecret,
		prices:        prices,
		timeout:       timeout,
	}
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.client != nil
}

func (c *Client) WebhookSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

func (c *Client) Prices() PriceTable {
	if c == nil {
		return nil
	}
	return c.prices
}

// RetrieveSubscription reads current provider truth for a subscription.
// Webhook payload snapshots go stale the moment two events race, so every
// handler reads back before writing.
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("stripe is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	sub, err := c.client.V1Subscriptions.Retrieve(ctx, id, nil)
	metrics.ObserveProviderCall("subscription_retrieve", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", id, err)
	}
	return sub, nil
}

func (c *Client) RetrieveCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("stripe is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	customer, err := c.client.V1Customers.Retrieve(ctx, id, nil)
	metrics.ObserveProviderCall("customer_retrieve", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve customer %s: %w", id, err)
	}
	return customer, nil
}
