package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JovieInc/Jovie-sub015/internal/billing"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func openStore(ctx context.Context) (*store.Store, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetTimeout("database"))
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database unreachable: %w", err)
	}

	return store.New(pool), pool.Close, nil
}

func newProvider() (*billing.Client, error) {
	if !cfg.HasProvider() {
		return nil, fmt.Errorf("no Stripe key configured; set stripe_key in the config file or %s", "BILLINGCTL_STRIPE_KEY")
	}
	prices := billing.NewPriceTable(cfg.PriceIDPro, cfg.PriceIDTeam)
	return billing.NewClient(cfg.StripeKey, "", prices, cfg.GetTimeout("provider")), nil
}

// recordSource is the lookup surface resolveUser needs. *store.Store
// satisfies it.
type recordSource interface {
	GetBillingRecord(ctx context.Context, userID uuid.UUID) (*store.BillingRecord, error)
	GetUserByExternalAuthID(ctx context.Context, externalAuthID string) (*store.BillingRecord, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*store.BillingRecord, error)
	GetUserByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*store.BillingRecord, error)
}

// resolveUser accepts the identifiers operators actually have at hand:
// an internal user uuid, a cus_/sub_ Stripe id, or an external auth id.
func resolveUser(ctx context.Context, src recordSource, arg string) (*store.BillingRecord, error) {
	var (
		rec *store.BillingRecord
		err error
	)

	switch {
	case strings.HasPrefix(arg, "cus_"):
		rec, err = src.GetUserByStripeCustomerID(ctx, arg)
	case strings.HasPrefix(arg, "sub_"):
		rec, err = src.GetUserByStripeSubscriptionID(ctx, arg)
	default:
		if id, parseErr := uuid.Parse(arg); parseErr == nil {
			rec, err = src.GetBillingRecord(ctx, id)
		} else {
			rec, err = src.GetUserByExternalAuthID(ctx, arg)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no user matching %q", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup failed for %q: %w", arg, err)
	}
	return rec, nil
}
