package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/metrics"
	"github.com/JovieInc/Jovie-sub015/internal/store"
)

// UserLister pages through users holding a subscription id.
type UserLister interface {
	ListUsersWithSubscription(ctx context.Context, afterUserID uuid.UUID, limit int32) ([]store.BillingRecord, error)
}

// Stats accumulates the outcome counts of one sweep.
type Stats struct {
	Scanned        int
	Consistent     int
	Fixed          int
	FixFailed      int
	ProviderErrors int
}

func (s *Stats) add(outcome CheckOutcome) {
	s.Scanned++
	switch outcome {
	case OutcomeConsistent, OutcomeNoSubscription:
		s.Consistent++
	case OutcomeFixed:
		s.Fixed++
	case OutcomeFixFailed:
		s.FixFailed++
	case OutcomeProviderError:
		s.ProviderErrors++
	}
}

// Drifted reports whether the sweep found or left any inconsistency.
func (s *Stats) Drifted() bool {
	return s.Fixed > 0 || s.FixFailed > 0
}

// Sweeper runs one reconciliation pass over every user with a stored
// subscription. Users are checked with bounded concurrency to stay
// inside provider rate limits, and each check is failure-isolated: one
// user's error is logged and counted, never aborts the sweep.
type Sweeper struct {
	users       UserLister
	checker     *Checker
	batchSize   int32
	concurrency int
	onResult    func(rec store.BillingRecord, outcome CheckOutcome)
}

func NewSweeper(users UserLister, checker *Checker, batchSize int32, concurrency int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Sweeper{
		users:       users,
		checker:     checker,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// WithResultHook registers a callback invoked after every checked user,
// used by the CLI for progress reporting. The hook may be called from
// multiple goroutines.
func (s *Sweeper) WithResultHook(hook func(rec store.BillingRecord, outcome CheckOutcome)) *Sweeper {
	s.onResult = hook
	return s
}

// Run sweeps until the user listing is exhausted or ctx is canceled.
// The returned stats cover everything checked before the stop.
func (s *Sweeper) Run(ctx context.Context) (Stats, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	var (
		mu    sync.Mutex
		stats Stats
	)

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := s.users.ListUsersWithSubscription(ctx, after, s.batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to list subscribed users: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, rec := range batch {
			g.Go(func() error {
				outcome, err := s.checker.CheckUser(gctx, &rec)
				if err != nil {
					log.Warn("reconciliation check failed",
						"user_id", rec.UserID,
						"outcome", outcome,
						"error", err,
					)
				}

				mu.Lock()
				stats.add(outcome)
				mu.Unlock()

				if s.onResult != nil {
					s.onResult(rec, outcome)
				}
				return nil
			})
		}
		_ = g.Wait()

		after = batch[len(batch)-1].UserID
		if len(batch) < int(s.batchSize) {
			break
		}
	}

	metrics.ObserveSweep(time.Since(start))
	log.Info("reconciliation sweep complete",
		"scanned", stats.Scanned,
		"consistent", stats.Consistent,
		"fixed", stats.Fixed,
		"fix_failed", stats.FixFailed,
		"provider_errors", stats.ProviderErrors,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return stats, nil
}
