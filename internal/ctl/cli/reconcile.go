package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JovieInc/Jovie-sub015/internal/ctl/output"
	"github.com/JovieInc/Jovie-sub015/internal/reconcile"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [user...]",
	Short: "Reconcile stored entitlement against Stripe",
	Long: `Reconcile stored billing state against the subscription Stripe holds.

Drifted records are repaired immediately and the repair is written to
the audit trail, exactly as the periodic sweep would do it. Several
users can be given at once, which is the usual shape during an
incident: paste the list of affected accounts and let each one be
checked in turn.

Examples:
  billingctl reconcile 7d8a4e0e-37c5-4f54-8b3b-29d52e5c7a10
  billingctl reconcile cus_Pj2kXq8vN3 cus_Qm4xTw1bR7
  billingctl reconcile --all
  billingctl reconcile --all --concurrency 16`,
	Args: cobra.ArbitraryArgs,
	RunE: runReconcile,
}

var (
	reconcileAll         bool
	reconcileConcurrency int
)

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "Sweep every user with a stored subscription")
	reconcileCmd.Flags().IntVar(&reconcileConcurrency, "concurrency", 0, "Concurrent provider reads (default from config)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if reconcileAll == (len(args) > 0) {
		return fmt.Errorf("specify either one or more users, or --all")
	}

	requireDatabase()
	ctx := GetContext()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := newProvider()
	if err != nil {
		return err
	}

	fixer := reconcile.NewFixer(store.NewWriter(st.Pool()), provider.Prices())
	checker := reconcile.NewChecker(provider, fixer)

	switch {
	case reconcileAll:
		return sweepAll(ctx, st, checker)
	case len(args) == 1:
		return reconcileOne(ctx, st, checker, args[0])
	default:
		return reconcileList(ctx, st, checker, args)
	}
}

func reconcileOne(ctx context.Context, st *store.Store, checker *reconcile.Checker, arg string) error {
	rec, err := resolveUser(ctx, st, arg)
	if err != nil {
		return err
	}

	outcome, checkErr := checker.CheckUser(ctx, rec)

	if jsonOutput {
		result := map[string]any{
			"user_id": rec.UserID,
			"outcome": outcome,
		}
		if checkErr != nil {
			result["error"] = checkErr.Error()
		}
		if err := printer.JSON(result); err != nil {
			return err
		}
	}

	switch outcome {
	case reconcile.OutcomeConsistent:
		printer.Success("Stored state matches Stripe for %s", rec.UserID)
	case reconcile.OutcomeFixed:
		printer.Success("Drift repaired for %s", rec.UserID)
	case reconcile.OutcomeNoSubscription:
		printer.Info("%s has no subscription on record; nothing to reconcile", rec.UserID)
	case reconcile.OutcomeFixFailed:
		return fmt.Errorf("drift found for %s but the fix failed: %w", rec.UserID, checkErr)
	case reconcile.OutcomeProviderError:
		return fmt.Errorf("could not read the subscription for %s from Stripe: %w", rec.UserID, checkErr)
	}
	return nil
}

// reconcileList works through an explicit user list sequentially so the
// progress bar and per-user lines stay readable when pasted into an
// incident thread.
func reconcileList(ctx context.Context, st *store.Store, checker *reconcile.Checker, args []string) error {
	bar := output.NewProgress(len(args), "reconciling",
		output.ProgressWithQuiet(quietMode || jsonOutput))

	type listResult struct {
		Arg     string                 `json:"arg"`
		UserID  string                 `json:"user_id,omitempty"`
		Outcome reconcile.CheckOutcome `json:"outcome,omitempty"`
		Error   string                 `json:"error,omitempty"`
	}

	var (
		results []listResult
		fixed   int
		clean   int
		failed  int
	)

	for _, arg := range args {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := listResult{Arg: arg}
		rec, err := resolveUser(ctx, st, arg)
		if err != nil {
			res.Error = err.Error()
			failed++
			printer.SweepLine(arg, "lookup_failed")
		} else {
			res.UserID = rec.UserID.String()
			outcome, checkErr := checker.CheckUser(ctx, rec)
			res.Outcome = outcome
			if checkErr != nil {
				res.Error = checkErr.Error()
			}
			switch outcome {
			case reconcile.OutcomeConsistent, reconcile.OutcomeNoSubscription:
				clean++
			case reconcile.OutcomeFixed:
				fixed++
				printer.SweepLine(rec.UserID.String(), string(outcome))
			default:
				failed++
				printer.SweepLine(rec.UserID.String(), string(outcome))
			}
		}
		results = append(results, res)
		bar.Increment()
	}
	bar.Finish()

	if jsonOutput {
		if err := printer.JSON(results); err != nil {
			return err
		}
	}

	printer.Summary(clean, fixed, failed)
	printer.Info("checked %d users in %s", len(args), bar.Duration().Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d users did not reconcile cleanly", failed, len(args))
	}
	return nil
}

func sweepAll(ctx context.Context, st *store.Store, checker *reconcile.Checker) error {
	concurrency := reconcileConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}

	sweepCtx, cancel := context.WithTimeout(ctx, cfg.GetTimeout("sweep"))
	defer cancel()

	spinner := output.NewSpinner("reconciling subscribed users", quietMode || jsonOutput)

	var (
		mu      sync.Mutex
		checked int
	)
	sweeper := reconcile.NewSweeper(st, checker, int32(cfg.BatchSize), concurrency).
		WithResultHook(func(rec store.BillingRecord, outcome reconcile.CheckOutcome) {
			mu.Lock()
			defer mu.Unlock()
			checked++
			spinner.Update(fmt.Sprintf("checked %d users", checked))
			switch outcome {
			case reconcile.OutcomeConsistent, reconcile.OutcomeNoSubscription:
			default:
				printer.SweepLine(rec.UserID.String(), string(outcome))
			}
		})

	stats, err := sweeper.Run(sweepCtx)
	spinner.Finish()
	if err != nil {
		return fmt.Errorf("sweep aborted after %d users: %w", stats.Scanned, err)
	}

	if jsonOutput {
		if err := printer.JSON(stats); err != nil {
			return err
		}
	}

	printer.Summary(stats.Consistent, stats.Fixed, stats.FixFailed+stats.ProviderErrors)
	printer.Info("swept %d users in %s", stats.Scanned, spinner.Duration().Round(time.Millisecond))

	if stats.FixFailed > 0 || stats.ProviderErrors > 0 {
		return fmt.Errorf("%d of %d checks did not complete cleanly", stats.FixFailed+stats.ProviderErrors, stats.Scanned)
	}
	return nil
}
