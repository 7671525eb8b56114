// The reconciler is a one-shot batch job, run on a schedule by an
// external cron. It pages through subscriptions whose billing period has
// ended and applies whatever is pending on each: scheduled plan changes
// and expirations. Renewal billing stays with the processor webhooks.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/config"
	"github.com/renewkit/renewkit/internal/lifecycle"
	"github.com/renewkit/renewkit/internal/logging"
	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

type jobConfig struct {
	Log logging.Config
	DB  store.Config

	PlansPath string `env:"PLANS_PATH" envDefault:"configs/plans.yaml"`
	BatchSize int    `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
}

func main() {
	ctx := context.Background()

	var cfg jobConfig
	config.MustLoad(&cfg)

	log := logging.New(cfg.Log)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "reconciliation run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg jobConfig, log *slog.Logger) error {
	pool, err := store.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	cat, err := catalog.New(ctx, catalog.FileSource{Path: cfg.PlansPath})
	if err != nil {
		return err
	}

	repo := store.NewPostgres(pool)
	engine := lifecycle.New(repo, cat, lifecycle.WithLogger(log))

	clock := time.Now().UTC()
	var processed, failed int

	for {
		due, err := repo.ListDueForReconciliation(ctx, clock, cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			break
		}

		progressed := false
		for _, rec := range due {
			before := rec.Version
			after, err := reconcileOne(ctx, engine, rec)
			if err != nil {
				failed++
				log.ErrorContext(ctx, "failed to reconcile subscription",
					"subscription_id", rec.ID, "user_id", rec.UserID, "error", err)
				continue
			}
			processed++
			if after.Version != before || after.EndDate.After(clock) || after.Status.IsTerminal() {
				progressed = true
			}
		}

		// A page where nothing changed would repeat forever; stop and let
		// the next scheduled run pick the stragglers up.
		if !progressed {
			break
		}
	}

	log.InfoContext(ctx, "reconciliation run complete",
		"processed", processed, "failed", failed)
	return nil
}

// reconcileOne retries exactly once after a concurrent mutation.
// Reconciliation is idempotent so the retry simply re-evaluates the
// fresh record.
func reconcileOne(ctx context.Context, engine *lifecycle.Engine, rec *subscription.Record) (*subscription.Record, error) {
	out, err := engine.ReconcileAtPeriodEnd(ctx, rec.ID)
	if subscription.IsConflictError(err) {
		out, err = engine.ReconcileAtPeriodEnd(ctx, rec.ID)
	}
	return out, err
}
