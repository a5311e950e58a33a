package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountkit/lifecycle-api/internal/model"
	"github.com/accountkit/lifecycle-api/internal/repository"
	"github.com/accountkit/lifecycle-api/pkg/clock"
	"github.com/accountkit/lifecycle-api/pkg/logger"
	"github.com/accountkit/lifecycle-api/pkg/metrics"
)

// Executor applies one due scheduled action with the lock-and-recheck guard.
type Executor interface {
	ExecuteDueAction(ctx context.Context, action *model.ScheduledAction) (bool, error)
}

type Config struct {
	Interval time.Duration
}

// Ticker periodically scans the scheduled-action queue and executes due rows.
// Running several Ticker processes at once is safe: the executor's row locks
// and guard recheck make re-application of a resolved row a no-op.
type Ticker struct {
	store    repository.Store
	executor Executor
	clock    clock.Clock
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewTicker(store repository.Store, executor Executor, clk clock.Clock, config Config, logger *logger.Logger, metrics *metrics.Metrics) *Ticker {
	if config.Interval <= 0 {
		panic("Interval must be greater than 0")
	}

	return &Ticker{
		store:    store,
		executor: executor,
		clock:    clk,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start runs the scan loop until ctx is cancelled.
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	t.logger.Info("starting scheduled action ticker")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("shutting down scheduled action ticker")
			return
		case <-ticker.C:
			if err := t.RunOnce(ctx); err != nil {
				t.logger.Error(err, "failed to process due actions")
			}
		}
	}
}

// RunOnce processes every currently due action. One row's failure never
// aborts the pass: the row is marked failed by the executor and the loop
// continues.
func (t *Ticker) RunOnce(ctx context.Context) error {
	timer := prometheus.NewTimer(t.metrics.TickDuration)
	defer timer.ObserveDuration()

	due, err := t.store.ListDueActions(ctx, t.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to list due actions: %w", err)
	}

	for _, action := range due {
		executed, err := t.executor.ExecuteDueAction(ctx, action)
		switch {
		case err != nil:
			t.metrics.ActionsFailed.Inc()
			t.logger.Error(err, "failed to execute scheduled action",
				"action_id", action.ID.String(),
				"account_id", action.AccountID.String())
		case executed:
			t.metrics.ActionsExecuted.Inc()
			t.logger.Info("executed scheduled action",
				"action_id", action.ID.String(),
				"account_id", action.AccountID.String())
		default:
			// Another actor resolved the row between the scan and the lock.
			t.metrics.ActionsSkipped.Inc()
			t.logger.Debug("skipped already-resolved scheduled action",
				"action_id", action.ID.String())
		}
	}

	return nil
}
