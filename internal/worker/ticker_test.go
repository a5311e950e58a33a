package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountkit/lifecycle-api/internal/model"
	"github.com/accountkit/lifecycle-api/internal/repository"
	"github.com/accountkit/lifecycle-api/internal/repository/memory"
	"github.com/accountkit/lifecycle-api/pkg/clock"
	"github.com/accountkit/lifecycle-api/pkg/logger"
	"github.com/accountkit/lifecycle-api/pkg/metrics"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type executorResult struct {
	executed bool
	err      error
}

type fakeExecutor struct {
	results map[uuid.UUID]executorResult
	calls   []uuid.UUID
}

func (f *fakeExecutor) ExecuteDueAction(ctx context.Context, action *model.ScheduledAction) (bool, error) {
	f.calls = append(f.calls, action.ID)
	res := f.results[action.ID]
	return res.executed, res.err
}

func seedPendingAction(t *testing.T, store *memory.Store, scheduledFor time.Time) uuid.UUID {
	t.Helper()
	accountID := uuid.New()
	actionID := uuid.New()
	err := store.InTx(context.Background(), func(tx repository.Tx) error {
		if err := tx.InsertAccount(context.Background(), &model.Account{
			ID:                 accountID,
			Status:             model.AccountStatusScheduledDeactivation,
			CurrentPeriodStart: testStart,
			CreatedAt:          testStart,
			UpdatedAt:          testStart,
		}); err != nil {
			return err
		}
		return tx.InsertScheduledAction(context.Background(), &model.ScheduledAction{
			ID:           actionID,
			AccountID:    accountID,
			ActionType:   model.ScheduledActionDeactivate,
			ScheduledFor: scheduledFor,
			Status:       model.ScheduledActionPending,
			CreatedAt:    testStart,
		})
	})
	require.NoError(t, err)
	return actionID
}

func newTestTicker(store *memory.Store, executor Executor, clk clock.Clock) (*Ticker, *metrics.Metrics) {
	m := metrics.New("test")
	return NewTicker(store, executor, clk, Config{Interval: time.Minute}, logger.NewNop(), m), m
}

func TestNewTickerRejectsZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		NewTicker(memory.NewStore(), &fakeExecutor{}, clock.NewMock(testStart), Config{}, logger.NewNop(), metrics.New("test"))
	})
}

func TestRunOnceExecutesDueActions(t *testing.T) {
	store := memory.NewStore()
	clk := clock.NewMock(testStart)

	due := seedPendingAction(t, store, testStart.Add(-time.Minute))
	future := seedPendingAction(t, store, testStart.Add(time.Hour))

	executor := &fakeExecutor{results: map[uuid.UUID]executorResult{
		due: {executed: true},
	}}
	ticker, m := newTestTicker(store, executor, clk)

	require.NoError(t, ticker.RunOnce(context.Background()))

	require.Len(t, executor.calls, 1)
	assert.Equal(t, due, executor.calls[0])
	assert.NotContains(t, executor.calls, future)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionsExecuted))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActionsFailed))
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	store := memory.NewStore()
	clk := clock.NewMock(testStart)

	first := seedPendingAction(t, store, testStart.Add(-2*time.Minute))
	second := seedPendingAction(t, store, testStart.Add(-time.Minute))

	executor := &fakeExecutor{results: map[uuid.UUID]executorResult{
		first:  {err: errors.New("deadlock detected")},
		second: {executed: true},
	}}
	ticker, m := newTestTicker(store, executor, clk)

	// One row failing must not abort the pass.
	require.NoError(t, ticker.RunOnce(context.Background()))

	assert.Len(t, executor.calls, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionsExecuted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionsFailed))
}

func TestRunOnceCountsSkips(t *testing.T) {
	store := memory.NewStore()
	clk := clock.NewMock(testStart)

	resolved := seedPendingAction(t, store, testStart.Add(-time.Minute))

	executor := &fakeExecutor{results: map[uuid.UUID]executorResult{
		resolved: {executed: false},
	}}
	ticker, m := newTestTicker(store, executor, clk)

	require.NoError(t, ticker.RunOnce(context.Background()))

	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActionsExecuted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionsSkipped))
}

func TestStartStopsOnContextCancel(t *testing.T) {
	store := memory.NewStore()
	clk := clock.NewMock(testStart)
	ticker, _ := newTestTicker(store, &fakeExecutor{}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ticker.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop after context cancellation")
	}
}
