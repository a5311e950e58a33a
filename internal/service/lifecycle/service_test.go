package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountkit/lifecycle-api/internal/model"
	"github.com/accountkit/lifecycle-api/internal/repository"
	"github.com/accountkit/lifecycle-api/internal/repository/memory"
	"github.com/accountkit/lifecycle-api/pkg/clock"
	apperrors "github.com/accountkit/lifecycle-api/pkg/errors"
	"github.com/accountkit/lifecycle-api/pkg/logger"
	"github.com/accountkit/lifecycle-api/pkg/messaging"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store, *clock.Mock) {
	t.Helper()
	store := memory.NewStore()
	clk := clock.NewMock(testStart)
	svc := NewService(store, clk, messaging.NewNoop(), logger.NewNop())
	return svc, store, clk
}

func testActor() *model.Actor {
	return &model.Actor{ID: uuid.New(), Role: "admin"}
}

func strPtr(s string) *string { return &s }

func mustAccount(t *testing.T, store repository.Store, id uuid.UUID) *model.Account {
	t.Helper()
	acc, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func openRecords(t *testing.T, store repository.Store, id uuid.UUID) []*model.ActivityRecord {
	t.Helper()
	records, err := store.ListActivity(context.Background(), id, 0)
	require.NoError(t, err)
	var open []*model.ActivityRecord
	for _, rec := range records {
		if rec.LeftAt == nil {
			open = append(open, rec)
		}
	}
	return open
}

func TestCreateAccount(t *testing.T) {
	svc, store, _ := newTestService(t)
	actor := testActor()

	acc, err := svc.CreateAccount(context.Background(), actor, strPtr("signup"))
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusActive, acc.Status)
	assert.Equal(t, testStart, acc.CurrentPeriodStart)

	records, err := store.ListActivity(context.Background(), acc.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.ActionActivated, records[0].ActionType)
	assert.Nil(t, records[0].LeftAt)
	require.NotNil(t, records[0].PerformedBy)
	assert.Equal(t, actor.ID, *records[0].PerformedBy)
}

func TestDeactivateImmediate(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), testActor(), nil)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	result, err := svc.Deactivate(context.Background(), acc.ID, DeactivateParams{Reason: strPtr("abuse")}, testActor())
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusInactive, result.Status)
	assert.Nil(t, result.ScheduledFor)

	got := mustAccount(t, store, acc.ID)
	assert.Equal(t, model.AccountStatusInactive, got.Status)
	assert.Nil(t, got.ScheduledDeactivationAt)

	records, err := store.ListActivity(context.Background(), acc.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.ActionDeactivatedImmediate, records[0].ActionType)

	// Inactive accounts have no open period.
	assert.Empty(t, openRecords(t, store, acc.ID))
}

func TestDeactivateImmediateTwice(t *testing.T) {
	svc, _, _ := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{}, nil)
	require.NoError(t, err)

	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{}, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestDeactivateScheduled(t *testing.T) {
	svc, store, _ := newTestService(t)
	actor := testActor()
	acc, err := svc.CreateAccount(context.Background(), actor, nil)
	require.NoError(t, err)

	at := testStart.Add(48 * time.Hour)
	result, err := svc.Deactivate(context.Background(), acc.ID, DeactivateParams{
		ScheduledFor: &at,
		Reason:       strPtr("contract end"),
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusScheduledDeactivation, result.Status)
	require.NotNil(t, result.ScheduledFor)
	assert.Equal(t, at, *result.ScheduledFor)

	got := mustAccount(t, store, acc.ID)
	assert.Equal(t, model.AccountStatusScheduledDeactivation, got.Status)
	require.NotNil(t, got.ScheduledDeactivationAt)
	assert.Equal(t, at, *got.ScheduledDeactivationAt)
	assert.Equal(t, testStart, got.CurrentPeriodStart)

	actions, err := store.ListScheduledActions(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ScheduledActionPending, actions[0].Status)
	assert.Equal(t, at, actions[0].ScheduledFor)

	// The marker record is closed; the membership period stays open.
	open := openRecords(t, store, acc.ID)
	require.Len(t, open, 1)
	assert.Equal(t, model.ActionActivated, open[0].ActionType)
}

func TestDeactivateScheduledRejectsPast(t *testing.T) {
	svc, _, _ := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	for name, at := range map[string]time.Time{
		"past":        testStart.Add(-time.Hour),
		"exactly now": testStart,
	} {
		t.Run(name, func(t *testing.T) {
			at := at
			_, err := svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidScheduleTime))
		})
	}
}

func TestDeactivateScheduledConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)

	later := testStart.Add(2 * time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &later}, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrScheduleConflict))
}

func TestCancelSchedule(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(24 * time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	result, err := svc.CancelSchedule(context.Background(), acc.ID, strPtr("changed mind"), testActor())
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusActive, result.Status)
	assert.Nil(t, result.ScheduledFor)

	got := mustAccount(t, store, acc.ID)
	assert.Equal(t, model.AccountStatusActive, got.Status)
	assert.Nil(t, got.ScheduledDeactivationAt)
	// Cancelling restores the original period, it does not start a new one.
	assert.Equal(t, testStart, got.CurrentPeriodStart)

	actions, err := store.ListScheduledActions(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ScheduledActionCancelled, actions[0].Status)

	open := openRecords(t, store, acc.ID)
	require.Len(t, open, 1)
	assert.Equal(t, model.ActionActivated, open[0].ActionType)
}

func TestCancelScheduleWithoutSchedule(t *testing.T) {
	svc, _, _ := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = svc.CancelSchedule(context.Background(), acc.ID, nil, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestReactivate(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{}, nil)
	require.NoError(t, err)

	clk.Advance(72 * time.Hour)
	reactivatedAt := clk.Now()
	result, err := svc.Reactivate(context.Background(), acc.ID, strPtr("appeal granted"), testActor())
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusActive, result.Status)

	got := mustAccount(t, store, acc.ID)
	assert.Equal(t, model.AccountStatusActive, got.Status)
	assert.Equal(t, reactivatedAt, got.CurrentPeriodStart)

	open := openRecords(t, store, acc.ID)
	require.Len(t, open, 1)
	assert.Equal(t, model.ActionReactivated, open[0].ActionType)
	assert.Equal(t, reactivatedAt, open[0].JoinedAt)
}

func TestReactivateWhileScheduled(t *testing.T) {
	svc, _, _ := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)

	// The schedule must be cancelled explicitly first.
	_, err = svc.Reactivate(context.Background(), acc.ID, nil, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestReactivateNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Reactivate(context.Background(), uuid.New(), nil, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestExecuteDueAction(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at, Reason: strPtr("sweep")}, testActor())
	require.NoError(t, err)

	// The ticker fires a little after the scheduled instant.
	clk.Set(at.Add(30 * time.Second))
	due, err := store.ListDueActions(context.Background(), clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	executed, err := svc.ExecuteDueAction(context.Background(), due[0])
	require.NoError(t, err)
	assert.True(t, executed)

	got := mustAccount(t, store, acc.ID)
	assert.Equal(t, model.AccountStatusInactive, got.Status)
	assert.Nil(t, got.ScheduledDeactivationAt)

	actions, err := store.ListScheduledActions(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ScheduledActionExecuted, actions[0].Status)
	require.NotNil(t, actions[0].ExecutedAt)

	records, err := store.ListActivity(context.Background(), acc.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	auto := records[0]
	assert.Equal(t, model.ActionAutoDeactivated, auto.ActionType)
	// System action: no performing admin, the period ends at the scheduled
	// instant and ActualLeftAt records when the scheduler fired.
	assert.Nil(t, auto.PerformedBy)
	require.NotNil(t, auto.LeftAt)
	assert.Equal(t, at, *auto.LeftAt)
	require.NotNil(t, auto.ActualLeftAt)
	assert.Equal(t, clk.Now(), *auto.ActualLeftAt)

	assert.Empty(t, openRecords(t, store, acc.ID))
}

func TestExecuteDueActionIdempotent(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)

	clk.Set(at.Add(time.Second))
	due, err := store.ListDueActions(context.Background(), clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	executed, err := svc.ExecuteDueAction(context.Background(), due[0])
	require.NoError(t, err)
	assert.True(t, executed)

	// A second delivery of the same action is a silent no-op.
	executed, err = svc.ExecuteDueAction(context.Background(), due[0])
	require.NoError(t, err)
	assert.False(t, executed)

	records, err := store.ListActivity(context.Background(), acc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestExecuteDueActionAfterCancel(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)

	clk.Set(at.Add(time.Second))
	due, err := store.ListDueActions(context.Background(), clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	_, err = svc.CancelSchedule(context.Background(), acc.ID, nil, nil)
	require.NoError(t, err)

	// The ticker still holds the stale due row; executing it must not
	// deactivate the account.
	executed, err := svc.ExecuteDueAction(context.Background(), due[0])
	require.NoError(t, err)
	assert.False(t, executed)

	got := mustAccount(t, store, acc.ID)
	assert.Equal(t, model.AccountStatusActive, got.Status)
}

func TestCancelVersusExecuteRace(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)

	clk.Set(at.Add(time.Second))
	due, err := store.ListDueActions(context.Background(), clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	var wg sync.WaitGroup
	var cancelErr, execErr error
	var executed bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = svc.CancelSchedule(context.Background(), acc.ID, nil, nil)
	}()
	go func() {
		defer wg.Done()
		executed, execErr = svc.ExecuteDueAction(context.Background(), due[0])
	}()
	wg.Wait()

	got := mustAccount(t, store, acc.ID)
	if cancelErr == nil && !executed {
		// Cancel won: the account stays active and the execution was skipped.
		require.NoError(t, execErr)
		assert.Equal(t, model.AccountStatusActive, got.Status)
	} else {
		// Execution won: the cancel must have been rejected.
		require.NoError(t, execErr)
		assert.True(t, executed)
		assert.True(t, apperrors.Is(cancelErr, apperrors.ErrInvalidTransition))
		assert.Equal(t, model.AccountStatusInactive, got.Status)
	}
}

// failingStore makes every transaction fail once armed, while reads and
// failure marking still reach the underlying store.
type failingStore struct {
	*memory.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = true
}

func (f *failingStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.Store.InTx(ctx, fn)
}

func TestExecuteDueActionFailureMarksAction(t *testing.T) {
	store := &failingStore{Store: memory.NewStore()}
	clk := clock.NewMock(testStart)
	svc := NewService(store, clk, messaging.NewNoop(), logger.NewNop())

	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)

	clk.Set(at.Add(time.Second))
	due, err := store.ListDueActions(context.Background(), clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	store.arm()
	executed, err := svc.ExecuteDueAction(context.Background(), due[0])
	assert.False(t, executed)
	assert.True(t, apperrors.Is(err, apperrors.ErrExecutionFailure))

	actions, err := store.ListScheduledActions(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ScheduledActionFailed, actions[0].Status)
	require.NotNil(t, actions[0].ErrorMessage)
	assert.Contains(t, *actions[0].ErrorMessage, "connection reset")
}

func TestFullLifecycleRoundTrip(t *testing.T) {
	svc, store, clk := newTestService(t)
	acc, err := svc.CreateAccount(context.Background(), nil, nil)
	require.NoError(t, err)

	assertOpen := func(want int) {
		t.Helper()
		assert.Len(t, openRecords(t, store, acc.ID), want)
	}

	// schedule -> cancel -> schedule -> auto-deactivate -> reactivate
	at := testStart.Add(time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at}, nil)
	require.NoError(t, err)
	assertOpen(1)

	_, err = svc.CancelSchedule(context.Background(), acc.ID, nil, nil)
	require.NoError(t, err)
	assertOpen(1)

	at2 := testStart.Add(2 * time.Hour)
	_, err = svc.Deactivate(context.Background(), acc.ID, DeactivateParams{ScheduledFor: &at2}, nil)
	require.NoError(t, err)
	assertOpen(1)

	clk.Set(at2.Add(time.Minute))
	due, err := store.ListDueActions(context.Background(), clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	executed, err := svc.ExecuteDueAction(context.Background(), due[0])
	require.NoError(t, err)
	require.True(t, executed)
	assertOpen(0)

	_, err = svc.Reactivate(context.Background(), acc.ID, nil, nil)
	require.NoError(t, err)
	assertOpen(1)

	got := mustAccount(t, store, acc.ID)
	assert.Equal(t, model.AccountStatusActive, got.Status)

	records, err := store.ListActivity(context.Background(), acc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, records, 6)
}
