// Package memory implements repository.Store entirely in memory. Transactions
// run one at a time against a copy-on-write snapshot that is swapped in on
// commit, which mirrors the serialization the postgres row locks provide for
// a single account. Used by tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accountkit/lifecycle-api/internal/model"
	"github.com/accountkit/lifecycle-api/internal/repository"
	apperrors "github.com/accountkit/lifecycle-api/pkg/errors"
)

type state struct {
	accounts map[uuid.UUID]*model.Account
	activity []*model.ActivityRecord
	actions  []*model.ScheduledAction
}

func (s *state) clone() *state {
	next := &state{
		accounts: make(map[uuid.UUID]*model.Account, len(s.accounts)),
		activity: make([]*model.ActivityRecord, len(s.activity)),
		actions:  make([]*model.ScheduledAction, len(s.actions)),
	}
	for id, acc := range s.accounts {
		cp := *acc
		next.accounts[id] = &cp
	}
	for i, rec := range s.activity {
		cp := *rec
		next.activity[i] = &cp
	}
	for i, action := range s.actions {
		cp := *action
		next.actions[i] = &cp
	}
	return next
}

type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{
		state: &state{accounts: make(map[uuid.UUID]*model.Account)},
	}
}

// InTx serializes transactions under the store mutex. fn mutates a snapshot;
// the snapshot replaces the live state only when fn succeeds, so a failed
// transaction leaves the store untouched.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&memTx{state: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.state.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("account", nil)
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) ListActivity(ctx context.Context, accountID uuid.UUID, limit int) ([]*model.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*model.ActivityRecord
	// Newest first: reverse insertion order.
	for i := len(s.state.activity) - 1; i >= 0; i-- {
		if s.state.activity[i].AccountID != accountID {
			continue
		}
		cp := *s.state.activity[i]
		records = append(records, &cp)
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}

func (s *Store) ListScheduledActions(ctx context.Context, accountID uuid.UUID) ([]*model.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actions []*model.ScheduledAction
	for i := len(s.state.actions) - 1; i >= 0; i-- {
		if s.state.actions[i].AccountID != accountID {
			continue
		}
		cp := *s.state.actions[i]
		actions = append(actions, &cp)
	}
	return actions, nil
}

func (s *Store) ListPendingActions(ctx context.Context) ([]*model.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actions []*model.ScheduledAction
	for _, action := range s.state.actions {
		if action.Status == model.ScheduledActionPending {
			cp := *action
			actions = append(actions, &cp)
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ScheduledFor.Before(actions[j].ScheduledFor)
	})
	return actions, nil
}

func (s *Store) ListDueActions(ctx context.Context, now time.Time) ([]*model.ScheduledAction, error) {
	pending, err := s.ListPendingActions(ctx)
	if err != nil {
		return nil, err
	}
	var due []*model.ScheduledAction
	for _, action := range pending {
		if !action.ScheduledFor.After(now) {
			due = append(due, action)
		}
	}
	return due, nil
}

func (s *Store) AggregateStats(ctx context.Context, now time.Time) (*model.AggregateStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats model.AggregateStats
	for _, acc := range s.state.accounts {
		stats.Total++
		switch acc.Status {
		case model.AccountStatusActive:
			stats.Active++
		case model.AccountStatusInactive:
			stats.Inactive++
		case model.AccountStatusScheduledDeactivation:
			stats.Scheduled++
		}
	}
	for _, action := range s.state.actions {
		if action.Status != model.ScheduledActionPending {
			continue
		}
		stats.PendingActions++
		if !action.ScheduledFor.After(now) {
			stats.OverdueActions++
		}
	}
	return &stats, nil
}

func (s *Store) MarkActionFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, action := range s.state.actions {
		if action.ID == id && action.Status == model.ScheduledActionPending {
			action.Status = model.ScheduledActionFailed
			action.ErrorMessage = &errMsg
		}
	}
	return nil
}

type memTx struct {
	state *state
}

func (t *memTx) InsertAccount(ctx context.Context, acc *model.Account) error {
	cp := *acc
	t.state.accounts[acc.ID] = &cp
	return nil
}

func (t *memTx) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	acc, ok := t.state.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("account", nil)
	}
	cp := *acc
	return &cp, nil
}

func (t *memTx) UpdateAccount(ctx context.Context, acc *model.Account) error {
	if _, ok := t.state.accounts[acc.ID]; !ok {
		return apperrors.NotFound("account", nil)
	}
	cp := *acc
	t.state.accounts[acc.ID] = &cp
	return nil
}

func (t *memTx) InsertActivity(ctx context.Context, rec *model.ActivityRecord) error {
	cp := *rec
	t.state.activity = append(t.state.activity, &cp)
	return nil
}

func (t *memTx) CloseOpenPeriod(ctx context.Context, accountID uuid.UUID, leftAt, actualLeftAt time.Time) error {
	for _, rec := range t.state.activity {
		if rec.AccountID == accountID && rec.LeftAt == nil {
			left := leftAt
			actual := actualLeftAt
			rec.LeftAt = &left
			rec.ActualLeftAt = &actual
		}
	}
	return nil
}

func (t *memTx) InsertScheduledAction(ctx context.Context, action *model.ScheduledAction) error {
	for _, existing := range t.state.actions {
		if existing.AccountID == action.AccountID &&
			existing.ActionType == action.ActionType &&
			existing.Status == model.ScheduledActionPending {
			return apperrors.ScheduleConflict("a pending scheduled action already exists", nil)
		}
	}
	cp := *action
	t.state.actions = append(t.state.actions, &cp)
	return nil
}

func (t *memTx) GetScheduledActionForUpdate(ctx context.Context, id uuid.UUID) (*model.ScheduledAction, error) {
	for _, action := range t.state.actions {
		if action.ID == id {
			cp := *action
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("scheduled action", nil)
}

func (t *memTx) CancelPendingActions(ctx context.Context, accountID uuid.UUID, actionType model.ScheduledActionType) error {
	for _, action := range t.state.actions {
		if action.AccountID == accountID && action.ActionType == actionType &&
			action.Status == model.ScheduledActionPending {
			action.Status = model.ScheduledActionCancelled
		}
	}
	return nil
}

func (t *memTx) MarkScheduledAction(ctx context.Context, id uuid.UUID, status model.ScheduledActionStatus, executedAt *time.Time, errMsg *string) error {
	for _, action := range t.state.actions {
		if action.ID == id && action.Status == model.ScheduledActionPending {
			action.Status = status
			action.ExecutedAt = executedAt
			action.ErrorMessage = errMsg
			return nil
		}
	}
	return apperrors.NotFound("pending scheduled action", nil)
}
