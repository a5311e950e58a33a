package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/accountkit/lifecycle-api/internal/model"
)

// All repository interfaces in one file
type (
	// Store is the durable lifecycle store. InTx runs fn inside one atomic
	// unit of work; every mutation a transition needs happens through the Tx
	// it is handed. The remaining methods are read-only projections, each a
	// single consistent snapshot.
	Store interface {
		InTx(ctx context.Context, fn func(tx Tx) error) error

		GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
		ListActivity(ctx context.Context, accountID uuid.UUID, limit int) ([]*model.ActivityRecord, error)
		ListScheduledActions(ctx context.Context, accountID uuid.UUID) ([]*model.ScheduledAction, error)
		ListPendingActions(ctx context.Context) ([]*model.ScheduledAction, error)
		ListDueActions(ctx context.Context, now time.Time) ([]*model.ScheduledAction, error)
		AggregateStats(ctx context.Context, now time.Time) (*model.AggregateStats, error)

		// MarkActionFailed records a scheduler-side failure after the failed
		// transaction rolled back. It only touches rows still pending.
		MarkActionFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	}

	// Tx is one open transaction. GetAccountForUpdate and
	// GetScheduledActionForUpdate take row locks; the lock is held until the
	// transaction commits or rolls back.
	Tx interface {
		InsertAccount(ctx context.Context, acc *model.Account) error
		GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error)
		UpdateAccount(ctx context.Context, acc *model.Account) error

		InsertActivity(ctx context.Context, rec *model.ActivityRecord) error
		CloseOpenPeriod(ctx context.Context, accountID uuid.UUID, leftAt, actualLeftAt time.Time) error

		InsertScheduledAction(ctx context.Context, action *model.ScheduledAction) error
		GetScheduledActionForUpdate(ctx context.Context, id uuid.UUID) (*model.ScheduledAction, error)
		CancelPendingActions(ctx context.Context, accountID uuid.UUID, actionType model.ScheduledActionType) error
		MarkScheduledAction(ctx context.Context, id uuid.UUID, status model.ScheduledActionStatus, executedAt *time.Time, errMsg *string) error
	}
)
