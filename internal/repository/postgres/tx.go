package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/accountkit/lifecycle-api/internal/model"
	apperrors "github.com/accountkit/lifecycle-api/pkg/errors"
)

const uniqueViolation = "23505"

type storeTx struct {
	tx *sqlx.Tx
}

func (t *storeTx) InsertAccount(ctx context.Context, acc *model.Account) error {
	query := `
		INSERT INTO accounts (
			id, status, current_period_start, scheduled_deactivation_at,
			scheduled_reason, scheduled_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.ExecContext(ctx, query,
		acc.ID,
		acc.Status,
		acc.CurrentPeriodStart,
		acc.ScheduledDeactivationAt,
		acc.ScheduledReason,
		acc.ScheduledBy,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (t *storeTx) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	query := `
		SELECT id, status, current_period_start, scheduled_deactivation_at,
		       scheduled_reason, scheduled_by, created_at, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`
	var acc model.Account
	if err := t.tx.GetContext(ctx, &acc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("account", err)
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &acc, nil
}

func (t *storeTx) UpdateAccount(ctx context.Context, acc *model.Account) error {
	query := `
		UPDATE accounts
		SET status = $2, current_period_start = $3, scheduled_deactivation_at = $4,
		    scheduled_reason = $5, scheduled_by = $6, updated_at = $7
		WHERE id = $1
	`
	result, err := t.tx.ExecContext(ctx, query,
		acc.ID,
		acc.Status,
		acc.CurrentPeriodStart,
		acc.ScheduledDeactivationAt,
		acc.ScheduledReason,
		acc.ScheduledBy,
		acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("account", nil)
	}
	return nil
}

func (t *storeTx) InsertActivity(ctx context.Context, rec *model.ActivityRecord) error {
	query := `
		INSERT INTO activity_records (
			id, account_id, joined_at, left_at, scheduled_left_at, actual_left_at,
			action_type, performed_by, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.ExecContext(ctx, query,
		rec.ID,
		rec.AccountID,
		rec.JoinedAt,
		rec.LeftAt,
		rec.ScheduledLeftAt,
		rec.ActualLeftAt,
		rec.ActionType,
		rec.PerformedBy,
		rec.Reason,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity record: %w", err)
	}
	return nil
}

func (t *storeTx) CloseOpenPeriod(ctx context.Context, accountID uuid.UUID, leftAt, actualLeftAt time.Time) error {
	query := `
		UPDATE activity_records
		SET left_at = $2, actual_left_at = $3
		WHERE account_id = $1 AND left_at IS NULL
	`
	if _, err := t.tx.ExecContext(ctx, query, accountID, leftAt, actualLeftAt); err != nil {
		return fmt.Errorf("failed to close open period: %w", err)
	}
	return nil
}

func (t *storeTx) InsertScheduledAction(ctx context.Context, action *model.ScheduledAction) error {
	query := `
		INSERT INTO scheduled_actions (
			id, account_id, action_type, scheduled_for, reason, created_by,
			status, executed_at, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.ExecContext(ctx, query,
		action.ID,
		action.AccountID,
		action.ActionType,
		action.ScheduledFor,
		action.Reason,
		action.CreatedBy,
		action.Status,
		action.ExecutedAt,
		action.ErrorMessage,
		action.CreatedAt,
	)
	if err != nil {
		// The partial unique index on (account_id, action_type) WHERE
		// status = 'pending' closes the check-then-insert race.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperrors.ScheduleConflict("a pending scheduled action already exists", err)
		}
		return fmt.Errorf("failed to insert scheduled action: %w", err)
	}
	return nil
}

func (t *storeTx) GetScheduledActionForUpdate(ctx context.Context, id uuid.UUID) (*model.ScheduledAction, error) {
	query := `
		SELECT id, account_id, action_type, scheduled_for, reason, created_by,
		       status, executed_at, error_message, created_at
		FROM scheduled_actions
		WHERE id = $1
		FOR UPDATE
	`
	var action model.ScheduledAction
	if err := t.tx.GetContext(ctx, &action, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("scheduled action", err)
		}
		return nil, fmt.Errorf("failed to lock scheduled action: %w", err)
	}
	return &action, nil
}

func (t *storeTx) CancelPendingActions(ctx context.Context, accountID uuid.UUID, actionType model.ScheduledActionType) error {
	query := `
		UPDATE scheduled_actions
		SET status = 'cancelled'
		WHERE account_id = $1 AND action_type = $2 AND status = 'pending'
	`
	if _, err := t.tx.ExecContext(ctx, query, accountID, actionType); err != nil {
		return fmt.Errorf("failed to cancel pending actions: %w", err)
	}
	return nil
}

func (t *storeTx) MarkScheduledAction(ctx context.Context, id uuid.UUID, status model.ScheduledActionStatus, executedAt *time.Time, errMsg *string) error {
	query := `
		UPDATE scheduled_actions
		SET status = $2, executed_at = $3, error_message = $4
		WHERE id = $1 AND status = 'pending'
	`
	result, err := t.tx.ExecContext(ctx, query, id, status, executedAt, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled action: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Terminal states are immutable; a resolved row is never re-marked.
		return apperrors.NotFound("pending scheduled action", nil)
	}
	return nil
}
