package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/accountkit/lifecycle-api/internal/model"
	"github.com/accountkit/lifecycle-api/internal/repository"
	apperrors "github.com/accountkit/lifecycle-api/pkg/errors"
)

type store struct {
	db *sqlx.DB
}

// NewStore returns the postgres-backed lifecycle store.
func NewStore(db *sqlx.DB) repository.Store {
	return &store{db: db}
}

// InTx executes fn within a transaction
func (s *store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&storeTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *store) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	query := `
		SELECT id, status, current_period_start, scheduled_deactivation_at,
		       scheduled_reason, scheduled_by, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	var acc model.Account
	if err := s.db.GetContext(ctx, &acc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("account", err)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

func (s *store) ListActivity(ctx context.Context, accountID uuid.UUID, limit int) ([]*model.ActivityRecord, error) {
	query := `
		SELECT id, account_id, joined_at, left_at, scheduled_left_at, actual_left_at,
		       action_type, performed_by, reason, created_at
		FROM activity_records
		WHERE account_id = $1
		ORDER BY created_at DESC
	`
	args := []interface{}{accountID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var records []*model.ActivityRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list activity records: %w", err)
	}
	return records, nil
}

func (s *store) ListScheduledActions(ctx context.Context, accountID uuid.UUID) ([]*model.ScheduledAction, error) {
	query := `
		SELECT id, account_id, action_type, scheduled_for, reason, created_by,
		       status, executed_at, error_message, created_at
		FROM scheduled_actions
		WHERE account_id = $1
		ORDER BY created_at DESC
	`
	var actions []*model.ScheduledAction
	if err := s.db.SelectContext(ctx, &actions, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list scheduled actions: %w", err)
	}
	return actions, nil
}

func (s *store) ListPendingActions(ctx context.Context) ([]*model.ScheduledAction, error) {
	query := `
		SELECT id, account_id, action_type, scheduled_for, reason, created_by,
		       status, executed_at, error_message, created_at
		FROM scheduled_actions
		WHERE status = 'pending'
		ORDER BY scheduled_for
	`
	var actions []*model.ScheduledAction
	if err := s.db.SelectContext(ctx, &actions, query); err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	return actions, nil
}

func (s *store) ListDueActions(ctx context.Context, now time.Time) ([]*model.ScheduledAction, error) {
	query := `
		SELECT id, account_id, action_type, scheduled_for, reason, created_by,
		       status, executed_at, error_message, created_at
		FROM scheduled_actions
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for
	`
	var actions []*model.ScheduledAction
	if err := s.db.SelectContext(ctx, &actions, query, now); err != nil {
		return nil, fmt.Errorf("failed to list due actions: %w", err)
	}
	return actions, nil
}

// AggregateStats runs both counts in one read transaction so the account and
// action figures come from a single snapshot.
func (s *store) AggregateStats(ctx context.Context, now time.Time) (*model.AggregateStats, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stats model.AggregateStats
	accountQuery := `
		SELECT COUNT(*)                                                    AS total,
		       COUNT(*) FILTER (WHERE status = 'active')                   AS active,
		       COUNT(*) FILTER (WHERE status = 'inactive')                 AS inactive,
		       COUNT(*) FILTER (WHERE status = 'scheduled_deactivation')   AS scheduled
		FROM accounts
	`
	if err := tx.GetContext(ctx, &stats, accountQuery); err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}

	actionQuery := `
		SELECT COUNT(*)                                        AS pending_actions,
		       COUNT(*) FILTER (WHERE scheduled_for <= $1)     AS overdue_actions
		FROM scheduled_actions
		WHERE status = 'pending'
	`
	row := tx.QueryRowxContext(ctx, actionQuery, now)
	if err := row.Scan(&stats.PendingActions, &stats.OverdueActions); err != nil {
		return nil, fmt.Errorf("failed to count scheduled actions: %w", err)
	}

	return &stats, nil
}

func (s *store) MarkActionFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE scheduled_actions
		SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := s.db.ExecContext(ctx, query, id, errMsg); err != nil {
		return fmt.Errorf("failed to mark scheduled action failed: %w", err)
	}
	return nil
}
