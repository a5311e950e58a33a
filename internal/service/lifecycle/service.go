package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/accountkit/lifecycle-api/internal/lifecycle"
	"github.com/accountkit/lifecycle-api/internal/model"
	"github.com/accountkit/lifecycle-api/internal/repository"
	"github.com/accountkit/lifecycle-api/pkg/clock"
	apperrors "github.com/accountkit/lifecycle-api/pkg/errors"
	"github.com/accountkit/lifecycle-api/pkg/logger"
	"github.com/accountkit/lifecycle-api/pkg/messaging"
)

// Servicer is the admin command surface plus the scheduler-side executor.
type Servicer interface {
	CreateAccount(ctx context.Context, actor *model.Actor, reason *string) (*model.Account, error)
	Deactivate(ctx context.Context, id uuid.UUID, params DeactivateParams, actor *model.Actor) (*CommandResult, error)
	CancelSchedule(ctx context.Context, id uuid.UUID, reason *string, actor *model.Actor) (*CommandResult, error)
	Reactivate(ctx context.Context, id uuid.UUID, reason *string, actor *model.Actor) (*CommandResult, error)
	ExecuteDueAction(ctx context.Context, action *model.ScheduledAction) (bool, error)
}

// DeactivateParams selects immediate (ScheduledFor nil) or scheduled mode.
type DeactivateParams struct {
	ScheduledFor *time.Time
	Reason       *string
}

// CommandResult is what every accepted admin command returns.
type CommandResult struct {
	Status       model.AccountStatus `json:"status"`
	ScheduledFor *time.Time          `json:"scheduled_for,omitempty"`
}

type Service struct {
	store  repository.Store
	clock  clock.Clock
	broker messaging.Broker
	logger *logger.Logger
}

func NewService(store repository.Store, clk clock.Clock, broker messaging.Broker, logger *logger.Logger) *Service {
	return &Service{
		store:  store,
		clock:  clk,
		broker: broker,
		logger: logger,
	}
}

// CreateAccount creates an active account with its initial open period.
func (s *Service) CreateAccount(ctx context.Context, actor *model.Actor, reason *string) (*model.Account, error) {
	now := s.clock.Now()
	acc := &model.Account{
		ID:                 uuid.New(),
		Status:             model.AccountStatusActive,
		CurrentPeriodStart: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertAccount(ctx, acc); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, &model.ActivityRecord{
			ID:          uuid.New(),
			AccountID:   acc.ID,
			JoinedAt:    now,
			ActionType:  model.ActionActivated,
			PerformedBy: actorID(actor),
			Reason:      reason,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "account.created", acc.ID, model.ActionActivated)
	return acc, nil
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID, params DeactivateParams, actor *model.Actor) (*CommandResult, error) {
	return s.applyCommand(ctx, id, lifecycle.Command{
		Type:         lifecycle.CommandDeactivate,
		ScheduledFor: params.ScheduledFor,
		Reason:       params.Reason,
		Actor:        actorID(actor),
	})
}

func (s *Service) CancelSchedule(ctx context.Context, id uuid.UUID, reason *string, actor *model.Actor) (*CommandResult, error) {
	return s.applyCommand(ctx, id, lifecycle.Command{
		Type:   lifecycle.CommandCancelSchedule,
		Reason: reason,
		Actor:  actorID(actor),
	})
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID, reason *string, actor *model.Actor) (*CommandResult, error) {
	return s.applyCommand(ctx, id, lifecycle.Command{
		Type:   lifecycle.CommandReactivate,
		Reason: reason,
		Actor:  actorID(actor),
	})
}

// applyCommand is the single write path for admin commands: lock the account
// row, run the state machine, persist the whole transition atomically.
func (s *Service) applyCommand(ctx context.Context, id uuid.UUID, cmd lifecycle.Command) (*CommandResult, error) {
	now := s.clock.Now()
	var result *CommandResult
	var actionType model.ActionType

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		acc, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}

		tr, err := lifecycle.Apply(acc, cmd, now)
		if err != nil {
			return err
		}

		if err := s.persistTransition(ctx, tx, acc, tr, now); err != nil {
			return err
		}

		actionType = tr.Record.ActionType
		result = &CommandResult{
			Status:       tr.Status,
			ScheduledFor: tr.ScheduledDeactivationAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "account."+string(actionType), id, actionType)
	return result, nil
}

// ExecuteDueAction applies one due scheduled action inside its own
// transaction. The account and action rows are re-read under row locks and
// re-verified; if another actor resolved the action first the call is a
// silent no-op and returns false. Any other failure marks the action failed
// after the transaction rolled back.
func (s *Service) ExecuteDueAction(ctx context.Context, action *model.ScheduledAction) (bool, error) {
	now := s.clock.Now()
	executed := false

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		acc, err := tx.GetAccountForUpdate(ctx, action.AccountID)
		if err != nil {
			return err
		}
		current, err := tx.GetScheduledActionForUpdate(ctx, action.ID)
		if err != nil {
			return err
		}

		tr, err := lifecycle.Apply(acc, lifecycle.Command{
			Type:   lifecycle.CommandExecuteScheduled,
			Action: current,
		}, now)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrInvalidTransition) {
				// Guard failed: a concurrent cancel or an earlier run of this
				// tick already resolved the row. Not an error.
				return nil
			}
			return err
		}

		if err := s.persistTransition(ctx, tx, acc, tr, now); err != nil {
			return err
		}
		executed = true
		return nil
	})
	if err != nil {
		if markErr := s.store.MarkActionFailed(ctx, action.ID, err.Error()); markErr != nil {
			s.logger.Error(markErr, "failed to mark scheduled action failed",
				"action_id", action.ID.String())
		}
		return false, apperrors.ExecutionFailure("failed to execute scheduled action", err)
	}

	if executed {
		s.publish(ctx, "account.auto_deactivated", action.AccountID, model.ActionAutoDeactivated)
	}
	return executed, nil
}

func (s *Service) persistTransition(ctx context.Context, tx repository.Tx, acc *model.Account, tr *lifecycle.Transition, now time.Time) error {
	if tr.ClosePeriod {
		if err := tx.CloseOpenPeriod(ctx, acc.ID, tr.PeriodLeftAt, tr.PeriodActualLeftAt); err != nil {
			return err
		}
	}

	rec := tr.Record
	rec.ID = uuid.New()
	rec.AccountID = acc.ID
	rec.CreatedAt = now
	if err := tx.InsertActivity(ctx, &rec); err != nil {
		return err
	}

	if tr.CancelPending {
		if err := tx.CancelPendingActions(ctx, acc.ID, model.ScheduledActionDeactivate); err != nil {
			return err
		}
	}
	if tr.CreateAction != nil {
		action := *tr.CreateAction
		action.ID = uuid.New()
		action.AccountID = acc.ID
		action.CreatedAt = now
		if err := tx.InsertScheduledAction(ctx, &action); err != nil {
			return err
		}
	}
	if tr.ExecuteAction != nil {
		executedAt := now
		if err := tx.MarkScheduledAction(ctx, *tr.ExecuteAction, model.ScheduledActionExecuted, &executedAt, nil); err != nil {
			return err
		}
	}

	acc.Status = tr.Status
	acc.CurrentPeriodStart = tr.CurrentPeriodStart
	acc.ScheduledDeactivationAt = tr.ScheduledDeactivationAt
	acc.ScheduledReason = tr.ScheduledReason
	acc.ScheduledBy = tr.ScheduledBy
	acc.UpdatedAt = now
	return tx.UpdateAccount(ctx, acc)
}

// publish emits a lifecycle event after commit. Delivery is best-effort;
// failures are logged, never surfaced to the caller.
func (s *Service) publish(ctx context.Context, channel string, accountID uuid.UUID, action model.ActionType) {
	err := s.broker.Publish(ctx, channel, messaging.Message{
		Type: string(action),
		Payload: map[string]interface{}{
			"account_id":  accountID.String(),
			"occurred_at": s.clock.Now(),
		},
	})
	if err != nil {
		s.logger.Error(err, "failed to publish lifecycle event",
			"channel", channel, "account_id", accountID.String())
	}
}

func actorID(actor *model.Actor) *uuid.UUID {
	if actor == nil {
		return nil
	}
	id := actor.ID
	return &id
}
