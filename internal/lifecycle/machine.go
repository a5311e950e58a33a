// Package lifecycle holds the pure account lifecycle state machine. Apply
// makes every transition decision without touching storage; callers persist
// the returned Transition as one atomic unit.
package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountkit/lifecycle-api/internal/model"
	apperrors "github.com/accountkit/lifecycle-api/pkg/errors"
)

type CommandType string

const (
	CommandDeactivate       CommandType = "deactivate"
	CommandCancelSchedule   CommandType = "cancel_schedule"
	CommandReactivate       CommandType = "reactivate"
	CommandExecuteScheduled CommandType = "execute_scheduled"
)

// Command is one requested transition. ScheduledFor distinguishes a scheduled
// deactivation (non-nil) from an immediate one. Actor is nil on the scheduler
// path; Action carries the due row being executed.
type Command struct {
	Type         CommandType
	ScheduledFor *time.Time
	Reason       *string
	Actor        *uuid.UUID
	Action       *model.ScheduledAction
}

// Transition describes the full effect of an accepted command: the account's
// new state, the single ActivityRecord to append, an optional closure of the
// open period, and an optional ScheduledAction mutation.
type Transition struct {
	Status                  model.AccountStatus
	CurrentPeriodStart      time.Time
	ScheduledDeactivationAt *time.Time
	ScheduledReason         *string
	ScheduledBy             *uuid.UUID

	Record model.ActivityRecord

	ClosePeriod        bool
	PeriodLeftAt       time.Time
	PeriodActualLeftAt time.Time

	CreateAction  *model.ScheduledAction
	CancelPending bool
	ExecuteAction *uuid.UUID
}

// Apply resolves one command against the current account state at the given
// instant. It is a pure function: no I/O, no clock reads, no mutation of acc.
func Apply(acc *model.Account, cmd Command, now time.Time) (*Transition, error) {
	switch cmd.Type {
	case CommandDeactivate:
		if cmd.ScheduledFor == nil {
			return deactivateImmediate(acc, cmd, now)
		}
		return deactivateScheduled(acc, cmd, now)
	case CommandCancelSchedule:
		return cancelSchedule(acc, cmd, now)
	case CommandReactivate:
		return reactivate(acc, cmd, now)
	case CommandExecuteScheduled:
		return executeScheduled(acc, cmd, now)
	default:
		return nil, apperrors.InvalidTransition(string(acc.Status), string(cmd.Type))
	}
}

func deactivateImmediate(acc *model.Account, cmd Command, now time.Time) (*Transition, error) {
	if acc.Status != model.AccountStatusActive {
		return nil, apperrors.InvalidTransition(string(acc.Status), string(CommandDeactivate))
	}

	return &Transition{
		Status:             model.AccountStatusInactive,
		CurrentPeriodStart: acc.CurrentPeriodStart,
		ClosePeriod:        true,
		PeriodLeftAt:       now,
		PeriodActualLeftAt: now,
		Record: model.ActivityRecord{
			JoinedAt:     acc.CurrentPeriodStart,
			LeftAt:       &now,
			ActualLeftAt: &now,
			ActionType:   model.ActionDeactivatedImmediate,
			PerformedBy:  cmd.Actor,
			Reason:       cmd.Reason,
		},
	}, nil
}

func deactivateScheduled(acc *model.Account, cmd Command, now time.Time) (*Transition, error) {
	switch acc.Status {
	case model.AccountStatusActive:
	case model.AccountStatusScheduledDeactivation:
		// A pending action already exists; the caller must cancel it first.
		return nil, apperrors.ScheduleConflict("a pending scheduled deactivation already exists", nil)
	default:
		return nil, apperrors.InvalidTransition(string(acc.Status), string(CommandDeactivate))
	}

	at := *cmd.ScheduledFor
	if !at.After(now) {
		return nil, apperrors.InvalidScheduleTime("scheduled time must be strictly in the future")
	}

	return &Transition{
		Status:                  model.AccountStatusScheduledDeactivation,
		CurrentPeriodStart:      acc.CurrentPeriodStart,
		ScheduledDeactivationAt: &at,
		ScheduledReason:         cmd.Reason,
		ScheduledBy:             cmd.Actor,
		// Marker record: the period itself stays open.
		Record: model.ActivityRecord{
			JoinedAt:        acc.CurrentPeriodStart,
			LeftAt:          &now,
			ScheduledLeftAt: &at,
			ActionType:      model.ActionDeactivatedScheduled,
			PerformedBy:     cmd.Actor,
			Reason:          cmd.Reason,
		},
		CreateAction: &model.ScheduledAction{
			ActionType:   model.ScheduledActionDeactivate,
			ScheduledFor: at,
			Reason:       cmd.Reason,
			CreatedBy:    cmd.Actor,
			Status:       model.ScheduledActionPending,
		},
	}, nil
}

func cancelSchedule(acc *model.Account, cmd Command, now time.Time) (*Transition, error) {
	if acc.Status != model.AccountStatusScheduledDeactivation {
		return nil, apperrors.InvalidTransition(string(acc.Status), string(CommandCancelSchedule))
	}

	return &Transition{
		Status:             model.AccountStatusActive,
		CurrentPeriodStart: acc.CurrentPeriodStart,
		Record: model.ActivityRecord{
			JoinedAt:    acc.CurrentPeriodStart,
			LeftAt:      &now,
			ActionType:  model.ActionScheduleCancelled,
			PerformedBy: cmd.Actor,
			Reason:      cmd.Reason,
		},
		CancelPending: true,
	}, nil
}

func reactivate(acc *model.Account, cmd Command, now time.Time) (*Transition, error) {
	if acc.Status != model.AccountStatusInactive {
		return nil, apperrors.InvalidTransition(string(acc.Status), string(CommandReactivate))
	}

	return &Transition{
		Status:             model.AccountStatusActive,
		CurrentPeriodStart: now,
		Record: model.ActivityRecord{
			JoinedAt:    now,
			ActionType:  model.ActionReactivated,
			PerformedBy: cmd.Actor,
			Reason:      cmd.Reason,
		},
	}, nil
}

func executeScheduled(acc *model.Account, cmd Command, now time.Time) (*Transition, error) {
	action := cmd.Action
	if acc.Status != model.AccountStatusScheduledDeactivation || action.Status != model.ScheduledActionPending {
		return nil, apperrors.InvalidTransition(string(acc.Status), string(CommandExecuteScheduled))
	}

	// The period closes at the scheduled instant; ActualLeftAt records when
	// the scheduler actually fired.
	at := action.ScheduledFor
	return &Transition{
		Status:             model.AccountStatusInactive,
		CurrentPeriodStart: acc.CurrentPeriodStart,
		ClosePeriod:        true,
		PeriodLeftAt:       at,
		PeriodActualLeftAt: now,
		Record: model.ActivityRecord{
			JoinedAt:        acc.CurrentPeriodStart,
			LeftAt:          &at,
			ScheduledLeftAt: &at,
			ActualLeftAt:    &now,
			ActionType:      model.ActionAutoDeactivated,
			Reason:          action.Reason,
		},
		ExecuteAction: &action.ID,
	}, nil
}
