package model

import (
	"time"

	"github.com/google/uuid"
)

type ScheduledActionType string

const (
	ScheduledActionDeactivate ScheduledActionType = "deactivate"
	ScheduledActionActivate   ScheduledActionType = "activate"
)

type ScheduledActionStatus string

const (
	ScheduledActionPending   ScheduledActionStatus = "pending"
	ScheduledActionExecuted  ScheduledActionStatus = "executed"
	ScheduledActionCancelled ScheduledActionStatus = "cancelled"
	ScheduledActionFailed    ScheduledActionStatus = "failed"
)

// ScheduledAction is a durable time-triggered command. At most one pending
// row may exist per (account, action type); a row leaves pending exactly once
// and terminal states are immutable.
type ScheduledAction struct {
	ID           uuid.UUID             `json:"id" db:"id"`
	AccountID    uuid.UUID             `json:"account_id" db:"account_id"`
	ActionType   ScheduledActionType   `json:"action_type" db:"action_type"`
	ScheduledFor time.Time             `json:"scheduled_for" db:"scheduled_for"`
	Reason       *string               `json:"reason,omitempty" db:"reason"`
	CreatedBy    *uuid.UUID            `json:"created_by,omitempty" db:"created_by"`
	Status       ScheduledActionStatus `json:"status" db:"status"`
	ExecutedAt   *time.Time            `json:"executed_at,omitempty" db:"executed_at"`
	ErrorMessage *string               `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
}

// Due reports whether the action is pending and its scheduled time has passed.
func (a *ScheduledAction) Due(now time.Time) bool {
	return a.Status == ScheduledActionPending && !a.ScheduledFor.After(now)
}
