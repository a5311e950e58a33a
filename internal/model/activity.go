package model

import (
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	ActionActivated            ActionType = "activated"
	ActionDeactivatedImmediate ActionType = "deactivated_immediate"
	ActionDeactivatedScheduled ActionType = "deactivated_scheduled"
	ActionScheduleCancelled    ActionType = "schedule_cancelled"
	ActionAutoDeactivated      ActionType = "auto_deactivated"
	ActionReactivated          ActionType = "reactivated"
)

// ActivityRecord is one entry in an account's append-only lifecycle history.
// A record with LeftAt == nil is the currently open period; closing a period
// sets LeftAt/ActualLeftAt on that record and is the single permitted update.
// PerformedBy == nil means the scheduler acted.
type ActivityRecord struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	AccountID       uuid.UUID  `json:"account_id" db:"account_id"`
	JoinedAt        time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty" db:"left_at"`
	ScheduledLeftAt *time.Time `json:"scheduled_left_at,omitempty" db:"scheduled_left_at"`
	ActualLeftAt    *time.Time `json:"actual_left_at,omitempty" db:"actual_left_at"`
	ActionType      ActionType `json:"action_type" db:"action_type"`
	PerformedBy     *uuid.UUID `json:"performed_by,omitempty" db:"performed_by"`
	Reason          *string    `json:"reason,omitempty" db:"reason"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Open reports whether the record is the currently open period.
func (r *ActivityRecord) Open() bool {
	return r.LeftAt == nil
}
