package model

import (
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	AccountStatusActive                AccountStatus = "active"
	AccountStatusInactive              AccountStatus = "inactive"
	AccountStatusScheduledDeactivation AccountStatus = "scheduled_deactivation"
)

// Account tracks the lifecycle state of one account. ScheduledDeactivationAt
// is non-nil iff Status is scheduled_deactivation, and is always strictly
// later than CurrentPeriodStart.
type Account struct {
	ID                      uuid.UUID     `json:"id" db:"id"`
	Status                  AccountStatus `json:"status" db:"status"`
	CurrentPeriodStart      time.Time     `json:"current_period_start" db:"current_period_start"`
	ScheduledDeactivationAt *time.Time    `json:"scheduled_deactivation_at,omitempty" db:"scheduled_deactivation_at"`
	ScheduledReason         *string       `json:"scheduled_reason,omitempty" db:"scheduled_reason"`
	ScheduledBy             *uuid.UUID    `json:"scheduled_by,omitempty" db:"scheduled_by"`
	CreatedAt               time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at" db:"updated_at"`
}

// Actor is the authenticated identity attached to every admin command. It is
// supplied by the upstream auth collaborator and trusted as-is.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// StatusInfo is the read-time status projection. The until-deactivation
// fields are derived from the clock at read time, never stored.
type StatusInfo struct {
	AccountID                uuid.UUID     `json:"account_id"`
	Status                   AccountStatus `json:"status"`
	CurrentPeriodStart       time.Time     `json:"current_period_start"`
	ScheduledDeactivationAt  *time.Time    `json:"scheduled_deactivation_at,omitempty"`
	ScheduledReason          *string       `json:"scheduled_reason,omitempty"`
	SecondsUntilDeactivation *int64        `json:"seconds_until_deactivation,omitempty"`
	HoursUntilDeactivation   *int          `json:"hours_until_deactivation,omitempty"`
	DaysUntilDeactivation    *int          `json:"days_until_deactivation,omitempty"`
}

// AggregateStats is the system-wide dashboard projection.
type AggregateStats struct {
	Total          int64 `json:"total" db:"total"`
	Active         int64 `json:"active" db:"active"`
	Inactive       int64 `json:"inactive" db:"inactive"`
	Scheduled      int64 `json:"scheduled" db:"scheduled"`
	PendingActions int64 `json:"pending_actions" db:"pending_actions"`
	OverdueActions int64 `json:"overdue_actions" db:"overdue_actions"`
}
