package models

import (
	"errors"
	"fmt"
	"time"
)

// PlanStatus represents the lifecycle state of a travel plan
type PlanStatus string

const (
	PlanStatusNew        PlanStatus = "NEW"
	PlanStatusInProgress PlanStatus = "IN_PROGRESS"
	PlanStatusCompleted  PlanStatus = "COMPLETED"
	PlanStatusCancelled  PlanStatus = "CANCELLED"
)

// IsCurrent returns true for plans that still count as a user's current plan.
func (s PlanStatus) IsCurrent() bool {
	return s == PlanStatusNew || s == PlanStatusInProgress
}

// IsFinal returns true when no further transition is possible.
func (s PlanStatus) IsFinal() bool {
	return s == PlanStatusCompleted || s == PlanStatusCancelled
}

// PlanVisibility controls whether a plan accepts applications from strangers
type PlanVisibility string

const (
	PlanVisibilityPublic  PlanVisibility = "PUBLIC"
	PlanVisibilityPrivate PlanVisibility = "PRIVATE"
)

// ErrIllegalPlanTransition is returned when a plan status change is not allowed.
var ErrIllegalPlanTransition = errors.New("illegal plan transition")

// planTransitions lists the only legal forward moves.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanStatusNew:        {PlanStatusInProgress, PlanStatusCancelled},
	PlanStatusInProgress: {PlanStatusCompleted},
}

// CanTransitionTo reports whether a plan in status s may move to next.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	for _, allowed := range planTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Plan represents a group travel plan
type Plan struct {
	ID                 int64          `json:"id" db:"id"`
	Title              string         `json:"title" db:"title"`
	Description        string         `json:"description" db:"description"`
	Destination        string         `json:"destination" db:"destination"`
	Visibility         PlanVisibility `json:"visibility" db:"visibility"`
	MaxMembers         int            `json:"max_members" db:"max_members"`
	OwnerID            int64          `json:"owner_id" db:"owner_id"`
	StartDate          time.Time      `json:"start_date" db:"start_date"`
	EndDate            time.Time      `json:"end_date" db:"end_date"`
	Status             PlanStatus     `json:"status" db:"status"`
	StartedAt          *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason string         `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// IsOpenForApplication returns true if strangers may apply to the plan
func (p *Plan) IsOpenForApplication() bool {
	return p.Status == PlanStatusNew && p.Visibility == PlanVisibilityPublic
}

// IsDueToStart returns true if a NEW plan has reached its start date
func (p *Plan) IsDueToStart(now time.Time) bool {
	return p.Status == PlanStatusNew && !p.StartDate.After(now)
}

// IsDueToComplete returns true if an IN_PROGRESS plan has reached its end date
func (p *Plan) IsDueToComplete(now time.Time) bool {
	return p.Status == PlanStatusInProgress && !p.EndDate.After(now)
}

// Transition returns a copy of the plan moved to status next, with the
// matching timestamp set. The receiver is left untouched.
func (p Plan) Transition(next PlanStatus, at time.Time, reason string) (Plan, error) {
	if !p.Status.CanTransitionTo(next) {
		return p, fmt.Errorf("%w: %s -> %s", ErrIllegalPlanTransition, p.Status, next)
	}

	out := p
	out.Status = next
	out.UpdatedAt = at
	switch next {
	case PlanStatusInProgress:
		out.StartedAt = &at
	case PlanStatusCompleted:
		out.CompletedAt = &at
	case PlanStatusCancelled:
		out.CancelledAt = &at
		out.CancellationReason = reason
	}
	return out, nil
}
