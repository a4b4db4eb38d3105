package models

import (
	"errors"
	"fmt"
	"time"
)

// MembershipStatus represents a user's relationship to a plan
type MembershipStatus string

const (
	MembershipOwned            MembershipStatus = "OWNED"
	MembershipApplied          MembershipStatus = "APPLIED"
	MembershipAppliedCancelled MembershipStatus = "APPLIED_CANCELLED"
	MembershipAppliedAccepted  MembershipStatus = "APPLIED_ACCEPTED"
	MembershipAppliedRefused   MembershipStatus = "APPLIED_REFUSED"
	MembershipInvited          MembershipStatus = "INVITED"
	MembershipInvitedAccepted  MembershipStatus = "INVITED_ACCEPTED"
	MembershipInvitedRefused   MembershipStatus = "INVITED_REFUSED"
)

// ActiveMembershipStatuses count toward capacity.
var ActiveMembershipStatuses = []MembershipStatus{
	MembershipOwned, MembershipAppliedAccepted, MembershipInvitedAccepted,
}

// PendingMembershipStatuses await a decision.
var PendingMembershipStatuses = []MembershipStatus{
	MembershipApplied, MembershipInvited,
}

// CurrentMembershipStatuses tie a user to a plan for the one-current-plan rule.
var CurrentMembershipStatuses = []MembershipStatus{
	MembershipOwned, MembershipApplied, MembershipAppliedAccepted,
	MembershipInvited, MembershipInvitedAccepted,
}

// ClosedMembershipStatuses end a request without the user joining.
var ClosedMembershipStatuses = []MembershipStatus{
	MembershipAppliedCancelled, MembershipAppliedRefused, MembershipInvitedRefused,
}

// IsClosed returns true for cancelled and refused requests.
func (s MembershipStatus) IsClosed() bool {
	return s == MembershipAppliedCancelled || s == MembershipAppliedRefused || s == MembershipInvitedRefused
}

// IsActive returns true for owner and accepted members.
func (s MembershipStatus) IsActive() bool {
	return s == MembershipOwned || s == MembershipAppliedAccepted || s == MembershipInvitedAccepted
}

// IsPending returns true for open applications and invitations.
func (s MembershipStatus) IsPending() bool {
	return s == MembershipApplied || s == MembershipInvited
}

// HoldsPlan returns true if the status counts toward the user's current plan.
func (s MembershipStatus) HoldsPlan() bool {
	return s.IsActive() || s.IsPending()
}

// Refused returns the refusal terminal for a pending status.
func (s MembershipStatus) Refused() (MembershipStatus, bool) {
	switch s {
	case MembershipApplied:
		return MembershipAppliedRefused, true
	case MembershipInvited:
		return MembershipInvitedRefused, true
	}
	return "", false
}

// Accepted returns the acceptance terminal for a pending status.
func (s MembershipStatus) Accepted() (MembershipStatus, bool) {
	switch s {
	case MembershipApplied:
		return MembershipAppliedAccepted, true
	case MembershipInvited:
		return MembershipInvitedAccepted, true
	}
	return "", false
}

// ErrIllegalMembershipTransition is returned when a status change is not allowed.
var ErrIllegalMembershipTransition = errors.New("illegal membership transition")

var membershipTransitions = map[MembershipStatus][]MembershipStatus{
	MembershipApplied: {MembershipAppliedCancelled, MembershipAppliedAccepted, MembershipAppliedRefused},
	MembershipInvited: {MembershipInvitedAccepted, MembershipInvitedRefused},
}

// CanTransitionTo reports whether status s may move to next.
func (s MembershipStatus) CanTransitionTo(next MembershipStatus) bool {
	for _, allowed := range membershipTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Membership is the relationship record between one user and one plan
type Membership struct {
	ID              int64            `json:"id" db:"id"`
	UserID          int64            `json:"user_id" db:"user_id"`
	PlanID          int64            `json:"plan_id" db:"plan_id"`
	Status          MembershipStatus `json:"status" db:"status"`
	AppliedAt       *time.Time       `json:"applied_at,omitempty" db:"applied_at"`
	InvitedAt       *time.Time       `json:"invited_at,omitempty" db:"invited_at"`
	AcceptedAt      *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	RefusedAt       *time.Time       `json:"refused_at,omitempty" db:"refused_at"`
	CancelledAt     *time.Time       `json:"cancelled_at,omitempty" db:"cancelled_at"`
	ResponseMessage string           `json:"response_message,omitempty" db:"response_message"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
	User            *User            `json:"user,omitempty"`
}

// NewMembership builds a membership in one of the entry states OWNED,
// APPLIED or INVITED, stamped with the time it was created.
func NewMembership(userID, planID int64, status MembershipStatus, at time.Time) (Membership, error) {
	m := Membership{
		UserID:    userID,
		PlanID:    planID,
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
	switch status {
	case MembershipOwned:
		m.AcceptedAt = &at
	case MembershipApplied:
		m.AppliedAt = &at
	case MembershipInvited:
		m.InvitedAt = &at
	default:
		return Membership{}, fmt.Errorf("%w: cannot create membership as %s", ErrIllegalMembershipTransition, status)
	}
	return m, nil
}

// Transition returns a copy of the membership moved to next, with status and
// its timestamp set together. The receiver is left untouched.
func (m Membership) Transition(next MembershipStatus, at time.Time, message string) (Membership, error) {
	if !m.Status.CanTransitionTo(next) {
		return m, fmt.Errorf("%w: %s -> %s", ErrIllegalMembershipTransition, m.Status, next)
	}

	out := m
	out.Status = next
	out.UpdatedAt = at
	if message != "" {
		out.ResponseMessage = message
	}
	switch next {
	case MembershipAppliedAccepted, MembershipInvitedAccepted:
		out.AcceptedAt = &at
	case MembershipAppliedRefused, MembershipInvitedRefused:
		out.RefusedAt = &at
	case MembershipAppliedCancelled:
		out.CancelledAt = &at
	}
	return out, nil
}
