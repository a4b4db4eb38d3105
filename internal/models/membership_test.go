package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allMembershipStatuses = []MembershipStatus{
	MembershipOwned, MembershipApplied, MembershipAppliedCancelled, MembershipAppliedAccepted,
	MembershipAppliedRefused, MembershipInvited, MembershipInvitedAccepted, MembershipInvitedRefused,
}

func TestMembershipTransitionTable(t *testing.T) {
	legal := map[MembershipStatus]map[MembershipStatus]bool{
		MembershipApplied: {
			MembershipAppliedCancelled: true,
			MembershipAppliedAccepted:  true,
			MembershipAppliedRefused:   true,
		},
		MembershipInvited: {
			MembershipInvitedAccepted: true,
			MembershipInvitedRefused:  true,
		},
	}

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, from := range allMembershipStatuses {
		for _, to := range allMembershipStatuses {
			m := Membership{UserID: 1, PlanID: 2, Status: from}
			out, err := m.Transition(to, at, "")
			if legal[from][to] {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, out.Status)
				assert.Equal(t, at, out.UpdatedAt)
			} else {
				assert.True(t, errors.Is(err, ErrIllegalMembershipTransition), "%s -> %s", from, to)
				assert.Equal(t, from, out.Status)
			}
		}
	}
}

func TestMembershipTransitionSetsTimestamp(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		from  MembershipStatus
		to    MembershipStatus
		field func(Membership) *time.Time
	}{
		{"application accepted", MembershipApplied, MembershipAppliedAccepted, func(m Membership) *time.Time { return m.AcceptedAt }},
		{"application refused", MembershipApplied, MembershipAppliedRefused, func(m Membership) *time.Time { return m.RefusedAt }},
		{"application cancelled", MembershipApplied, MembershipAppliedCancelled, func(m Membership) *time.Time { return m.CancelledAt }},
		{"invitation accepted", MembershipInvited, MembershipInvitedAccepted, func(m Membership) *time.Time { return m.AcceptedAt }},
		{"invitation refused", MembershipInvited, MembershipInvitedRefused, func(m Membership) *time.Time { return m.RefusedAt }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Membership{Status: tt.from}
			out, err := m.Transition(tt.to, at, "see you there")
			require.NoError(t, err)
			require.NotNil(t, tt.field(out))
			assert.Equal(t, at, *tt.field(out))
			assert.Equal(t, "see you there", out.ResponseMessage)

			// the original value is untouched
			assert.Equal(t, tt.from, m.Status)
			assert.Nil(t, tt.field(m))
		})
	}
}

func TestNewMembership(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	owned, err := NewMembership(1, 2, MembershipOwned, at)
	require.NoError(t, err)
	require.NotNil(t, owned.AcceptedAt)
	assert.True(t, owned.Status.IsActive())

	applied, err := NewMembership(1, 2, MembershipApplied, at)
	require.NoError(t, err)
	require.NotNil(t, applied.AppliedAt)
	assert.True(t, applied.Status.IsPending())

	invited, err := NewMembership(1, 2, MembershipInvited, at)
	require.NoError(t, err)
	require.NotNil(t, invited.InvitedAt)

	_, err = NewMembership(1, 2, MembershipAppliedAccepted, at)
	assert.ErrorIs(t, err, ErrIllegalMembershipTransition)
}

func TestMembershipStatusSets(t *testing.T) {
	for _, s := range allMembershipStatuses {
		assert.Equal(t, contains(ActiveMembershipStatuses, s), s.IsActive(), s)
		assert.Equal(t, contains(PendingMembershipStatuses, s), s.IsPending(), s)
		assert.Equal(t, contains(CurrentMembershipStatuses, s), s.HoldsPlan(), s)
	}

	refused, ok := MembershipInvited.Refused()
	assert.True(t, ok)
	assert.Equal(t, MembershipInvitedRefused, refused)

	_, ok = MembershipOwned.Refused()
	assert.False(t, ok)

	accepted, ok := MembershipApplied.Accepted()
	assert.True(t, ok)
	assert.Equal(t, MembershipAppliedAccepted, accepted)
}

func contains(list []MembershipStatus, s MembershipStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
