package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTransitionsAreMonotonic(t *testing.T) {
	all := []PlanStatus{PlanStatusNew, PlanStatusInProgress, PlanStatusCompleted, PlanStatusCancelled}

	at := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	for _, from := range all {
		for _, to := range all {
			want := (from == PlanStatusNew && (to == PlanStatusInProgress || to == PlanStatusCancelled)) ||
				(from == PlanStatusInProgress && to == PlanStatusCompleted)

			p := Plan{ID: 1, Status: from}
			out, err := p.Transition(to, at, "")
			if want {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, out.Status)
			} else {
				assert.ErrorIs(t, err, ErrIllegalPlanTransition, "%s -> %s", from, to)
				assert.Equal(t, from, out.Status)
			}
		}
	}
}

func TestPlanTransitionTimestamps(t *testing.T) {
	at := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	p := Plan{Status: PlanStatusNew}
	started, err := p.Transition(PlanStatusInProgress, at, "")
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	assert.Nil(t, p.StartedAt)

	completed, err := started.Transition(PlanStatusCompleted, at.Add(time.Hour), "")
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, at.Add(time.Hour), *completed.CompletedAt)

	cancelled, err := p.Transition(PlanStatusCancelled, at, "weather")
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, "weather", cancelled.CancellationReason)
}

func TestPlanDueChecks(t *testing.T) {
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	p := Plan{
		Status:     PlanStatusNew,
		Visibility: PlanVisibilityPublic,
		StartDate:  now,
		EndDate:    now.Add(48 * time.Hour),
	}

	assert.True(t, p.IsOpenForApplication())
	assert.True(t, p.IsDueToStart(now))
	assert.False(t, p.IsDueToStart(now.Add(-time.Second)))
	assert.False(t, p.IsDueToComplete(now.Add(72*time.Hour)))

	p.Status = PlanStatusInProgress
	assert.False(t, p.IsOpenForApplication())
	assert.False(t, p.IsDueToStart(now))
	assert.True(t, p.IsDueToComplete(now.Add(48*time.Hour)))

	p.Status = PlanStatusNew
	p.Visibility = PlanVisibilityPrivate
	assert.False(t, p.IsOpenForApplication())
}

func TestNotificationRetry(t *testing.T) {
	at := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	n := Notification{Status: NotificationPending}

	for i := 0; i < MaxNotificationAttempts; i++ {
		n.MarkFailed(assert.AnError, at)
		if i < MaxNotificationAttempts-1 {
			assert.True(t, n.CanRetry())
		}
	}
	assert.False(t, n.CanRetry())
	assert.Equal(t, assert.AnError.Error(), n.Error)

	n.MarkSent(at)
	assert.Equal(t, NotificationSent, n.Status)
	assert.Empty(t, n.Error)
	require.NotNil(t, n.SentAt)
}
