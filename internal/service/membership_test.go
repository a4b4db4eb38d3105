package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/tripbot/internal/apperr"
	"github.com/Kerhoff/tripbot/internal/models"
)

func TestIsFull(t *testing.T) {
	plan := &models.Plan{MaxMembers: 2}
	assert.False(t, IsFull(plan, 1))
	assert.True(t, IsFull(plan, 2))
	assert.True(t, IsFull(plan, 3))
}

func TestApplyTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	owner, ann := f.user("owner"), f.user("ann")
	plan := f.plan(owner, 3)

	m, err := f.svc.Apply(f.ctx, ann.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipApplied, m.Status)
	require.NotNil(t, m.AppliedAt)

	_, err = f.svc.Apply(f.ctx, ann.ID, plan.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	received := f.pub.ofType(models.EventApplicationReceived)
	require.Len(t, received, 1)
	assert.Equal(t, owner.ID, received[0].UserID)
}

func TestApplyAfterCancelIsAlreadyRelated(t *testing.T) {
	f := newFixture(t)
	owner, ann := f.user("owner"), f.user("ann")
	plan := f.plan(owner, 3)

	_, err := f.svc.Apply(f.ctx, ann.ID, plan.ID)
	require.NoError(t, err)
	cancelled, err := f.svc.CancelApplication(f.ctx, ann.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipAppliedCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Apply(f.ctx, ann.ID, plan.ID)
	assert.ErrorIs(t, err, ErrAlreadyRelated)

	_, err = f.svc.CancelApplication(f.ctx, ann.ID, plan.ID)
	assert.ErrorIs(t, err, ErrNoPendingApplication)
}

func TestApplyWithCurrentPlanFails(t *testing.T) {
	f := newFixture(t)
	x, y := f.user("x"), f.user("y")
	f.plan(x, 3)
	p2 := f.plan(y, 3)

	_, err := f.svc.Apply(f.ctx, x.ID, p2.ID)
	assert.ErrorIs(t, err, ErrAlreadyHasCurrentPlan)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestApplyPreconditions(t *testing.T) {
	f := newFixture(t)
	owner, ann, bob := f.user("owner"), f.user("ann"), f.user("bob")

	_, err := f.svc.Apply(f.ctx, ann.ID, 9999)
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	private, err := f.svc.CreatePlan(f.ctx, owner.ID, CreatePlanInput{
		Title:       "Secret",
		Destination: "Oslo",
		Visibility:  models.PlanVisibilityPrivate,
		MaxMembers:  4,
		StartDate:   f.clock.Now().Add(48 * time.Hour),
		EndDate:     f.clock.Now().Add(96 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.Apply(f.ctx, ann.ID, private.ID)
	assert.ErrorIs(t, err, ErrPlanNotOpen)

	solo := f.user("solo")
	full := f.plan(solo, 1)
	_, err = f.svc.Apply(f.ctx, bob.ID, full.ID)
	assert.ErrorIs(t, err, ErrPlanFull)
}

func TestInviteRules(t *testing.T) {
	f := newFixture(t)
	owner, ann, bob := f.user("owner"), f.user("ann"), f.user("bob")
	plan := f.plan(owner, 3)

	_, err := f.svc.Invite(f.ctx, ann.ID, plan.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	m, err := f.svc.Invite(f.ctx, owner.ID, plan.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipInvited, m.Status)
	require.NotNil(t, m.InvitedAt)

	_, err = f.svc.Invite(f.ctx, owner.ID, plan.ID, bob.ID)
	assert.ErrorIs(t, err, ErrInviteeHasCurrentPlan)

	other := f.user("other")
	f.plan(other, 3)
	_, err = f.svc.Invite(f.ctx, owner.ID, plan.ID, other.ID)
	assert.ErrorIs(t, err, ErrInviteeHasCurrentPlan)

	invites := f.pub.ofType(models.EventInvitationCreated)
	require.Len(t, invites, 1)
	assert.Equal(t, bob.ID, invites[0].UserID)
	assert.Equal(t, "@owner", invites[0].Actor)
}

func TestInviteUnknownUser(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	plan := f.plan(owner, 3)

	_, err := f.svc.Invite(f.ctx, owner.ID, plan.ID, 424242)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAcceptingFillsPlanAndRefusesPending(t *testing.T) {
	f := newFixture(t)
	owner, a, b, c := f.user("owner"), f.user("a"), f.user("b"), f.user("c")
	plan := f.plan(owner, 2)

	_, err := f.svc.Apply(f.ctx, a.ID, plan.ID)
	require.NoError(t, err)
	_, err = f.svc.Apply(f.ctx, c.ID, plan.ID)
	require.NoError(t, err)
	_, err = f.svc.Invite(f.ctx, owner.ID, plan.ID, b.ID)
	require.NoError(t, err)
	f.pub.reset()

	m, err := f.svc.HandleApplication(f.ctx, owner.ID, plan.ID, a.ID, Accept, "welcome aboard")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipAppliedAccepted, m.Status)
	assert.Equal(t, "welcome aboard", m.ResponseMessage)

	assert.Equal(t, 2, f.activeCount(plan.ID))
	assert.Equal(t, models.MembershipInvitedRefused, f.status(b.ID, plan.ID))
	assert.Equal(t, models.MembershipAppliedRefused, f.status(c.ID, plan.ID))

	pending, err := f.svc.ListPending(f.ctx, owner.ID, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Len(t, f.pub.ofType(models.EventApplicationAccepted), 1)
	assert.Len(t, f.pub.ofType(models.EventRequestAutoRefused), 2)

	// the refused users are free again
	_, err = f.svc.CreatePlan(f.ctx, b.ID, CreatePlanInput{
		Title: "B's own", Destination: "Nice", MaxMembers: 2,
		StartDate: f.clock.Now().Add(24 * time.Hour), EndDate: f.clock.Now().Add(48 * time.Hour),
	})
	assert.NoError(t, err)
}

func TestHandleApplicationOnResolvedMembership(t *testing.T) {
	f := newFixture(t)
	owner, a := f.user("owner"), f.user("a")
	plan := f.plan(owner, 4)

	_, err := f.svc.Apply(f.ctx, a.ID, plan.ID)
	require.NoError(t, err)
	_, err = f.svc.HandleApplication(f.ctx, owner.ID, plan.ID, a.ID, Accept, "")
	require.NoError(t, err)

	_, err = f.svc.HandleApplication(f.ctx, owner.ID, plan.ID, a.ID, Accept, "")
	assert.ErrorIs(t, err, ErrNoPendingApplication)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	_, err = f.svc.HandleApplication(f.ctx, owner.ID, plan.ID, a.ID, Refuse, "")
	assert.ErrorIs(t, err, ErrNoPendingApplication)

	assert.Equal(t, models.MembershipAppliedAccepted, f.status(a.ID, plan.ID))
}

func TestHandleApplicationRequiresOwner(t *testing.T) {
	f := newFixture(t)
	owner, a, b := f.user("owner"), f.user("a"), f.user("b")
	plan := f.plan(owner, 4)

	_, err := f.svc.Apply(f.ctx, a.ID, plan.ID)
	require.NoError(t, err)

	_, err = f.svc.HandleApplication(f.ctx, b.ID, plan.ID, a.ID, Accept, "")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.HandleApplication(f.ctx, owner.ID, plan.ID, a.ID, Decision("MAYBE"), "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	refused, err := f.svc.HandleApplication(f.ctx, owner.ID, plan.ID, a.ID, Refuse, "sorry")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipAppliedRefused, refused.Status)
	require.NotNil(t, refused.RefusedAt)

	events := f.pub.ofType(models.EventApplicationRefused)
	require.Len(t, events, 1)
	assert.Equal(t, "sorry", events[0].Detail)
}

func TestHandleInvitation(t *testing.T) {
	f := newFixture(t)
	owner, a, b := f.user("owner"), f.user("a"), f.user("b")
	plan := f.plan(owner, 4)

	_, err := f.svc.HandleInvitation(f.ctx, a.ID, plan.ID, Accept, "")
	assert.ErrorIs(t, err, ErrNoPendingInvitation)

	_, err = f.svc.Invite(f.ctx, owner.ID, plan.ID, a.ID)
	require.NoError(t, err)
	_, err = f.svc.Invite(f.ctx, owner.ID, plan.ID, b.ID)
	require.NoError(t, err)

	accepted, err := f.svc.HandleInvitation(f.ctx, a.ID, plan.ID, Accept, "")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipInvitedAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	declined, err := f.svc.HandleInvitation(f.ctx, b.ID, plan.ID, Refuse, "busy")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipInvitedRefused, declined.Status)

	_, err = f.svc.HandleInvitation(f.ctx, b.ID, plan.ID, Accept, "")
	assert.ErrorIs(t, err, ErrNoPendingInvitation)

	ok, err := f.svc.IsActiveMember(f.ctx, a.ID, plan.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.IsActiveMember(f.ctx, b.ID, plan.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	toOwner := f.pub.ofType(models.EventInvitationAccepted)
	require.Len(t, toOwner, 1)
	assert.Equal(t, owner.ID, toOwner[0].UserID)
}

func TestConcurrentAcceptsNeverExceedCapacity(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	plan := f.plan(owner, 3)

	var applicants []*models.User
	for i := 0; i < 8; i++ {
		u := f.user(string(rune('a' + i)))
		_, err := f.svc.Apply(f.ctx, u.ID, plan.ID)
		require.NoError(t, err)
		applicants = append(applicants, u)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for _, u := range applicants {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.svc.HandleApplication(f.ctx, owner.ID, plan.ID, userID, Accept, "")
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrNoPendingApplication) || errors.Is(err, ErrPlanFull), err)
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 2, accepted)
	assert.Equal(t, 3, f.activeCount(plan.ID))

	n, err := f.store.Memberships().CountByStatus(f.ctx, plan.ID, models.PendingMembershipStatuses)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentAppliesByOneUserKeepOneCurrentPlan(t *testing.T) {
	f := newFixture(t)
	traveller := f.user("traveller")

	var plans []*models.Plan
	for i := 0; i < 6; i++ {
		plans = append(plans, f.plan(f.user(string(rune('m'+i))), 5))
	}

	var wg sync.WaitGroup
	for _, p := range plans {
		wg.Add(1)
		go func(planID int64) {
			defer wg.Done()
			_, _ = f.svc.Apply(f.ctx, traveller.ID, planID)
		}(p.ID)
	}
	wg.Wait()

	held := 0
	for _, p := range plans {
		if f.status(traveller.ID, p.ID).HoldsPlan() {
			held++
		}
	}
	assert.Equal(t, 1, held)
}

func TestOwnersInvitingEachOtherGetConflicts(t *testing.T) {
	f := newFixture(t)
	ann, bob := f.user("ann"), f.user("bob")
	annPlan, bobPlan := f.plan(ann, 3), f.plan(bob, 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.Invite(f.ctx, ann.ID, annPlan.ID, bob.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.Invite(f.ctx, bob.ID, bobPlan.ID, ann.ID)
	}()
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrInviteeHasCurrentPlan)
	}
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" accept ")
	require.NoError(t, err)
	assert.Equal(t, Accept, d)

	_, err = ParseDecision("later")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
