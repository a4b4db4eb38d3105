package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(events ...notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) ofType(t models.NotificationEvent) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *Service
	store *memory.Store
	pub   *recordingPublisher
	clock *clock
	seq   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		svc:   New(store, pub, logger, WithClock(c.Now)),
		store: store,
		pub:   pub,
		clock: c,
	}
}

func (f *fixture) user(name string) *models.User {
	f.t.Helper()
	f.seq++
	u, err := f.svc.EnsureUser(f.ctx, 1000+f.seq, 5000+f.seq, name, name, "")
	require.NoError(f.t, err)
	return u
}

func (f *fixture) plan(owner *models.User, capacity int) *models.Plan {
	f.t.Helper()
	start := f.clock.Now().Add(7 * 24 * time.Hour)
	p, err := f.svc.CreatePlan(f.ctx, owner.ID, CreatePlanInput{
		Title:       fmt.Sprintf("%s's trip", owner.FirstName),
		Destination: "Kyoto",
		Visibility:  models.PlanVisibilityPublic,
		MaxMembers:  capacity,
		StartDate:   start,
		EndDate:     start.Add(5 * 24 * time.Hour),
	})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) status(userID, planID int64) models.MembershipStatus {
	f.t.Helper()
	m, err := f.store.Memberships().Get(f.ctx, userID, planID)
	require.NoError(f.t, err)
	if m == nil {
		return ""
	}
	return m.Status
}

func (f *fixture) planStatus(planID int64) models.PlanStatus {
	f.t.Helper()
	p, err := f.store.Plans().GetByID(f.ctx, planID)
	require.NoError(f.t, err)
	require.NotNil(f.t, p)
	return p.Status
}

func (f *fixture) activeCount(planID int64) int {
	f.t.Helper()
	n, err := f.store.Memberships().CountByStatus(f.ctx, planID, models.ActiveMembershipStatuses)
	require.NoError(f.t, err)
	return n
}
