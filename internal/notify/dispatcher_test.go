package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository/memory"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  map[int64][]string
	fails int
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram: too many requests")
	}
	if f.sent == nil {
		f.sent = make(map[int64][]string)
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeSender) messages(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

func newDispatcher(t *testing.T, sender Sender, opts Options) (*Dispatcher, *memory.Store, *models.User) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.NewStore()
	user, err := store.Users().Create(context.Background(), &models.User{TelegramID: 7, ChatID: 700, FirstName: "Dee"})
	require.NoError(t, err)
	return NewDispatcher(store, sender, opts, logger, nil), store, user
}

func TestDeliverRecordsSent(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	d, store, user := newDispatcher(t, sender, Options{})

	err := d.Deliver(ctx, Event{
		Type:      models.EventPlanStarted,
		UserID:    user.ID,
		PlanID:    3,
		PlanTitle: "Alps <winter>",
	})
	require.NoError(t, err)

	msgs := sender.messages(700)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Alps &lt;winter&gt;")

	records, err := store.Notifications().ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.NotificationSent, records[0].Status)
	assert.Equal(t, 1, records[0].Attempts)
	assert.NotNil(t, records[0].SentAt)
}

func TestDeliverRecordsFailureAndRetries(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{fails: 1}
	d, store, user := newDispatcher(t, sender, Options{})

	err := d.Deliver(ctx, Event{Type: models.EventPlanCompleted, UserID: user.ID, PlanID: 3, PlanTitle: "Alps"})
	require.Error(t, err)

	records, err := store.Notifications().ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.NotificationFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "too many requests")

	sent, err := d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	records, err = store.Notifications().ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, records[0].Status)
	assert.Equal(t, 2, records[0].Attempts)

	// nothing left to retry
	sent, err = d.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestDeliverUnreachableUser(t *testing.T) {
	ctx := context.Background()
	d, store, _ := newDispatcher(t, &fakeSender{}, Options{})

	silent, err := store.Users().Create(ctx, &models.User{TelegramID: 8, FirstName: "Eli"})
	require.NoError(t, err)

	err = d.Deliver(ctx, Event{Type: models.EventInvitationCreated, UserID: silent.ID, PlanID: 1, PlanTitle: "Alps"})
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestPublishDropsWhenFull(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := memory.NewStore()
	d := NewDispatcher(store, &fakeSender{}, Options{QueueSize: 1}, logger, nil)

	d.Publish(
		Event{Type: models.EventPlanStarted, UserID: 1},
		Event{Type: models.EventPlanStarted, UserID: 1},
	)
	assert.Len(t, d.queue, 1)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "dispatcher", hook.LastEntry().Data["component"])
}

func TestRunDeliversQueuedEvents(t *testing.T) {
	sender := &fakeSender{}
	d, _, user := newDispatcher(t, sender, Options{RetryInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Publish(Event{Type: models.EventApplicationAccepted, UserID: user.ID, PlanID: 2, PlanTitle: "Rome", Detail: "welcome"})

	require.Eventually(t, func() bool { return len(sender.messages(700)) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	msg := sender.messages(700)[0]
	assert.True(t, strings.Contains(msg, "accepted"))
	assert.True(t, strings.Contains(msg, "<i>welcome</i>"))
}

func TestRenderCoversEveryEvent(t *testing.T) {
	events := []models.NotificationEvent{
		models.EventInvitationCreated, models.EventApplicationReceived, models.EventApplicationAccepted,
		models.EventApplicationRefused, models.EventInvitationAccepted, models.EventInvitationRefused,
		models.EventRequestAutoRefused, models.EventPlanStarted, models.EventPlanCompleted,
		models.EventPlanCancelled,
	}
	for _, e := range events {
		text := Render(Event{Type: e, PlanID: 4, PlanTitle: "Oslo", Actor: "@ann"})
		assert.Contains(t, text, "<b>Oslo</b>", e)
		assert.NotContains(t, text, "Update on", e)
	}
}
