package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Kerhoff/tripbot/internal/metrics"
	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
	"github.com/Kerhoff/tripbot/pkg/logger"
)

// ErrUnreachable is recorded when a user has no chat the bot can write to.
var ErrUnreachable = errors.New("user has no chat with the bot")

// Sender sends text to a Telegram chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Options configures a Dispatcher.
type Options struct {
	QueueSize     int
	Rate          float64 // messages per second
	RetryInterval time.Duration
	RetryBatch    int
}

// Dispatcher delivers events on a background goroutine.
type Dispatcher struct {
	store   repository.Store
	sender  Sender
	limiter *rate.Limiter
	queue   chan Event
	opts    Options
	logger  *logrus.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. Zero options fall back to defaults.
func NewDispatcher(store repository.Store, sender Sender, opts Options, log *logrus.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Rate <= 0 {
		opts.Rate = 25
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Minute
	}
	if opts.RetryBatch <= 0 {
		opts.RetryBatch = 50
	}

	burst := int(opts.Rate)
	if burst < 1 {
		burst = 1
	}

	return &Dispatcher{
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), burst),
		queue:   make(chan Event, opts.QueueSize),
		opts:    opts,
		logger:  logger.WithComponent(log, "dispatcher"),
		metrics: m,
		now:     time.Now,
	}
}

// Publish queues events. When the queue is full the event is dropped and
// logged rather than blocking the caller.
func (d *Dispatcher) Publish(events ...Event) {
	for _, ev := range events {
		select {
		case d.queue <- ev:
		default:
			d.metrics.Dropped()
			d.logger.WithFields(logrus.Fields{
				"event":   ev.Type,
				"user_id": ev.UserID,
				"plan_id": ev.PlanID,
			}).Warn("Notification queue full, dropping event")
		}
	}
}

// Run delivers queued events and retries failed ones until ctx is cancelled.
// It should be launched in a separate goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.RetryInterval)
	defer ticker.Stop()

	d.logger.Info("Notification dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.WithField("pending", len(d.queue)).Info("Notification dispatcher stopped")
			return
		case ev := <-d.queue:
			if err := d.Deliver(ctx, ev); err != nil {
				d.logger.WithFields(logrus.Fields{
					"event":   ev.Type,
					"user_id": ev.UserID,
					"plan_id": ev.PlanID,
				}).WithError(err).Warn("Notification delivery failed")
			}
		case <-ticker.C:
			if _, err := d.RetryFailed(ctx); err != nil {
				d.logger.WithError(err).Error("Failed to retry notifications")
			}
		}
	}
}

// Deliver records and sends one event. The returned error is the delivery
// error, already persisted on the notification record.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) error {
	now := d.now()
	n, err := d.store.Notifications().Create(ctx, &models.Notification{
		UserID:    ev.UserID,
		PlanID:    ev.PlanID,
		Event:     ev.Type,
		Message:   Render(ev),
		Status:    models.NotificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return d.attempt(ctx, n)
}

// RetryFailed resends failed notifications that have attempts left and
// returns how many were sent successfully.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	pending, err := d.store.Notifications().ListRetryable(ctx, d.opts.RetryBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable notifications: %w", err)
	}

	sent := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := d.attempt(ctx, n); err == nil {
			sent++
		}
	}
	if len(pending) > 0 {
		d.logger.WithFields(logrus.Fields{"retried": len(pending), "sent": sent}).Info("Retried failed notifications")
	}
	return sent, nil
}

func (d *Dispatcher) attempt(ctx context.Context, n *models.Notification) error {
	sendErr := d.send(ctx, n)

	if sendErr != nil {
		n.MarkFailed(sendErr, d.now())
	} else {
		n.MarkSent(d.now())
	}
	d.metrics.Notification(string(n.Event), string(n.Status))

	if _, err := d.store.Notifications().Update(ctx, n); err != nil {
		d.logger.WithField("notification_id", n.ID).WithError(err).Error("Failed to update notification record")
	}
	return sendErr
}

func (d *Dispatcher) send(ctx context.Context, n *models.Notification) error {
	user, err := d.store.Users().GetByID(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", n.UserID, err)
	}
	if user == nil || !user.CanReceiveMessages() {
		return ErrUnreachable
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.sender.Send(ctx, user.ChatID, n.Message)
}
