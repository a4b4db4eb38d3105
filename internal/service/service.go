package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/apperr"
	"github.com/Kerhoff/tripbot/internal/metrics"
	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository"
	"github.com/Kerhoff/tripbot/internal/validation"
)

// Service is the central business logic layer. It owns the membership state
// machine, plan lifecycle operations and the queries the bot and API need.
type Service struct {
	store     repository.Store
	publisher notify.Publisher
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a new Service with all required dependencies.
func New(store repository.Store, publisher notify.Publisher, logger *logrus.Logger, opts ...Option) *Service {
	if publisher == nil {
		publisher = notify.Discard{}
	}
	s := &Service{
		store:     store,
		publisher: publisher,
		validator: validation.New(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withinTx runs fn in a transaction and publishes the events it collected
// once the transaction has committed.
func (s *Service) withinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) ([]notify.Event, error)) error {
	var events []notify.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		events, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}
	if len(events) > 0 {
		s.publisher.Publish(events...)
	}
	return nil
}

// EnsureUser retrieves an existing user by Telegram ID, or creates a new one
// if not found. Profile fields and the private chat ID are kept up to date.
// A chatID of 0 leaves the stored chat untouched.
func (s *Service) EnsureUser(ctx context.Context, telegramID, chatID int64, username, firstName, lastName string) (*models.User, error) {
	username = strings.TrimSpace(username)
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	fields := logrus.Fields{"telegram_id": telegramID}

	user, err := s.store.Users().GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, s.wrap(err, "failed to lookup user", fields)
	}
	if user == nil {
		now := s.now()
		user, err = s.store.Users().Create(ctx, &models.User{
			TelegramID:       telegramID,
			ChatID:           chatID,
			TelegramUsername: username,
			FirstName:        firstName,
			LastName:         lastName,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			// lost a race with another update from the same user
			user, err = s.store.Users().GetByTelegramID(ctx, telegramID)
			return user, s.wrap(err, "failed to lookup user", fields)
		}
		if err != nil {
			return nil, s.wrap(err, "failed to create user", fields)
		}
		s.logger.WithFields(fields).Infof("Created new user: %s", user.DisplayName())
		return user, nil
	}

	needsUpdate := false
	if user.TelegramUsername != username {
		user.TelegramUsername = username
		needsUpdate = true
	}
	if user.FirstName != firstName {
		user.FirstName = firstName
		needsUpdate = true
	}
	if user.LastName != lastName {
		user.LastName = lastName
		needsUpdate = true
	}
	if chatID != 0 && user.ChatID != chatID {
		user.ChatID = chatID
		needsUpdate = true
	}

	if needsUpdate {
		user.UpdatedAt = s.now()
		user, err = s.store.Users().Update(ctx, user)
		if err != nil {
			return nil, s.wrap(err, "failed to update user", fields)
		}
		s.logger.WithFields(fields).Infof("Updated user profile: %s", user.DisplayName())
	}

	return user, nil
}

type emailInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// SetEmail stores the user's email so other users can invite them by it.
func (s *Service) SetEmail(ctx context.Context, userID int64, email string) (*models.User, error) {
	in := emailInput{Email: strings.ToLower(strings.TrimSpace(email))}
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	fields := logrus.Fields{"user_id": userID}

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, s.wrap(err, "failed to load user", fields)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	other, err := s.store.Users().GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, s.wrap(err, "failed to lookup email", fields)
	}
	if other != nil && other.ID != userID {
		return nil, ErrEmailTaken
	}

	user.Email = in.Email
	user.UpdatedAt = s.now()
	user, err = s.store.Users().Update(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		// claimed concurrently after the lookup above
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, s.wrap(err, "failed to update email", fields)
	}
	return user, nil
}

// FindUser resolves a handle typed by a user: "@name", "name" or an email.
func (s *Service) FindUser(ctx context.Context, handle string) (*models.User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperr.Validation("a username or email is required", nil)
	}

	var (
		user *models.User
		err  error
	)
	if !strings.HasPrefix(handle, "@") && strings.Contains(handle, "@") {
		user, err = s.store.Users().GetByEmail(ctx, strings.ToLower(handle))
	} else {
		user, err = s.store.Users().GetByUsername(ctx, strings.TrimPrefix(handle, "@"))
	}
	if err != nil {
		return nil, s.wrap(err, "failed to lookup user", logrus.Fields{"handle": handle})
	}
	if user == nil {
		return nil, ErrUserNotFound.WithDetails(map[string]string{"handle": handle})
	}
	return user, nil
}

// GetUser returns a user by internal ID.
func (s *Service) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, s.wrap(err, "failed to load user", logrus.Fields{"user_id": userID})
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RecentNotifications returns the user's latest notifications, newest first.
func (s *Service) RecentNotifications(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	list, err := s.store.Notifications().ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, s.wrap(err, "failed to list notifications", logrus.Fields{"user_id": userID})
	}
	return list, nil
}
