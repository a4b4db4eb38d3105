package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Kerhoff/tripbot/internal/models"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. a second membership for the same (user, plan) pair.
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound is returned when an update targets a row that does not exist.
// Reads return (nil, nil) instead.
var ErrNotFound = errors.New("record not found")

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// LockByID loads the user and holds a row lock until the transaction ends.
	LockByID(ctx context.Context, id int64) (*models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
}

// PlanRepository defines the interface for travel plan operations
type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	// LockByID loads the plan and holds a row lock until the transaction ends.
	LockByID(ctx context.Context, id int64) (*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	FindDueToStart(ctx context.Context, now time.Time, limit int) ([]*models.Plan, error)
	FindDueToComplete(ctx context.Context, now time.Time, limit int) ([]*models.Plan, error)
	// FindCurrentByUser returns the NEW or IN_PROGRESS plan the user holds a
	// current membership in, or nil.
	FindCurrentByUser(ctx context.Context, userID int64) (*models.Plan, error)
	ListDiscoverable(ctx context.Context, userID int64, filters PlanFilters) ([]*models.Plan, error)
	ListHistory(ctx context.Context, userID int64, filters PlanFilters) ([]*models.Plan, error)
}

// MembershipRepository defines the interface for membership operations
type MembershipRepository interface {
	Create(ctx context.Context, m *models.Membership) (*models.Membership, error)
	Get(ctx context.Context, userID, planID int64) (*models.Membership, error)
	Update(ctx context.Context, m *models.Membership) (*models.Membership, error)
	CountByStatus(ctx context.Context, planID int64, statuses []models.MembershipStatus) (int, error)
	// ListByPlan returns memberships with their User populated, oldest first.
	ListByPlan(ctx context.Context, planID int64, statuses []models.MembershipStatus) ([]*models.Membership, error)
	HasCurrentPlan(ctx context.Context, userID int64) (bool, error)
}

// NotificationRepository defines the interface for notification records
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) (*models.Notification, error)
	Update(ctx context.Context, n *models.Notification) (*models.Notification, error)
	ListRetryable(ctx context.Context, limit int) ([]*models.Notification, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Notification, error)
}

// Tx is a set of repositories bound to one transaction.
type Tx interface {
	Users() UserRepository
	Plans() PlanRepository
	Memberships() MembershipRepository
	Notifications() NotificationRepository
}

// Store gives access to repositories outside a transaction and runs
// functions inside one. Returning an error from fn rolls back every write.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// PlanFilters represents filters for listing plans
type PlanFilters struct {
	Destination string
	Keyword     string // matches title, description or destination
	Limit       int
	Offset      int
}
