package models

import "time"

// NotificationEvent identifies what happened to a plan or membership
type NotificationEvent string

const (
	EventInvitationCreated   NotificationEvent = "INVITATION_CREATED"
	EventApplicationReceived NotificationEvent = "APPLICATION_RECEIVED"
	EventApplicationAccepted NotificationEvent = "APPLICATION_ACCEPTED"
	EventApplicationRefused  NotificationEvent = "APPLICATION_REFUSED"
	EventInvitationAccepted  NotificationEvent = "INVITATION_ACCEPTED"
	EventInvitationRefused   NotificationEvent = "INVITATION_REFUSED"
	EventRequestAutoRefused  NotificationEvent = "REQUEST_AUTO_REFUSED"
	EventPlanStarted         NotificationEvent = "PLAN_STARTED"
	EventPlanCompleted       NotificationEvent = "PLAN_COMPLETED"
	EventPlanCancelled       NotificationEvent = "PLAN_CANCELLED"
)

// NotificationStatus is the delivery outcome of a notification
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Notification records one delivery attempt to one user
type Notification struct {
	ID        int64              `json:"id" db:"id"`
	UserID    int64              `json:"user_id" db:"user_id"`
	PlanID    int64              `json:"plan_id" db:"plan_id"`
	Event     NotificationEvent  `json:"event" db:"event"`
	Message   string             `json:"message" db:"message"`
	Status    NotificationStatus `json:"status" db:"status"`
	Error     string             `json:"error,omitempty" db:"error"`
	Attempts  int                `json:"attempts" db:"attempts"`
	SentAt    *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
}

// MaxNotificationAttempts bounds how often a failed notification is retried.
const MaxNotificationAttempts = 3

// CanRetry returns true if a failed notification may be sent again.
func (n *Notification) CanRetry() bool {
	return n.Status == NotificationFailed && n.Attempts < MaxNotificationAttempts
}

// MarkSent records a successful delivery.
func (n *Notification) MarkSent(at time.Time) {
	n.Attempts++
	n.Status = NotificationSent
	n.Error = ""
	n.SentAt = &at
	n.UpdatedAt = at
}

// MarkFailed records a failed delivery.
func (n *Notification) MarkFailed(err error, at time.Time) {
	n.Attempts++
	n.Status = NotificationFailed
	if err != nil {
		n.Error = err.Error()
	}
	n.UpdatedAt = at
}
