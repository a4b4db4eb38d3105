// Package notify delivers plan and membership events to users.
//
// The service publishes events after its transaction commits. A Dispatcher
// queues them, renders the text, sends it through a Sender and records every
// attempt as a models.Notification. Failed attempts are retried on a timer.
package notify

import (
	"fmt"
	"html"

	"github.com/Kerhoff/tripbot/internal/models"
)

// Event is something a user should hear about.
type Event struct {
	Type      models.NotificationEvent
	UserID    int64
	PlanID    int64
	PlanTitle string
	// Actor is the display name of the user who caused the event, if any.
	Actor string
	// Detail carries a response message or a cancellation reason.
	Detail string
}

// Publisher accepts events for asynchronous delivery. Publish never blocks
// on delivery and never fails.
type Publisher interface {
	Publish(events ...Event)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(...Event) {}

// Render returns the Telegram HTML text for an event.
func Render(ev Event) string {
	title := "<b>" + html.EscapeString(ev.PlanTitle) + "</b>"
	actor := html.EscapeString(ev.Actor)

	var text string
	switch ev.Type {
	case models.EventInvitationCreated:
		text = fmt.Sprintf("✉️ %s invited you to %s.\nUse /join %d or /decline %d.", actor, title, ev.PlanID, ev.PlanID)
	case models.EventApplicationReceived:
		text = fmt.Sprintf("📥 %s applied to %s.\nSee /pending %d.", actor, title, ev.PlanID)
	case models.EventApplicationAccepted:
		text = fmt.Sprintf("✅ Your application to %s was accepted.", title)
	case models.EventApplicationRefused:
		text = fmt.Sprintf("❌ Your application to %s was refused.", title)
	case models.EventInvitationAccepted:
		text = fmt.Sprintf("✅ %s accepted your invitation to %s.", actor, title)
	case models.EventInvitationRefused:
		text = fmt.Sprintf("❌ %s declined your invitation to %s.", actor, title)
	case models.EventRequestAutoRefused:
		text = fmt.Sprintf("⛔ Your pending request for %s was closed: the plan is no longer taking members.", title)
	case models.EventPlanStarted:
		text = fmt.Sprintf("🧳 %s has started. Have a great trip!", title)
	case models.EventPlanCompleted:
		text = fmt.Sprintf("🏁 %s is complete. Welcome back!", title)
	case models.EventPlanCancelled:
		text = fmt.Sprintf("🚫 %s was cancelled.", title)
	default:
		text = fmt.Sprintf("ℹ️ Update on %s.", title)
	}

	if ev.Detail != "" {
		text += "\n<i>" + html.EscapeString(ev.Detail) + "</i>"
	}
	return text
}
