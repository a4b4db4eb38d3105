package handlers

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Kerhoff/tripbot/internal/apperr"
	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/service"
	"github.com/Kerhoff/tripbot/internal/telegram"
)

// dateLayout is the date format users type and see.
const dateLayout = "2006-01-02"

// send sends an HTML message, optionally with an inline keyboard.
func send(bot telegram.Messenger, chatID int64, text string, keyboard ...[]tgbotapi.InlineKeyboardButton) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if len(keyboard) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	}
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// usage replies with the command syntax. Bad syntax is not a handler error.
func usage(bot telegram.Messenger, chatID int64, problem, syntax string) error {
	return send(bot, chatID, "❌ "+problem+"\nUsage: <code>"+html.EscapeString(syntax)+"</code>")
}

// currentUser registers or refreshes the sender. Only a private chat is
// stored as the user's notification chat.
func currentUser(ctx context.Context, svc *service.Service, message *tgbotapi.Message) (*models.User, error) {
	var chatID int64
	if message.Chat != nil && message.Chat.IsPrivate() {
		chatID = message.Chat.ID
	}
	user, err := svc.EnsureUser(ctx, message.From.ID, chatID, message.From.UserName, message.From.FirstName, message.From.LastName)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

// resolveUser accepts "@username", "username", an email or a numeric user ID.
func resolveUser(ctx context.Context, svc *service.Service, handle string) (*models.User, error) {
	if id, err := strconv.ParseInt(handle, 10, 64); err == nil {
		return svc.GetUser(ctx, id)
	}
	return svc.FindUser(ctx, handle)
}

// parsePlanID parses the first argument as a plan ID.
func parsePlanID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}

// planIDOrCurrent uses the explicit plan ID argument, falling back to the
// user's current plan.
func planIDOrCurrent(ctx context.Context, svc *service.Service, userID int64, args []string) (int64, []string, error) {
	if id, ok := parsePlanID(args); ok {
		return id, args[1:], nil
	}
	d, err := svc.CurrentPlan(ctx, userID)
	if err != nil {
		return 0, args, err
	}
	if d == nil {
		return 0, args, apperr.New(apperr.KindNotFound, "NO_CURRENT_PLAN", "you have no current travel plan, pass a plan ID")
	}
	return d.Plan.ID, args, nil
}

func statusEmoji(s models.PlanStatus) string {
	switch s {
	case models.PlanStatusNew:
		return "🆕"
	case models.PlanStatusInProgress:
		return "🧳"
	case models.PlanStatusCompleted:
		return "🏁"
	case models.PlanStatusCancelled:
		return "🚫"
	default:
		return "•"
	}
}

// planLine renders a plan as one list line.
func planLine(p *models.Plan) string {
	return fmt.Sprintf("%s <b>#%d</b> %s, %s (%s → %s)",
		statusEmoji(p.Status), p.ID,
		html.EscapeString(p.Title), html.EscapeString(p.Destination),
		p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout))
}

// planCard renders the full view of a plan.
func planCard(d *service.PlanDetails) string {
	p := d.Plan
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> (#%d)\n", statusEmoji(p.Status), html.EscapeString(p.Title), p.ID)
	fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(p.Destination))
	fmt.Fprintf(&b, "📅 %s → %s\n", p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout))
	fmt.Fprintf(&b, "👥 %d/%d members", d.ActiveMembers, p.MaxMembers)
	if d.IsFull() {
		b.WriteString(" (full)")
	}
	fmt.Fprintf(&b, "\n🔒 %s · %s", strings.ToLower(string(p.Visibility)), strings.ToLower(string(p.Status)))
	if d.PendingRequests > 0 {
		fmt.Fprintf(&b, "\n⏳ %d pending", d.PendingRequests)
	}
	if p.Description != "" {
		b.WriteString("\n\n" + html.EscapeString(p.Description))
	}
	if p.CancellationReason != "" {
		b.WriteString("\n\n<i>" + html.EscapeString(p.CancellationReason) + "</i>")
	}
	if d.ViewerStatus != "" {
		fmt.Fprintf(&b, "\n\nYour status: <b>%s</b>", d.ViewerStatus)
	}
	return b.String()
}

// parseDate reads a YYYY-MM-DD date as midnight UTC.
func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
}
