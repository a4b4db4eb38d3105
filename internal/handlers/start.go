package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/service"
	"github.com/Kerhoff/tripbot/internal/telegram"
)

// Descriptions is the command menu published to Telegram clients.
var Descriptions = map[string]string{
	"start":        "Register and show a welcome message",
	"help":         "Show all commands",
	"newplan":      "Create a travel plan",
	"plans":        "Browse open public plans",
	"myplan":       "Show your current plan",
	"plan":         "Show a plan",
	"history":      "Show your past trips",
	"apply":        "Apply to join a plan",
	"withdraw":     "Withdraw your pending application",
	"invite":       "Invite someone to your plan",
	"approve":      "Accept an application",
	"reject":       "Refuse an application",
	"join":         "Accept an invitation",
	"decline":      "Decline an invitation",
	"members":      "List the members of a plan",
	"pending":      "List pending requests of your plan",
	"startplan":    "Start your plan now",
	"completeplan": "Mark your trip as complete",
	"cancelplan":   "Cancel your plan",
	"email":        "Set the email others can invite you by",
	"inbox":        "Show your latest notifications",
}

// StartHandler handles the /start command
type StartHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewStartHandler creates a new start command handler
func NewStartHandler(svc *service.Service, logger *logrus.Logger) *StartHandler {
	return &StartHandler{svc: svc, logger: logger}
}

// Handle registers the user so they can be invited and notified.
func (h *StartHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	text := "🌍 <b>Welcome to TripBot!</b>\n\n" +
		"Plan trips together: create a plan, invite friends or apply to open plans. " +
		"I will start and finish your trip on its dates and keep everyone posted.\n\n" +
		"• /newplan to create a plan\n" +
		"• /plans to browse open plans\n" +
		"• /help for all commands"
	if !user.CanReceiveMessages() {
		text += "\n\n⚠️ Message me privately with /start so I can send you notifications."
	}

	if err := send(bot, message.Chat.ID, text); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"chat_id": message.Chat.ID,
		"user_id": user.ID,
	}).Info("Sent start message")

	return nil
}

// HelpHandler handles the /help command
type HelpHandler struct {
	logger *logrus.Logger
}

func NewHelpHandler(logger *logrus.Logger) *HelpHandler {
	return &HelpHandler{logger: logger}
}

func (h *HelpHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	helpText := `📚 <b>TripBot Help</b>

<b>Plans:</b>
• /newplan Title | Destination | YYYY-MM-DD | YYYY-MM-DD | max members [| private] [| description]
• /plans [keyword] - Browse open plans, optionally matching title, description or destination
• /myplan - Your current plan
• /plan &lt;id&gt; - Show a plan
• /members [id] - Who is going
• /history - Your past trips

<b>Joining:</b>
• /apply &lt;id&gt; - Apply to a plan
• /withdraw [id] - Withdraw your application
• /join [id] - Accept an invitation
• /decline [id] [message] - Decline an invitation

<b>Owners:</b>
• /invite &lt;@user|email&gt; - Invite someone
• /pending [id] - Pending requests
• /approve &lt;@user&gt; [message] - Accept an application
• /reject &lt;@user&gt; [message] - Refuse an application
• /startplan, /completeplan - Move the trip along
• /cancelplan [reason] - Cancel before it starts

<b>You:</b>
• /email &lt;address&gt; - Let people invite you by email
• /inbox - Latest notifications

<i>Commands without an id use your current plan.</i>`

	if err := send(bot, message.Chat.ID, helpText); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"chat_id": message.Chat.ID,
		"user_id": message.From.ID,
	}).Debug("Sent help message")

	return nil
}
