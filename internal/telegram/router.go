package telegram

import (
	"context"
	"errors"
	"html"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/apperr"
)

// Messenger is the part of the bot API handlers need. *tgbotapi.BotAPI
// satisfies it.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// CommandHandler defines the interface for command handlers
type CommandHandler interface {
	Handle(ctx context.Context, bot Messenger, message *tgbotapi.Message, args []string) error
}

// Router handles message routing and command parsing
type Router struct {
	logger   *logrus.Logger
	handlers map[string]CommandHandler
}

// NewRouter creates a new message router
func NewRouter(logger *logrus.Logger) *Router {
	return &Router{
		logger:   logger,
		handlers: make(map[string]CommandHandler),
	}
}

// RegisterCommand registers a command handler
func (r *Router) RegisterCommand(command string, handler CommandHandler) {
	r.handlers[command] = handler
	r.logger.Debugf("Registered command: %s", command)
}

// Commands returns the registered command names, sorted.
func (r *Router) Commands() []string {
	out := make([]string, 0, len(r.handlers))
	for c := range r.handlers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HandleMessage handles incoming messages
func (r *Router) HandleMessage(ctx context.Context, bot Messenger, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	r.logger.WithFields(logrus.Fields{
		"chat_id":    message.Chat.ID,
		"user_id":    message.From.ID,
		"username":   message.From.UserName,
		"message_id": message.MessageID,
	}).Debug("Received message")

	if message.Text == "" || !message.IsCommand() {
		return
	}

	r.dispatch(ctx, bot, message, message.Command(), strings.Fields(message.CommandArguments()))
}

// HandleCallbackQuery routes inline keyboard presses. Callback data has the
// form "command arg...", and runs the command as if the pressing user had
// typed it in the chat the keyboard was shown in.
func (r *Router) HandleCallbackQuery(ctx context.Context, bot Messenger, query *tgbotapi.CallbackQuery) {
	r.logger.WithFields(logrus.Fields{
		"callback_id": query.ID,
		"user_id":     query.From.ID,
		"data":        query.Data,
	}).Debug("Received callback query")

	// Answer the callback query to remove loading state
	if _, err := bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		r.logger.WithError(err).Warn("Failed to answer callback query")
	}

	fields := strings.Fields(query.Data)
	if len(fields) == 0 || query.Message == nil {
		return
	}

	message := *query.Message
	message.From = query.From
	message.Text = query.Data
	message.Entities = nil
	r.dispatch(ctx, bot, &message, fields[0], fields[1:])
}

func (r *Router) dispatch(ctx context.Context, bot Messenger, message *tgbotapi.Message, command string, args []string) {
	handler, exists := r.handlers[command]
	if !exists {
		r.logger.WithFields(logrus.Fields{
			"command": command,
			"chat_id": message.Chat.ID,
			"user_id": message.From.ID,
		}).Warn("Unknown command")

		r.reply(bot, message.Chat.ID, "❓ Unknown command. Use /help to see available commands.")
		return
	}

	if err := handler.Handle(ctx, bot, message, args); err != nil {
		entry := r.logger.WithFields(logrus.Fields{
			"command": command,
			"chat_id": message.Chat.ID,
			"user_id": message.From.ID,
			"error":   err,
		})
		if apperr.KindOf(err) == apperr.KindInternal {
			entry.Error("Command handler failed")
		} else {
			entry.Info("Command rejected")
		}
		r.reply(bot, message.Chat.ID, ErrorText(err))
	}
}

func (r *Router) reply(bot Messenger, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := bot.Send(msg); err != nil {
		r.logger.WithError(err).Error("Failed to send reply")
	}
}

// ErrorText turns a handler error into the HTML text shown to the user.
// Classified errors show their message; anything else is generic.
func ErrorText(err error) string {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		return "❌ An error occurred while processing your command. Please try again."
	}

	text := "❌ " + html.EscapeString(appErr.Message)
	if details, ok := appErr.Details.(map[string]string); ok && appErr.Kind == apperr.KindValidation {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			text += "\n• <b>" + html.EscapeString(k) + "</b>: " + html.EscapeString(details[k])
		}
	}
	return text
}
