package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// TelegramSender sends notifications as HTML messages.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender creates a sender on top of an authorized bot API.
func NewTelegramSender(api *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

// Send sends text to chatID. The bot API has no context support, so ctx is
// only checked before the call.
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// LogSender writes notifications to the log. It stands in for Telegram when
// the bot is disabled.
type LogSender struct {
	Logger *logrus.Logger
}

func (s LogSender) Send(_ context.Context, chatID int64, text string) error {
	s.Logger.WithField("chat_id", chatID).Infof("Notification: %s", text)
	return nil
}
