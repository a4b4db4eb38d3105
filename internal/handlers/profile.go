package handlers

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/service"
	"github.com/Kerhoff/tripbot/internal/telegram"
)

// EmailHandler handles /email <address>.
type EmailHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewEmailHandler creates a new EmailHandler.
func NewEmailHandler(svc *service.Service, logger *logrus.Logger) *EmailHandler {
	return &EmailHandler{svc: svc, logger: logger}
}

func (h *EmailHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	if len(args) != 1 {
		return usage(bot, message.Chat.ID, "Please provide one email address.", "/email me@example.com")
	}

	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}
	user, err = h.svc.SetEmail(ctx, user.ID, args[0])
	if err != nil {
		return err
	}
	return send(bot, message.Chat.ID, "📧 Saved. Others can now invite you as <code>"+html.EscapeString(user.Email)+"</code>.")
}

// InboxHandler handles /inbox.
type InboxHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewInboxHandler creates a new InboxHandler.
func NewInboxHandler(svc *service.Service, logger *logrus.Logger) *InboxHandler {
	return &InboxHandler{svc: svc, logger: logger}
}

func (h *InboxHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}
	list, err := h.svc.RecentNotifications(ctx, user.ID, 10)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return send(bot, message.Chat.ID, "📭 Nothing yet.")
	}

	var b strings.Builder
	b.WriteString("📬 <b>Latest notifications</b>\n")
	for _, n := range list {
		mark := ""
		if n.Status != models.NotificationSent {
			mark = " <i>(not delivered)</i>"
		}
		fmt.Fprintf(&b, "\n<b>%s</b>%s\n%s\n", n.CreatedAt.Format("2006-01-02 15:04"), mark, n.Message)
	}
	return send(bot, message.Chat.ID, b.String())
}
