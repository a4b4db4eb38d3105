package handlers

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/service"
	"github.com/Kerhoff/tripbot/internal/telegram"
)

// ---------------------------------------------------------------------------
// ApplyHandler – /apply <id>
// ---------------------------------------------------------------------------

// ApplyHandler applies the sender to a public plan.
type ApplyHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewApplyHandler creates a new ApplyHandler.
func NewApplyHandler(svc *service.Service, logger *logrus.Logger) *ApplyHandler {
	return &ApplyHandler{svc: svc, logger: logger}
}

// Handle processes the /apply command.
func (h *ApplyHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	planID, ok := parsePlanID(args)
	if !ok {
		return usage(bot, message.Chat.ID, "Please provide a plan ID.", "/apply 12")
	}

	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	if _, err := h.svc.Apply(ctx, user.ID, planID); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{"user_id": user.ID, "plan_id": planID}).Info("Applied to plan")
	return send(bot, message.Chat.ID, fmt.Sprintf("📨 Application sent for plan #%d. The owner will decide soon.", planID))
}

// ---------------------------------------------------------------------------
// WithdrawHandler – /withdraw [id]
// ---------------------------------------------------------------------------

// WithdrawHandler cancels the sender's pending application.
type WithdrawHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewWithdrawHandler creates a new WithdrawHandler.
func NewWithdrawHandler(svc *service.Service, logger *logrus.Logger) *WithdrawHandler {
	return &WithdrawHandler{svc: svc, logger: logger}
}

// Handle processes the /withdraw command.
func (h *WithdrawHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}
	planID, _, err := planIDOrCurrent(ctx, h.svc, user.ID, args)
	if err != nil {
		return err
	}

	if _, err := h.svc.CancelApplication(ctx, user.ID, planID); err != nil {
		return err
	}
	return send(bot, message.Chat.ID, fmt.Sprintf("↩️ Your application to plan #%d was withdrawn.", planID))
}

// ---------------------------------------------------------------------------
// InviteHandler – /invite <@user|email>
// ---------------------------------------------------------------------------

// InviteHandler lets an owner invite another user.
type InviteHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewInviteHandler creates a new InviteHandler.
func NewInviteHandler(svc *service.Service, logger *logrus.Logger) *InviteHandler {
	return &InviteHandler{svc: svc, logger: logger}
}

// Handle processes the /invite command.
func (h *InviteHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	owner, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	planID, rest, err := ownerTarget(ctx, h.svc, owner.ID, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return usage(bot, message.Chat.ID, "Who should I invite?", "/invite @username")
	}

	invitee, err := resolveUser(ctx, h.svc, rest[0])
	if err != nil {
		return err
	}

	if _, err := h.svc.Invite(ctx, owner.ID, planID, invitee.ID); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":    owner.ID,
		"plan_id":    planID,
		"invitee_id": invitee.ID,
	}).Info("Invitation sent")

	text := fmt.Sprintf("✉️ Invited %s to plan #%d.", html.EscapeString(invitee.DisplayName()), planID)
	if !invitee.CanReceiveMessages() {
		text += "\nThey have not messaged me privately yet, so ask them to check /myplan."
	}
	return send(bot, message.Chat.ID, text)
}

// ownerTarget splits "[plan id] <user> ..." arguments. A leading number is a
// plan ID only when more arguments follow, so "/approve 42" targets user 42
// in the current plan.
func ownerTarget(ctx context.Context, svc *service.Service, ownerID int64, args []string) (int64, []string, error) {
	if len(args) >= 2 {
		if id, ok := parsePlanID(args); ok {
			return id, args[1:], nil
		}
	}
	planID, _, err := planIDOrCurrent(ctx, svc, ownerID, nil)
	return planID, args, err
}

// ---------------------------------------------------------------------------
// DecideApplicationHandler – /approve, /reject [id] <@user> [message]
// ---------------------------------------------------------------------------

// DecideApplicationHandler lets an owner accept or refuse an application.
type DecideApplicationHandler struct {
	svc      *service.Service
	decision service.Decision
	logger   *logrus.Logger
}

// NewDecideApplicationHandler creates a handler applying decision.
func NewDecideApplicationHandler(svc *service.Service, decision service.Decision, logger *logrus.Logger) *DecideApplicationHandler {
	return &DecideApplicationHandler{svc: svc, decision: decision, logger: logger}
}

// Handle processes the /approve or /reject command.
func (h *DecideApplicationHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	owner, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	planID, rest, err := ownerTarget(ctx, h.svc, owner.ID, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		cmd := "/approve"
		if h.decision == service.Refuse {
			cmd = "/reject"
		}
		return usage(bot, message.Chat.ID, "Whose application?", cmd+" @username [message]")
	}

	applicant, err := resolveUser(ctx, h.svc, rest[0])
	if err != nil {
		return err
	}

	m, err := h.svc.HandleApplication(ctx, owner.ID, planID, applicant.ID, h.decision, strings.Join(rest[1:], " "))
	if err != nil {
		return err
	}

	verb := "accepted ✅"
	if h.decision == service.Refuse {
		verb = "refused ❌"
	}
	return send(bot, message.Chat.ID, fmt.Sprintf("%s's application was %s (%s).",
		html.EscapeString(applicant.DisplayName()), verb, m.Status))
}

// ---------------------------------------------------------------------------
// RespondInvitationHandler – /join, /decline [id] [message]
// ---------------------------------------------------------------------------

// RespondInvitationHandler accepts or declines an invitation.
type RespondInvitationHandler struct {
	svc      *service.Service
	decision service.Decision
	logger   *logrus.Logger
}

// NewRespondInvitationHandler creates a handler applying decision.
func NewRespondInvitationHandler(svc *service.Service, decision service.Decision, logger *logrus.Logger) *RespondInvitationHandler {
	return &RespondInvitationHandler{svc: svc, decision: decision, logger: logger}
}

// Handle processes the /join or /decline command.
func (h *RespondInvitationHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}
	planID, rest, err := planIDOrCurrent(ctx, h.svc, user.ID, args)
	if err != nil {
		return err
	}

	if _, err := h.svc.HandleInvitation(ctx, user.ID, planID, h.decision, strings.Join(rest, " ")); err != nil {
		return err
	}

	if h.decision == service.Accept {
		return send(bot, message.Chat.ID, fmt.Sprintf("🎉 You joined plan #%d! See /myplan.", planID))
	}
	return send(bot, message.Chat.ID, fmt.Sprintf("👋 You declined the invitation to plan #%d.", planID))
}
