package handlers

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
	"github.com/Kerhoff/tripbot/internal/service"
	"github.com/Kerhoff/tripbot/internal/telegram"
)

// ---------------------------------------------------------------------------
// CreatePlanHandler – /newplan Title | Destination | start | end | max [| private] [| description]
// ---------------------------------------------------------------------------

const newPlanSyntax = "/newplan Title | Destination | 2026-07-01 | 2026-07-10 | 4 [| private] [| description]"

// CreatePlanHandler creates a travel plan owned by the sender.
type CreatePlanHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewCreatePlanHandler creates a new CreatePlanHandler.
func NewCreatePlanHandler(svc *service.Service, logger *logrus.Logger) *CreatePlanHandler {
	return &CreatePlanHandler{svc: svc, logger: logger}
}

// parsePlanInput reads the pipe separated /newplan arguments.
func parsePlanInput(raw string) (service.CreatePlanInput, string) {
	parts := strings.Split(raw, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 5 {
		return service.CreatePlanInput{}, "Please give a title, destination, start, end and member limit."
	}

	in := service.CreatePlanInput{
		Title:       parts[0],
		Destination: parts[1],
		Visibility:  models.PlanVisibilityPublic,
	}

	var err error
	if in.StartDate, err = parseDate(parts[2]); err != nil {
		return in, "Start date must look like 2026-07-01."
	}
	if in.EndDate, err = parseDate(parts[3]); err != nil {
		return in, "End date must look like 2026-07-10."
	}
	if in.MaxMembers, err = strconv.Atoi(parts[4]); err != nil {
		return in, "Member limit must be a number."
	}

	rest := parts[5:]
	if len(rest) > 0 {
		switch strings.ToLower(rest[0]) {
		case "private":
			in.Visibility = models.PlanVisibilityPrivate
			rest = rest[1:]
		case "public":
			rest = rest[1:]
		}
	}
	in.Description = strings.Join(rest, " | ")
	return in, ""
}

// Handle processes the /newplan command.
func (h *CreatePlanHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	in, problem := parsePlanInput(strings.Join(args, " "))
	if problem != "" {
		return usage(bot, message.Chat.ID, problem, newPlanSyntax)
	}

	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	plan, err := h.svc.CreatePlan(ctx, user.ID, in)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("✅ <b>Plan created!</b>\n\n%s\n\nInvite friends with /invite @username.", planLine(plan))
	if err := send(bot, message.Chat.ID, text); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"chat_id": message.Chat.ID,
		"user_id": user.ID,
		"plan_id": plan.ID,
	}).Info("Plan created")

	return nil
}

// ---------------------------------------------------------------------------
// PlansHandler – /plans [keyword]
// ---------------------------------------------------------------------------

// PlansHandler lists public plans open for applications.
type PlansHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(svc *service.Service, logger *logrus.Logger) *PlansHandler {
	return &PlansHandler{svc: svc, logger: logger}
}

// Handle processes the /plans command.
func (h *PlansHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	keyword := strings.Join(args, " ")
	plans, err := h.svc.ListDiscoverable(ctx, user.ID, repository.PlanFilters{Keyword: keyword, Limit: 20})
	if err != nil {
		return err
	}

	if len(plans) == 0 {
		return send(bot, message.Chat.ID, "🔎 No open plans found. Create one with /newplan!")
	}

	var b strings.Builder
	b.WriteString("🔎 <b>Open plans</b>\n\n")
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, p := range plans {
		b.WriteString(planLine(p) + "\n")
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Apply to #%d", p.ID), fmt.Sprintf("apply %d", p.ID)),
		))
	}
	return send(bot, message.Chat.ID, b.String(), keyboard...)
}

// ---------------------------------------------------------------------------
// MyPlanHandler – /myplan
// ---------------------------------------------------------------------------

// MyPlanHandler shows the sender's current plan.
type MyPlanHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewMyPlanHandler creates a new MyPlanHandler.
func NewMyPlanHandler(svc *service.Service, logger *logrus.Logger) *MyPlanHandler {
	return &MyPlanHandler{svc: svc, logger: logger}
}

// Handle processes the /myplan command.
func (h *MyPlanHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	d, err := h.svc.CurrentPlan(ctx, user.ID)
	if err != nil {
		return err
	}
	if d == nil {
		return send(bot, message.Chat.ID, "🗺 You have no current plan. Browse /plans or create one with /newplan.")
	}
	return send(bot, message.Chat.ID, planCard(d), viewerKeyboard(d)...)
}

// viewerKeyboard offers the actions open to the viewer of a plan.
func viewerKeyboard(d *service.PlanDetails) [][]tgbotapi.InlineKeyboardButton {
	id := d.Plan.ID
	switch d.ViewerStatus {
	case models.MembershipInvited:
		return [][]tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Join", fmt.Sprintf("join %d", id)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Decline", fmt.Sprintf("decline %d", id)),
		)}
	case models.MembershipApplied:
		return [][]tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("↩️ Withdraw", fmt.Sprintf("withdraw %d", id)),
		)}
	case models.MembershipOwned:
		if d.PendingRequests > 0 {
			return [][]tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("⏳ Pending requests", fmt.Sprintf("pending %d", id)),
			)}
		}
	case "":
		if d.Plan.IsOpenForApplication() && !d.IsFull() {
			return [][]tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🙋 Apply", fmt.Sprintf("apply %d", id)),
			)}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// PlanHandler – /plan <id>
// ---------------------------------------------------------------------------

// PlanHandler shows one plan.
type PlanHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(svc *service.Service, logger *logrus.Logger) *PlanHandler {
	return &PlanHandler{svc: svc, logger: logger}
}

// Handle processes the /plan command.
func (h *PlanHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	planID, ok := parsePlanID(args)
	if !ok {
		return usage(bot, message.Chat.ID, "Please provide a plan ID.", "/plan 12")
	}

	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	d, err := h.svc.GetPlan(ctx, user.ID, planID)
	if err != nil {
		return err
	}
	return send(bot, message.Chat.ID, planCard(d), viewerKeyboard(d)...)
}

// ---------------------------------------------------------------------------
// HistoryHandler – /history
// ---------------------------------------------------------------------------

// HistoryHandler lists the sender's finished plans.
type HistoryHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(svc *service.Service, logger *logrus.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: logger}
}

// Handle processes the /history command.
func (h *HistoryHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}

	plans, err := h.svc.HistoryPlans(ctx, user.ID, repository.PlanFilters{Limit: 20})
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		return send(bot, message.Chat.ID, "📖 No past trips yet.")
	}

	var b strings.Builder
	b.WriteString("📖 <b>Your trips</b>\n\n")
	for _, p := range plans {
		b.WriteString(planLine(p) + "\n")
	}
	return send(bot, message.Chat.ID, b.String())
}

// ---------------------------------------------------------------------------
// MembersHandler – /members [id]
// ---------------------------------------------------------------------------

// MembersHandler lists the active members of a plan.
type MembersHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewMembersHandler creates a new MembersHandler.
func NewMembersHandler(svc *service.Service, logger *logrus.Logger) *MembersHandler {
	return &MembersHandler{svc: svc, logger: logger}
}

// Handle processes the /members command.
func (h *MembersHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}
	planID, _, err := planIDOrCurrent(ctx, h.svc, user.ID, args)
	if err != nil {
		return err
	}

	members, err := h.svc.ListMembers(ctx, user.ID, planID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👥 <b>Members of #%d</b>\n\n", planID)
	for _, m := range members {
		b.WriteString("• " + memberName(m))
		if m.Status == models.MembershipOwned {
			b.WriteString(" 👑")
		}
		b.WriteString("\n")
	}
	return send(bot, message.Chat.ID, b.String())
}

func plainName(m *models.Membership) string {
	if m.User == nil {
		return fmt.Sprintf("user %d", m.UserID)
	}
	return m.User.DisplayName()
}

func memberName(m *models.Membership) string {
	return html.EscapeString(plainName(m))
}

// ---------------------------------------------------------------------------
// PendingHandler – /pending [id]
// ---------------------------------------------------------------------------

// PendingHandler lists open applications and invitations for the owner.
type PendingHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewPendingHandler creates a new PendingHandler.
func NewPendingHandler(svc *service.Service, logger *logrus.Logger) *PendingHandler {
	return &PendingHandler{svc: svc, logger: logger}
}

// Handle processes the /pending command.
func (h *PendingHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}
	planID, _, err := planIDOrCurrent(ctx, h.svc, user.ID, args)
	if err != nil {
		return err
	}

	pending, err := h.svc.ListPending(ctx, user.ID, planID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return send(bot, message.Chat.ID, "⏳ No pending requests.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏳ <b>Pending for #%d</b>\n\n", planID)
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, m := range pending {
		if m.Status == models.MembershipApplied {
			b.WriteString("🙋 " + memberName(m) + " applied\n")
			keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ "+plainName(m), fmt.Sprintf("approve %d %d", planID, m.UserID)),
				tgbotapi.NewInlineKeyboardButtonData("❌", fmt.Sprintf("reject %d %d", planID, m.UserID)),
			))
		} else {
			b.WriteString("✉️ " + memberName(m) + " invited\n")
		}
	}
	return send(bot, message.Chat.ID, b.String(), keyboard...)
}

// ---------------------------------------------------------------------------
// PlanActionHandler – /startplan, /completeplan, /cancelplan
// ---------------------------------------------------------------------------

// PlanAction is an owner-triggered plan transition.
type PlanAction string

const (
	ActionStart    PlanAction = "start"
	ActionComplete PlanAction = "complete"
	ActionCancel   PlanAction = "cancel"
)

// PlanActionHandler lets the owner move their plan along.
type PlanActionHandler struct {
	svc    *service.Service
	action PlanAction
	logger *logrus.Logger
}

// NewPlanActionHandler creates a handler for one owner action.
func NewPlanActionHandler(svc *service.Service, action PlanAction, logger *logrus.Logger) *PlanActionHandler {
	return &PlanActionHandler{svc: svc, action: action, logger: logger}
}

// Handle processes the owner action. Remaining arguments are the
// cancellation reason.
func (h *PlanActionHandler) Handle(ctx context.Context, bot telegram.Messenger, message *tgbotapi.Message, args []string) error {
	user, err := currentUser(ctx, h.svc, message)
	if err != nil {
		return err
	}
	planID, rest, err := planIDOrCurrent(ctx, h.svc, user.ID, args)
	if err != nil {
		return err
	}

	var (
		plan *models.Plan
		text string
	)
	switch h.action {
	case ActionStart:
		plan, err = h.svc.StartPlan(ctx, user.ID, planID)
		text = "🧳 Your trip has started. Have fun!"
	case ActionComplete:
		plan, err = h.svc.CompletePlan(ctx, user.ID, planID)
		text = "🏁 Trip completed. Welcome back!"
	case ActionCancel:
		plan, err = h.svc.CancelPlan(ctx, user.ID, planID, strings.Join(rest, " "))
		text = "🚫 Plan cancelled. Everyone involved has been told."
	default:
		return fmt.Errorf("unknown plan action %q", h.action)
	}
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"plan_id": plan.ID,
		"action":  h.action,
	}).Info("Owner changed plan status")

	return send(bot, message.Chat.ID, text+"\n\n"+planLine(plan))
}
