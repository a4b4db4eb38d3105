package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository/memory"
	"github.com/Kerhoff/tripbot/internal/service"
	"github.com/Kerhoff/tripbot/internal/telegram"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests int
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.sent)
	return b.sent[len(b.sent)-1]
}

type env struct {
	t      *testing.T
	ctx    context.Context
	bot    *fakeBot
	router *telegram.Router
	store  *memory.Store
}

func newEnv(t *testing.T) *env {
	logger, _ := test.NewNullLogger()
	store := memory.NewStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := service.New(store, notify.Discard{}, logger, service.WithClock(func() time.Time { return now }))

	r := telegram.NewRouter(logger)
	r.RegisterCommand("start", NewStartHandler(svc, logger))
	r.RegisterCommand("help", NewHelpHandler(logger))
	r.RegisterCommand("newplan", NewCreatePlanHandler(svc, logger))
	r.RegisterCommand("plans", NewPlansHandler(svc, logger))
	r.RegisterCommand("myplan", NewMyPlanHandler(svc, logger))
	r.RegisterCommand("plan", NewPlanHandler(svc, logger))
	r.RegisterCommand("history", NewHistoryHandler(svc, logger))
	r.RegisterCommand("members", NewMembersHandler(svc, logger))
	r.RegisterCommand("pending", NewPendingHandler(svc, logger))
	r.RegisterCommand("apply", NewApplyHandler(svc, logger))
	r.RegisterCommand("withdraw", NewWithdrawHandler(svc, logger))
	r.RegisterCommand("invite", NewInviteHandler(svc, logger))
	r.RegisterCommand("approve", NewDecideApplicationHandler(svc, service.Accept, logger))
	r.RegisterCommand("reject", NewDecideApplicationHandler(svc, service.Refuse, logger))
	r.RegisterCommand("join", NewRespondInvitationHandler(svc, service.Accept, logger))
	r.RegisterCommand("decline", NewRespondInvitationHandler(svc, service.Refuse, logger))
	r.RegisterCommand("startplan", NewPlanActionHandler(svc, ActionStart, logger))
	r.RegisterCommand("cancelplan", NewPlanActionHandler(svc, ActionCancel, logger))
	r.RegisterCommand("email", NewEmailHandler(svc, logger))
	r.RegisterCommand("inbox", NewInboxHandler(svc, logger))

	return &env{t: t, ctx: context.Background(), bot: &fakeBot{}, router: r, store: store}
}

type person struct {
	id   int64
	name string
}

func message(from person, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from.id, UserName: from.name, FirstName: from.name},
		Chat:      &tgbotapi.Chat{ID: from.id * 10, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

// say sends text as from and returns the reply.
func (e *env) say(from person, text string) tgbotapi.MessageConfig {
	e.t.Helper()
	e.router.HandleMessage(e.ctx, e.bot, message(from, text))
	return e.bot.last(e.t)
}

func (e *env) press(from person, data string) tgbotapi.MessageConfig {
	e.t.Helper()
	query := &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from.id, UserName: from.name},
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: from.id * 10, Type: "private"}},
		Data:    data,
	}
	e.router.HandleCallbackQuery(e.ctx, e.bot, query)
	return e.bot.last(e.t)
}

func (e *env) membership(user person, planID int64) models.MembershipStatus {
	e.t.Helper()
	u, err := e.store.Users().GetByTelegramID(e.ctx, user.id)
	require.NoError(e.t, err)
	require.NotNil(e.t, u)
	m, err := e.store.Memberships().Get(e.ctx, u.ID, planID)
	require.NoError(e.t, err)
	if m == nil {
		return ""
	}
	return m.Status
}

func (e *env) createPlan(owner person, extra string) int64 {
	e.t.Helper()
	reply := e.say(owner, "/newplan Spring trip | Lisbon | 2026-04-01 | 2026-04-08 | 3"+extra)
	require.Contains(e.t, reply.Text, "Plan created")

	u, err := e.store.Users().GetByTelegramID(e.ctx, owner.id)
	require.NoError(e.t, err)
	plan, err := e.store.Plans().FindCurrentByUser(e.ctx, u.ID)
	require.NoError(e.t, err)
	require.NotNil(e.t, plan)
	return plan.ID
}

var (
	ann = person{id: 1, name: "ann"}
	bob = person{id: 2, name: "bob"}
	cat = person{id: 3, name: "cat"}
)

func TestStartRegistersUser(t *testing.T) {
	e := newEnv(t)

	reply := e.say(ann, "/start")
	assert.Contains(t, reply.Text, "Welcome to TripBot")
	assert.Equal(t, tgbotapi.ModeHTML, reply.ParseMode)

	u, err := e.store.Users().GetByTelegramID(e.ctx, ann.id)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(10), u.ChatID)
}

func TestApplicationFlow(t *testing.T) {
	e := newEnv(t)
	planID := e.createPlan(ann, "")

	reply := e.say(bob, "/plans lisbon")
	assert.Contains(t, reply.Text, "Spring trip")
	require.NotNil(t, reply.ReplyMarkup)

	reply = e.say(bob, fmt.Sprintf("/apply %d", planID))
	assert.Contains(t, reply.Text, "Application sent")
	assert.Equal(t, models.MembershipApplied, e.membership(bob, planID))

	reply = e.say(ann, "/pending")
	assert.Contains(t, reply.Text, "@bob applied")
	markup, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)

	reply = e.say(ann, "/approve @bob see you there")
	assert.Contains(t, reply.Text, "accepted")
	assert.Equal(t, models.MembershipAppliedAccepted, e.membership(bob, planID))

	reply = e.say(bob, "/myplan")
	assert.Contains(t, reply.Text, "2/3 members")
	assert.Contains(t, reply.Text, string(models.MembershipAppliedAccepted))

	reply = e.say(cat, fmt.Sprintf("/members %d", planID))
	assert.Contains(t, reply.Text, "@ann 👑")
	assert.Contains(t, reply.Text, "@bob")
}

func TestInvitationAcceptedByButton(t *testing.T) {
	e := newEnv(t)
	e.say(bob, "/start")
	planID := e.createPlan(ann, " | private")

	reply := e.say(ann, "/invite @bob")
	assert.Contains(t, reply.Text, "Invited @bob")

	reply = e.say(bob, "/myplan")
	markup, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	join := markup.InlineKeyboard[0][0]
	require.NotNil(t, join.CallbackData)
	assert.Equal(t, fmt.Sprintf("join %d", planID), *join.CallbackData)

	reply = e.press(bob, *join.CallbackData)
	assert.Contains(t, reply.Text, "You joined")
	assert.Equal(t, models.MembershipInvitedAccepted, e.membership(bob, planID))
	assert.Equal(t, 1, e.bot.requests)
}

func TestRejectByButtonAndWithdraw(t *testing.T) {
	e := newEnv(t)
	planID := e.createPlan(ann, "")
	e.say(bob, fmt.Sprintf("/apply %d", planID))
	e.say(cat, fmt.Sprintf("/apply %d", planID))

	bobUser, err := e.store.Users().GetByTelegramID(e.ctx, bob.id)
	require.NoError(t, err)
	reply := e.press(ann, fmt.Sprintf("reject %d %d", planID, bobUser.ID))
	assert.Contains(t, reply.Text, "refused")
	assert.Equal(t, models.MembershipAppliedRefused, e.membership(bob, planID))

	reply = e.say(cat, "/withdraw")
	assert.Contains(t, reply.Text, "withdrawn")
	assert.Equal(t, models.MembershipAppliedCancelled, e.membership(cat, planID))
}

func TestServiceErrorsAreShownToUser(t *testing.T) {
	e := newEnv(t)

	reply := e.say(bob, "/apply 999")
	assert.Contains(t, reply.Text, "travel plan not found")

	planID := e.createPlan(ann, "")
	reply = e.say(ann, fmt.Sprintf("/apply %d", planID))
	assert.Contains(t, reply.Text, "already have a current travel plan")

	reply = e.say(bob, "/startplan "+fmt.Sprint(planID))
	assert.Contains(t, reply.Text, "only the plan owner")

	reply = e.say(bob, "/newplan Old | Rome | 2025-01-01 | 2025-01-02 | 2")
	assert.Contains(t, reply.Text, "❌")

	reply = e.say(bob, "/newplan just a title")
	assert.Contains(t, reply.Text, "Usage:")

	reply = e.say(bob, "/teleport")
	assert.Contains(t, reply.Text, "Unknown command")
}

func TestOwnerCancelAndHistory(t *testing.T) {
	e := newEnv(t)
	e.createPlan(ann, "")

	reply := e.say(ann, "/cancelplan weather looks bad")
	assert.Contains(t, reply.Text, "Plan cancelled")

	reply = e.say(ann, "/history")
	assert.Contains(t, reply.Text, "Spring trip")
	assert.Contains(t, reply.Text, "🚫")

	reply = e.say(ann, "/myplan")
	assert.Contains(t, reply.Text, "no current plan")
}

func TestEmailAndInviteByEmail(t *testing.T) {
	e := newEnv(t)
	reply := e.say(bob, "/email Bob@Example.com")
	assert.Contains(t, reply.Text, "bob@example.com")

	planID := e.createPlan(ann, "")
	reply = e.say(ann, "/invite bob@example.com")
	assert.Contains(t, reply.Text, "Invited @bob")
	assert.Equal(t, models.MembershipInvited, e.membership(bob, planID))

	reply = e.say(ann, "/invite nobody@example.com")
	assert.Contains(t, reply.Text, "user not found")
}

func TestParsePlanInput(t *testing.T) {
	in, problem := parsePlanInput("Trip | Oslo | 2026-05-01 | 2026-05-03 | 5 | private | fjords | and hikes")
	require.Empty(t, problem)
	assert.Equal(t, "Trip", in.Title)
	assert.Equal(t, models.PlanVisibilityPrivate, in.Visibility)
	assert.Equal(t, 5, in.MaxMembers)
	assert.Equal(t, "fjords | and hikes", in.Description)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), in.StartDate)

	_, problem = parsePlanInput("Trip | Oslo | May 1 | 2026-05-03 | 5")
	assert.Contains(t, problem, "Start date")

	_, problem = parsePlanInput("Trip | Oslo | 2026-05-01 | 2026-05-03 | five")
	assert.Contains(t, problem, "Member limit")
}
