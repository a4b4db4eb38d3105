package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/tripbot/internal/apperr"
)

type recorder struct {
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (r *recorder) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		r.sent = append(r.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (r *recorder) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r.requests = append(r.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type handlerFunc func(ctx context.Context, bot Messenger, message *tgbotapi.Message, args []string) error

func (f handlerFunc) Handle(ctx context.Context, bot Messenger, message *tgbotapi.Message, args []string) error {
	return f(ctx, bot, message, args)
}

func command(text string, cmdLen int) *tgbotapi.Message {
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 7},
		Chat:     &tgbotapi.Chat{ID: 70},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func TestRouterDispatchesArgs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRouter(logger)

	var got []string
	r.RegisterCommand("apply", handlerFunc(func(_ context.Context, _ Messenger, _ *tgbotapi.Message, args []string) error {
		got = args
		return nil
	}))

	r.HandleMessage(context.Background(), &recorder{}, command("/apply 12 now", len("/apply")))
	assert.Equal(t, []string{"12", "now"}, got)
	assert.Equal(t, []string{"apply"}, r.Commands())
}

func TestRouterUnknownCommand(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRouter(logger)
	bot := &recorder{}

	r.HandleMessage(context.Background(), bot, command("/nope", len("/nope")))
	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0].Text, "Unknown command")
	assert.Equal(t, int64(70), bot.sent[0].ChatID)
}

func TestRouterErrorReplies(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRouter(logger)
	bot := &recorder{}

	r.RegisterCommand("full", handlerFunc(func(context.Context, Messenger, *tgbotapi.Message, []string) error {
		return apperr.New(apperr.KindConflict, "PLAN_FULL", "the plan is full")
	}))
	r.RegisterCommand("boom", handlerFunc(func(context.Context, Messenger, *tgbotapi.Message, []string) error {
		return errors.New("connection reset")
	}))

	r.HandleMessage(context.Background(), bot, command("/full", len("/full")))
	r.HandleMessage(context.Background(), bot, command("/boom", len("/boom")))

	require.Len(t, bot.sent, 2)
	assert.Equal(t, "❌ the plan is full", bot.sent[0].Text)
	assert.NotContains(t, bot.sent[1].Text, "connection reset")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRouterCallbackRunsCommandAsPresser(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRouter(logger)
	bot := &recorder{}

	var from int64
	var args []string
	r.RegisterCommand("approve", handlerFunc(func(_ context.Context, _ Messenger, m *tgbotapi.Message, a []string) error {
		from = m.From.ID
		args = a
		return nil
	}))

	r.HandleCallbackQuery(context.Background(), bot, &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 9},
		Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 90}},
		Data:    "approve 3 5",
	})

	assert.Len(t, bot.requests, 1)
	assert.Equal(t, int64(9), from)
	assert.Equal(t, []string{"3", "5"}, args)
}

func TestErrorTextListsValidationDetails(t *testing.T) {
	err := apperr.Validation("validation failed", map[string]string{
		"title":       "is required",
		"destination": "is required",
	})
	assert.Equal(t,
		"❌ validation failed\n• <b>destination</b>: is required\n• <b>title</b>: is required",
		ErrorText(err))
}
