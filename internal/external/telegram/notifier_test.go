package telegram

import (
	"context"
	"errors"
	"testing"

	"lmscenter/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestNotifier_Deliver(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewNotifierWithSender(sender, 12345, zap.NewNop())

	err := notifier.Deliver(context.Background(), model.Notification{
		ID:      "n1",
		Title:   "New Assignment",
		Body:    "Essay 1\nDue: in 2 days\nCourse: History",
		Silent:  true,
		Urgency: model.UrgencyCritical,
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(12345), msg.ChatID)
	assert.True(t, msg.DisableNotification)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
	assert.Contains(t, msg.Text, "*❗ New Assignment*")
	assert.Contains(t, msg.Text, "Essay 1")
	assert.Equal(t, "telegram", notifier.Name())
}

func TestNotifier_DeliverError(t *testing.T) {
	sender := &fakeSender{err: errors.New("chat not found")}
	notifier := NewNotifierWithSender(sender, 1, zap.NewNop())

	err := notifier.Deliver(context.Background(), model.Notification{Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNotifier_DeliverCancelled(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewNotifierWithSender(sender, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, notifier.Deliver(ctx, model.Notification{Title: "t"}))
	assert.Empty(t, sender.sent)
}

func TestFormatMessage_EscapesMarkdown(t *testing.T) {
	text := FormatMessage(model.Notification{Title: "New Assignment", Body: "Lab_2 (v1.0)", Urgency: model.UrgencyNormal})
	assert.Equal(t, "*New Assignment*\nLab\\_2 \\(v1\\.0\\)", text)
}

func TestNewNotifier_RequiresChat(t *testing.T) {
	_, err := NewNotifier("token", 0, zap.NewNop())
	assert.Error(t, err)
}
