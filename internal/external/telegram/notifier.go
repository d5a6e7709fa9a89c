// Package telegram содержит доставку уведомлений через Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"

	"lmscenter/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender отправляет сообщения от имени бота
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier отправляет уведомления о новых заданиях в чат Telegram
type Notifier struct {
	sender Sender
	chatID int64
	logger *zap.Logger
}

// Убеждаемся, что Notifier реализует model.NotificationSink
var _ model.NotificationSink = (*Notifier)(nil)

// NewNotifier создает notifier, подключаясь к Bot API
func NewNotifier(botToken string, chatID int64, logger *zap.Logger) (*Notifier, error) {
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot.Debug = false
	logger.Info("Telegram bot created", zap.String("username", bot.Self.UserName))

	return NewNotifierWithSender(bot, chatID, logger), nil
}

// NewNotifierWithSender создает notifier поверх готового отправителя
func NewNotifierWithSender(sender Sender, chatID int64, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		chatID: chatID,
		logger: logger,
	}
}

// Name возвращает имя канала
func (n *Notifier) Name() string {
	return "telegram"
}

// Deliver отправляет уведомление. Тихие уведомления приходят без звука.
func (n *Notifier) Deliver(ctx context.Context, notification model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, FormatMessage(notification))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableNotification = notification.Silent
	msg.DisableWebPagePreview = true

	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error("Failed to send telegram notification",
			zap.String("notification_id", notification.ID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	n.logger.Debug("Telegram notification sent",
		zap.String("notification_id", notification.ID),
		zap.Int64("chat_id", n.chatID))
	return nil
}

// FormatMessage собирает текст сообщения в разметке MarkdownV2
func FormatMessage(notification model.Notification) string {
	title := tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, notification.Title)
	body := tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, notification.Body)
	if notification.Urgency == model.UrgencyCritical {
		title = "❗ " + title
	}
	return fmt.Sprintf("*%s*\n%s", title, body)
}
