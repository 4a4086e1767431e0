package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	appLog "github.com/ralle12345/untiswatch/internal/log"
)

// TelegramSink sends notification messages to a Telegram chat. The channel
// ID passed to Send is the numeric chat ID.
type TelegramSink struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramSink creates a sink backed by a Telegram bot token.
func NewTelegramSink(token string) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	appLog.Info("telegram sink ready", "bot", bot.Self.UserName)
	return &TelegramSink{bot: bot}, nil
}

// Send implements Sink.
func (s *TelegramSink) Send(_ context.Context, channelID string, msg Message) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", channelID, err)
	}

	text := "*" + msg.Title + "*\n" + msg.Body

	out := tgbotapi.MessageConfig{
		BaseChat: tgbotapi.BaseChat{
			ChatID: chatID,
		},
		Text:                  text,
		ParseMode:             "markdown",
		DisableWebPagePreview: true,
	}
	if _, err := s.bot.Send(out); err != nil {
		return fmt.Errorf("telegram: send to %s: %w", channelID, err)
	}
	return nil
}

// LogSink writes notifications to the log instead of an external channel.
// Used when no Telegram token is configured, and in tests.
type LogSink struct{}

// Send implements Sink.
func (LogSink) Send(_ context.Context, channelID string, msg Message) error {
	appLog.Info("notification",
		"channel", channelID,
		"kind", string(msg.Kind),
		"title", msg.Title,
		"body", msg.Body,
	)
	return nil
}
