package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/format"
)

// TelegramLogger posts operational events to topics of an ops chat.
type TelegramLogger struct {
	api    API
	chatID int64
	topics map[LogType]int
	now    func() time.Time
}

func NewTelegramLogger(api API, cfg *config.Config) *TelegramLogger {
	return &TelegramLogger{
		api:    api,
		chatID: cfg.LogTelegramChatID,
		topics: map[LogType]int{
			LogTypeError:       cfg.LogTopicError,
			LogTypeChatDeleted: cfg.LogTopicChatDeleted,
		},
		now: time.Now,
	}
}

type LogType string

const (
	LogTypeError       LogType = "error"
	LogTypeChatDeleted LogType = "chatDeleted"
)

// Log sends an HTML message to the topic for logType. Events without a
// configured chat or topic are dropped.
func (l *TelegramLogger) Log(logType LogType, message string) {
	if l == nil || l.chatID == 0 {
		return
	}
	topicID := l.topics[logType]
	if topicID == 0 {
		return
	}

	// Truncate if too long
	if parts := format.Split(message, format.MaxPartLen-20); len(parts) > 1 {
		message = parts[0] + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := l.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.chatID,
		Text:            message,
		ParseMode:       models.ParseModeHTML,
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "type", logType, "error", err)
	}
}

func (l *TelegramLogger) LogError(err error, context string) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf("❌ <b>Error</b>\n\n<b>Context:</b> %s\n<b>Error:</b> <code>%s</code>\n<b>Time:</b> %s",
		format.EscapeText(context), format.EscapeText(err.Error()), l.now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogExchangeFailed(exchangeID string, chatID, userID int64, state string, err error) {
	if l == nil || err == nil {
		return
	}
	msg := fmt.Sprintf("⚠️ <b>Exchange failed</b>\n\n<b>Exchange:</b> <code>%s</code>\n<b>Chat:</b> <code>%d</code>\n<b>User:</b> <code>%d</code>\n<b>State:</b> %s\n<b>Error:</b> <code>%s</code>",
		exchangeID, chatID, userID, format.EscapeText(state), format.EscapeText(err.Error()))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogChatDeleted(chatID int64, title string) {
	msg := fmt.Sprintf("🗑 <b>Chat deleted</b>\n\n<b>ID:</b> <code>%d</code>", chatID)
	if title != "" {
		msg += fmt.Sprintf("\n<b>Title:</b> %s", format.EscapeText(title))
	}
	l.Log(LogTypeChatDeleted, msg)
}
