package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/format"
)

// API is the part of the Bot API the sender uses. *bot.Bot implements it.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

type Sender struct {
	api      API
	interval time.Duration
}

func NewSender(api API) *Sender {
	return &Sender{api: api, interval: config.TypingInterval}
}

// Deliver sends the parts in order. Only the first part quotes ReplyTo.
// A part Telegram refuses to parse as HTML is resent as plain text.
func (s *Sender) Deliver(ctx context.Context, d domain.Delivery) error {
	replyTo := d.ReplyTo
	for i, part := range d.Parts {
		params := &bot.SendMessageParams{
			ChatID:          d.ChatID,
			MessageThreadID: d.ThreadID,
			Text:            part,
		}
		if d.HTML {
			params.ParseMode = models.ParseModeHTML
		}
		if replyTo != 0 {
			params.ReplyParameters = &models.ReplyParameters{
				MessageID:                replyTo,
				AllowSendingWithoutReply: true,
			}
			replyTo = 0
		}

		_, err := s.api.SendMessage(ctx, params)
		if err != nil && d.HTML && isParseError(err) {
			slog.Warn("html send failed, falling back to plain text", "chat_id", d.ChatID, "part", i+1, "error", err)
			params.ParseMode = ""
			params.Text = html.UnescapeString(format.PlainText(part))
			_, err = s.api.SendMessage(ctx, params)
		}
		if err != nil {
			return fmt.Errorf("send part %d/%d: %w", i+1, len(d.Parts), err)
		}
	}
	return nil
}

func isParseError(err error) bool {
	return errors.Is(err, bot.ErrorBadRequest) && strings.Contains(err.Error(), "can't parse entities")
}

// StartTyping sends the "typing..." action until the returned cancel
// function is called.
func (s *Sender) StartTyping(ctx context.Context, chatID int64, threadID int) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	params := &bot.SendChatActionParams{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Action:          models.ChatActionTyping,
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, err := s.api.SendChatAction(ctx, params); err != nil && ctx.Err() == nil {
				slog.Debug("send chat action failed", "chat_id", chatID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}
