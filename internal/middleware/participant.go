package middleware

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/config"
)

const UnidentifiedNotice = "The user could not be identified."

type ctxKey string

const ParticipantKey ctxKey = "participant"

// Participant identifies who sent a message and where.
type Participant struct {
	UserID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Language  string
	// Group is set for chats with a title, where replies quote the message.
	Group bool
}

// ReplyTo is the message a reply should quote, zero in private chats.
func (p *Participant) ReplyTo() int {
	if p.Group {
		return p.MessageID
	}
	return 0
}

// GetParticipant extracts the participant from context.
func GetParticipant(ctx context.Context) *Participant {
	p, ok := ctx.Value(ParticipantKey).(*Participant)
	if !ok {
		return nil
	}
	return p
}

// ParticipantFromMessage builds the participant for msg. It returns nil when
// the sender is unknown.
func ParticipantFromMessage(msg *models.Message) *Participant {
	if msg == nil || msg.From == nil {
		return nil
	}
	lang := msg.From.LanguageCode
	if lang == "" {
		lang = config.DefaultLanguage
	}
	return &Participant{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		ThreadID:  msg.MessageThreadID,
		MessageID: msg.ID,
		Language:  lang,
		Group:     msg.Chat.Title != "",
	}
}

// ParticipantLoader returns middleware that puts the message's participant
// into context. Messages without a sender get a notice and stop here.
func ParticipantLoader() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if update.Message == nil {
				next(ctx, b, update)
				return
			}

			p := ParticipantFromMessage(update.Message)
			if p == nil {
				if !isCommand(update.Message) {
					return
				}
				if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID:          update.Message.Chat.ID,
					MessageThreadID: update.Message.MessageThreadID,
					Text:            UnidentifiedNotice,
				}); err != nil {
					slog.Warn("failed to send notice", "chat_id", update.Message.Chat.ID, "error", err)
				}
				return
			}

			next(context.WithValue(ctx, ParticipantKey, p), b, update)
		}
	}
}

func isCommand(msg *models.Message) bool {
	return strings.HasPrefix(msg.Text, "/") || strings.HasPrefix(msg.Caption, "/")
}
