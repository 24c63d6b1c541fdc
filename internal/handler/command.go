package handler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/middleware"
)

// command checks that update carries exactly the command name addressed to
// this bot and returns its sender and arguments.
func (h *Handler) command(ctx context.Context, update *models.Update, name string) (*middleware.Participant, string, bool) {
	if update.Message == nil {
		return nil, "", false
	}
	text := messageText(update.Message)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, "", false
	}
	word, target, mentioned := strings.Cut(fields[0], "@")
	if word != name {
		return nil, "", false
	}
	if mentioned && h.botUsername != "" && !strings.EqualFold(target, h.botUsername) {
		return nil, "", false
	}

	p := middleware.GetParticipant(ctx)
	if p == nil {
		p = middleware.ParticipantFromMessage(update.Message)
	}
	if p == nil {
		return nil, "", false
	}
	return p, commandArgs(text), true
}

// reply sends plain text to the participant's chat, quoting the message in
// groups.
func (h *Handler) reply(ctx context.Context, p *middleware.Participant, text string) {
	err := h.sender.Deliver(ctx, domain.Delivery{
		ChatID:   p.ChatID,
		ThreadID: p.ThreadID,
		ReplyTo:  p.ReplyTo(),
		Parts:    []string{text},
	})
	if err != nil {
		slog.Error("failed to send reply", "chat_id", p.ChatID, "error", err)
	}
}
