package handler

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	resetDone    = "Chat reset successfully."
	resetAlready = "The chat has already been reset."
	resetFailed  = "Error clearing messages."
)

func (h *Handler) handleReset(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, _, ok := h.command(ctx, update, "/reset")
	if !ok {
		return
	}

	n, err := h.history.ClearHistory(ctx, p.UserID, p.ChatID)
	switch {
	case err != nil:
		slog.Error("clear history", "error", err, "chat_id", p.ChatID, "user_id", p.UserID)
		h.reply(ctx, p, resetFailed)
	case n > 0:
		h.reply(ctx, p, resetDone)
	default:
		h.reply(ctx, p, resetAlready)
	}
}
