package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/pipeline"
)

// handleEdited abandons the exchange started by the original message.
func (h *Handler) handleEdited(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.EditedMessage
	key := pipeline.InflightKey{ChatID: msg.Chat.ID, MessageID: msg.ID}
	if h.inflight.Cancel(key) {
		slog.Info("exchange cancelled by edit", "chat_id", key.ChatID, "message_id", key.MessageID)
	}
}

// handleMembership soft-deletes a chat the bot was removed from.
func (h *Handler) handleMembership(ctx context.Context, b *bot.Bot, update *models.Update) {
	m := update.MyChatMember
	switch m.NewChatMember.Type {
	case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
	default:
		return
	}

	err := h.history.SoftDeleteChat(ctx, m.Chat.ID)
	switch {
	case errors.Is(err, domain.ErrChatNotFound):
		slog.Debug("removed from unknown chat", "chat_id", m.Chat.ID)
	case err != nil:
		slog.Error("soft delete chat", "error", err, "chat_id", m.Chat.ID)
		h.tgLogger.LogError(err, "soft delete chat")
	default:
		h.tgLogger.LogChatDeleted(m.Chat.ID, m.Chat.Title)
	}
}
