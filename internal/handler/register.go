package handler

import (
	"context"
	"strings"
	"unicode"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Register registers all command handlers on the bot instance. Everything
// else arrives through HandleUpdate, the default handler.
func (h *Handler) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, h.handleHelp)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/ask", bot.MatchTypePrefix, h.handleAsk)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/search", bot.MatchTypePrefix, h.handleSearch)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/reset", bot.MatchTypePrefix, h.handleReset)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/repeat", bot.MatchTypePrefix, h.handleRepeat)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/dollar", bot.MatchTypePrefix, h.handleDollar)
}

// HandleUpdate routes updates no command handler matched.
func (h *Handler) HandleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	switch {
	case update.EditedMessage != nil:
		h.handleEdited(ctx, b, update)
	case update.MyChatMember != nil:
		h.handleMembership(ctx, b, update)
	case update.Message == nil:
	case update.Message.Document != nil && strings.HasPrefix(update.Message.Caption, "/search"):
		h.handleDocument(ctx, b, update)
	case len(update.Message.Photo) > 0:
		h.handlePhoto(ctx, b, update)
	case messageText(update.Message) != "" && !strings.HasPrefix(messageText(update.Message), "/"):
		h.handleText(ctx, b, update)
	}
}

// messageText is the text of a message, or the caption of a media message.
func messageText(msg *models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// commandArgs returns what follows the command word, which may carry an
// @botname suffix.
func commandArgs(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return text
	}
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}
