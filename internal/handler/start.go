package handler

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/pipeline"
)

const helpText = "Available commands:\n" +
	"/start - greeting and version\n" +
	"/help - display this text\n" +
	"/ask <question> - ask the assistant\n" +
	"/search <url> [question] - answer from a web page\n" +
	"/reset - forget this chat's history\n" +
	"/repeat <text> - repeat text back to you\n" +
	"/dollar - official BCV dollar rate\n\n" +
	"In private chats any message is a question, and a captioned photo is a question about the photo. " +
	"In groups send a photo with /ask as the caption. Send an HTML file with /search as the caption to use it as the page."

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, _, ok := h.command(ctx, update, "/start")
	if !ok {
		return
	}
	h.reply(ctx, p, fmt.Sprintf(
		"Hello! I'm TScrapingBot v%s, your Telegram assistant for web scraping and artificial intelligence. Use /help to see my commands.",
		config.Version,
	))
}

func (h *Handler) handleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, _, ok := h.command(ctx, update, "/help")
	if !ok {
		return
	}
	h.reply(ctx, p, helpText)
}

func (h *Handler) handleRepeat(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, args, ok := h.command(ctx, update, "/repeat")
	if !ok {
		return
	}
	if args == "" {
		args = pipeline.NoticeEmptyMessage
	}
	h.reply(ctx, p, args)
}
