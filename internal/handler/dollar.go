package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/domain"
)

const (
	dollarPageFailed = "Could not retrieve the dollar page."
	dollarBodyFailed = "Could not convert the response to text."
	dollarFailed     = "Failed to get dollar value."
)

func (h *Handler) handleDollar(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, _, ok := h.command(ctx, update, "/dollar")
	if !ok || h.rates == nil {
		return
	}

	stopTyping := h.sender.StartTyping(ctx, p.ChatID, p.ThreadID)
	rate, err := h.rates.DollarRate(ctx)
	stopTyping()

	if err != nil {
		slog.Error("dollar rate", "error", err, "chat_id", p.ChatID)
		switch {
		case errors.Is(err, domain.ErrRatePage):
			h.reply(ctx, p, dollarPageFailed)
		case errors.Is(err, domain.ErrRateBody):
			h.reply(ctx, p, dollarBodyFailed)
		default:
			h.reply(ctx, p, dollarFailed)
		}
		return
	}

	err = h.sender.Deliver(ctx, domain.Delivery{
		ChatID:   p.ChatID,
		ThreadID: p.ThreadID,
		ReplyTo:  p.ReplyTo(),
		Parts:    []string{fmt.Sprintf("<b>BCV</b>: <code>%s Bs.</code>", strconv.FormatFloat(rate, 'f', -1, 64))},
		HTML:     true,
	})
	if err != nil {
		slog.Error("failed to send reply", "chat_id", p.ChatID, "error", err)
	}
}
