package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

const (
	RateLimitedNotice = "Too many requests. Please wait a moment."

	limiterIdleTTL   = time.Hour
	limiterSweepSize = 10_000
)

// ChatLimiter keeps one token bucket per chat.
type ChatLimiter struct {
	perMinute int
	now       func() time.Time

	mu       sync.Mutex
	limiters map[int64]*chatBucket
}

type chatBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewChatLimiter(perMinute int) *ChatLimiter {
	return &ChatLimiter{
		perMinute: perMinute,
		now:       time.Now,
		limiters:  make(map[int64]*chatBucket),
	}
}

// Allow reports whether chatID may send another message now. A
// non-positive limit allows everything.
func (l *ChatLimiter) Allow(chatID int64) bool {
	if l.perMinute <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) >= limiterSweepSize {
		l.sweep(now)
	}
	b, ok := l.limiters[chatID]
	if !ok {
		b = &chatBucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.limiters[chatID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *ChatLimiter) sweep(now time.Time) {
	for id, b := range l.limiters {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.limiters, id)
		}
	}
}

// RateLimit returns middleware that enforces per-minute rate limits.
func RateLimit(limiter *ChatLimiter) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			// Only rate limit messages (not edits or membership updates)
			if update.Message == nil {
				next(ctx, b, update)
				return
			}

			chatID := update.Message.Chat.ID
			if !limiter.Allow(chatID) {
				slog.Debug("rate limited", "chat_id", chatID, "limit", limiter.perMinute)
				if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID:          chatID,
					MessageThreadID: update.Message.MessageThreadID,
					Text:            RateLimitedNotice,
				}); err != nil {
					slog.Warn("failed to send rate limit notice", "chat_id", chatID, "error", err)
				}
				return
			}

			next(ctx, b, update)
		}
	}
}
