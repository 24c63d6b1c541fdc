package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Recover returns middleware that recovers from panics. report, when set,
// receives the panic as an error.
func Recover(report func(err error, context string)) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic recovered in handler",
						"update_id", update.ID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					if report != nil {
						report(fmt.Errorf("panic: %v", r), fmt.Sprintf("update %d", update.ID))
					}
				}
			}()
			next(ctx, b, update)
		}
	}
}
