package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	scrapebot "github.com/set-night/scrapebot"
	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/handler"
	"github.com/set-night/scrapebot/internal/middleware"
	"github.com/set-night/scrapebot/internal/pipeline"
	"github.com/set-night/scrapebot/internal/prompts"
	"github.com/set-night/scrapebot/internal/repository"
	"github.com/set-night/scrapebot/internal/repository/postgres"
	"github.com/set-night/scrapebot/internal/repository/sqlite"
	"github.com/set-night/scrapebot/internal/server"
	"github.com/set-night/scrapebot/internal/service"
	"github.com/set-night/scrapebot/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("bot failed", "error", err)
		os.Exit(1)
	}
	slog.Info("bot stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Run migrations
	migrationsFS, err := fs.Sub(scrapebot.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	history := service.NewContextService(store)

	model, closeModel, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeModel()

	set, err := prompts.Load()
	if err != nil {
		return err
	}

	// Late-bound so middleware and handlers can be built before the bot.
	var (
		h        *handler.Handler
		tgLogger *telegram.TelegramLogger
	)

	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(func(err error, where string) { tgLogger.LogError(err, where) }),
			middleware.Logging(),
			middleware.RateLimit(middleware.NewChatLimiter(cfg.RateLimitPerMinute)),
			middleware.ParticipantLoader(),
		),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h == nil {
				return
			}
			h.HandleUpdate(ctx, b, update)
		}),
		bot.WithWorkers(cfg.MaxConcurrent * 2),
	}
	if cfg.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	// Get bot info
	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot info: %w", err)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	tgLogger = telegram.NewTelegramLogger(b, cfg)
	sender := telegram.NewSender(b)

	retryPolicy := func(timeout time.Duration) pipeline.RetryPolicy {
		return pipeline.RetryPolicy{Attempts: cfg.RetryAttempts, Backoff: config.RetryBackoff, Timeout: timeout}
	}
	orchestrator := pipeline.NewOrchestrator(history, service.NewScrapeService(cfg.ScrapeDoToken), model, sender, set, pipeline.Config{
		HistoryLimit:    cfg.HistoryLimit,
		MainModel:       cfg.MainModel,
		PreprocessModel: cfg.PreprocessModel,
		VisionModel:     cfg.VisionModelName(),
		Temperature:     cfg.Temperature,
		RenderFallback:  cfg.ScrapeDoToken != "",
		ModelRetry:      retryPolicy(cfg.ModelTimeout),
		FetchRetry:      retryPolicy(cfg.FetchTimeout),
		StoreRetry:      retryPolicy(config.StoreTimeout),
		PartLimit:       config.MaxTelegramMessageLen,
	})

	h = handler.New(handler.Deps{
		Cfg:         cfg,
		Sender:      sender,
		Pipeline:    orchestrator,
		History:     history,
		Rates:       service.NewDollarService(),
		Executor:    pipeline.NewExecutor(cfg.MaxConcurrent),
		Files:       b,
		TgLogger:    tgLogger,
		BotUsername: me.Username,
	})
	h.Register(b)

	if cfg.Hosting {
		err = runWebhook(ctx, cfg, b, store.Ping)
	} else {
		err = runPolling(ctx, cfg, b)
	}

	slog.Info("waiting for running exchanges")
	h.Wait()
	return err
}

func runPolling(ctx context.Context, cfg *config.Config, b *bot.Bot) error {
	if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: cfg.DropPendingUpdates}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	slog.Info("starting bot", "mode", "polling")
	b.Start(ctx)
	return nil
}

func runWebhook(ctx context.Context, cfg *config.Config, b *bot.Bot, health server.HealthFunc) error {
	_, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:                cfg.WebhookURL,
		SecretToken:        cfg.WebhookSecret,
		DropPendingUpdates: cfg.DropPendingUpdates,
	})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	slog.Info("starting bot", "mode", "webhook", "path", cfg.WebhookPath())
	go b.StartWebhook(ctx)
	return server.Serve(ctx, cfg.Addr(), server.NewRouter(cfg.WebhookPath(), b.WebhookHandler(), health))
}

// openStore connects to the backend named by the database URL scheme.
func openStore(ctx context.Context, databaseURL string) (repository.Store, error) {
	driver, err := repository.DriverOf(databaseURL)
	if err != nil {
		return nil, err
	}
	switch driver {
	case repository.DriverSQLite:
		db, err := repository.OpenSQLite(ctx, repository.SQLitePath(databaseURL))
		if err != nil {
			return nil, err
		}
		return sqlite.NewStore(db), nil
	default:
		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(pool), nil
	}
}

// newModel builds the configured model provider and a func releasing it.
func newModel(ctx context.Context, cfg *config.Config) (pipeline.Model, func(), error) {
	switch cfg.ModelProvider {
	case config.ProviderOpenRouter:
		client := service.NewOpenRouterService(cfg.OpenRouterKey, cfg.OpenAIBaseURL)
		for _, m := range []string{cfg.MainModel, cfg.PreprocessModel, cfg.VisionModel} {
			if m == "" {
				continue
			}
			ok, err := client.HasModel(ctx, m)
			switch {
			case err != nil:
				slog.Warn("could not list provider models", "error", err)
			case !ok:
				slog.Warn("model not offered by provider", "model", m)
			}
		}
		return client, func() {}, nil
	default:
		g, err := service.NewGeminiService(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {
			if err := g.Close(); err != nil {
				slog.Error("close gemini client", "error", err)
			}
		}, nil
	}
}
