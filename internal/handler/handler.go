package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/pipeline"
	"github.com/set-night/scrapebot/internal/telegram"
)

type Sender interface {
	Deliver(ctx context.Context, d domain.Delivery) error
	StartTyping(ctx context.Context, chatID int64, threadID int) context.CancelFunc
}

// Runner runs one exchange end to end.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Result
}

// RateService looks up the official dollar rate.
type RateService interface {
	DollarRate(ctx context.Context) (float64, error)
}

type HistoryService interface {
	ClearHistory(ctx context.Context, userID, chatID int64) (int64, error)
	SoftDeleteChat(ctx context.Context, chatID int64) error
}

// Handler holds all dependencies needed by command and update handlers.
type Handler struct {
	cfg         *config.Config
	sender      Sender
	pipeline    Runner
	history     HistoryService
	rates       RateService
	executor    *pipeline.Executor
	inflight    *pipeline.Inflight
	files       telegram.FileAPI
	httpClient  *http.Client
	tgLogger    *telegram.TelegramLogger
	botUsername string

	wg sync.WaitGroup
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Cfg      *config.Config
	Sender   Sender
	Pipeline Runner
	History  HistoryService
	// Rates answers /dollar; nil disables it.
	Rates    RateService
	Executor *pipeline.Executor
	Inflight *pipeline.Inflight
	// Files downloads HTML documents sent with /search and photos; nil
	// disables both.
	Files       telegram.FileAPI
	HTTPClient  *http.Client
	TgLogger    *telegram.TelegramLogger
	BotUsername string
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	h := &Handler{
		cfg:         deps.Cfg,
		sender:      deps.Sender,
		pipeline:    deps.Pipeline,
		history:     deps.History,
		rates:       deps.Rates,
		executor:    deps.Executor,
		inflight:    deps.Inflight,
		files:       deps.Files,
		httpClient:  deps.HTTPClient,
		tgLogger:    deps.TgLogger,
		botUsername: deps.BotUsername,
	}
	if h.executor == nil {
		h.executor = pipeline.NewExecutor(pipeline.DefaultMaxConcurrent)
	}
	if h.inflight == nil {
		h.inflight = pipeline.NewInflight()
	}
	if h.httpClient == nil {
		h.httpClient = &http.Client{Timeout: config.FetchTimeout}
	}
	return h
}

// Wait blocks until every started exchange has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}
