package config

import "time"

// Version is reported by /start. Overridden at build time with -ldflags.
var Version = "0.4.0"

const (
	// Telegram limits
	MaxTelegramMessageLen = 4096

	// Typing indicator refresh; Telegram drops the action after ~5s
	TypingInterval = 4 * time.Second

	// AI request timeout
	RequestTimeout = 90 * time.Second

	// Model cache duration
	ModelCacheDuration = 1 * time.Hour

	// Default OpenAI compatible endpoint
	DefaultOpenAIBaseURL = "https://openrouter.ai/api/v1"

	// Document fetching
	FetchTimeout     = 30 * time.Second
	MaxDocumentBytes = 5 << 20
	ScrapeDoEndpoint = "http://api.scrape.do/"
	UserAgent        = "Mozilla/5.0 (compatible; scrapebot/1.0)"

	// Photos sent for the vision model
	MaxPhotoBytes = 10 << 20

	// Official dollar rate published by the Central Bank of Venezuela
	BCVURL = "https://www.bcv.org.ve"

	// Retry backoff base for model, fetch and store calls
	RetryBackoff = 500 * time.Millisecond
	StoreTimeout = 10 * time.Second

	// Default language when Telegram does not report one
	DefaultLanguage = "en"

	// HTTP server
	DefaultWebhookPath = "/webhook"
	ShutdownTimeout    = 10 * time.Second
)
