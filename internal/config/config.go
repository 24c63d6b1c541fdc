package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid config")

// Model providers.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

type Config struct {
	// Core
	BotToken    string `env:"BOT_TOKEN,required,notEmpty"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Models
	ModelProvider   string        `env:"MODEL_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	OpenRouterKey   string        `env:"OPENROUTER_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	MainModel       string        `env:"MODEL_MAIN" envDefault:"gemini-2.5-flash"`
	PreprocessModel string        `env:"MODEL_PREPROCESS"`
	VisionModel     string        `env:"MODEL_VISION"`
	Temperature     float32       `env:"MODEL_TEMPERATURE" envDefault:"0"`
	ModelTimeout    time.Duration `env:"MODEL_TIMEOUT" envDefault:"90s"`

	// Documents
	ScrapeDoToken string        `env:"SCRAPEDO_TOKEN"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

	// Pipeline
	HistoryLimit       int `env:"HISTORY_LIMIT" envDefault:"30"`
	RetryAttempts      int `env:"RETRY_ATTEMPTS" envDefault:"3"`
	MaxConcurrent      int `env:"MAX_CONCURRENT" envDefault:"5"`
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`

	// Server
	Hosting       Flag   `env:"HOSTING" envDefault:"false"`
	WebhookURL    string `env:"WEBHOOK_URL"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	Port          int    `env:"PORT" envDefault:"8080"`

	// Bot behavior
	DropPendingUpdates bool `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`

	// Logging
	LogLevel            slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogTelegramChatID   int64      `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError       int        `env:"LOG_TOPIC_ERROR"`
	LogTopicChatDeleted int        `env:"LOG_TOPIC_CHAT_DELETED"`
}

// Flag is a boolean that also accepts yes and no.
type Flag bool

func (f *Flag) UnmarshalText(text []byte) error {
	v, ok := parseFlag(string(text))
	if !ok {
		return fmt.Errorf("%w: expected true|false, got %q", ErrInvalid, text)
	}
	*f = Flag(v)
	return nil
}

func parseFlag(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no", "":
		return false, true
	}
	return false, false
}

// Load reads .env (unless DOTENV_DISABLE is set) and the environment.
// Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if disabled, _ := parseFlag(os.Getenv("DOTENV_DISABLE")); !disabled {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if bool(c.Hosting) && c.WebhookURL == "" {
		return fmt.Errorf("%w: WEBHOOK_URL is required when HOSTING is set", ErrInvalid)
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: WEBHOOK_URL %q", ErrInvalid, c.WebhookURL)
		}
	}

	switch c.ModelProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %s", ErrInvalid, c.ModelProvider)
		}
	case ProviderOpenRouter:
		if c.OpenRouterKey == "" {
			return fmt.Errorf("%w: OPENROUTER_API_KEY is required for provider %s", ErrInvalid, c.ModelProvider)
		}
	default:
		return fmt.Errorf("%w: unknown MODEL_PROVIDER %q", ErrInvalid, c.ModelProvider)
	}

	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: PORT %d", ErrInvalid, c.Port)
	case c.HistoryLimit < 1:
		return fmt.Errorf("%w: HISTORY_LIMIT must be positive", ErrInvalid)
	case c.RetryAttempts < 1:
		return fmt.Errorf("%w: RETRY_ATTEMPTS must be positive", ErrInvalid)
	case c.MaxConcurrent < 1:
		return fmt.Errorf("%w: MAX_CONCURRENT must be positive", ErrInvalid)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("%w: MODEL_TEMPERATURE must be within [0, 2]", ErrInvalid)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// VisionModelName is the model that describes photos, the main model unless
// MODEL_VISION is set.
func (c *Config) VisionModelName() string {
	if c.VisionModel != "" {
		return c.VisionModel
	}
	return c.MainModel
}

// WebhookPath is the path part of WEBHOOK_URL, defaulting to /webhook.
func (c *Config) WebhookPath() string {
	if u, err := url.Parse(c.WebhookURL); err == nil && u.Path != "" && u.Path != "/" {
		return u.Path
	}
	return DefaultWebhookPath
}
