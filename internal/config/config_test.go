package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DOTENV_DISABLE", "1")
	t.Setenv("BOT_TOKEN", "tok")
	t.Setenv("DATABASE_URL", "postgres://localhost/scrapebot")
	t.Setenv("GEMINI_API_KEY", "key")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.HistoryLimit != 30 || cfg.MaxConcurrent != 5 || cfg.RetryAttempts != 3 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.ModelProvider != ProviderGemini || cfg.MainModel != "gemini-2.5-flash" {
		t.Errorf("model defaults = %q %q", cfg.ModelProvider, cfg.MainModel)
	}
	if cfg.ModelTimeout != 90*time.Second || cfg.LogLevel != slog.LevelInfo || cfg.Hosting {
		t.Errorf("timeout = %v, level = %v, hosting = %v", cfg.ModelTimeout, cfg.LogLevel, cfg.Hosting)
	}
	if cfg.WebhookPath() != DefaultWebhookPath || cfg.Addr() != ":8080" {
		t.Errorf("webhook path = %q, addr = %q", cfg.WebhookPath(), cfg.Addr())
	}
}

func TestLoadParsesAll(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HOSTING", "yes")
	t.Setenv("WEBHOOK_URL", "https://example.com/hook")
	t.Setenv("PORT", "1234")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MODEL_PROVIDER", "openrouter")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("MODEL_PREPROCESS", "llama-3.1-8b-instant")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Hosting || cfg.Port != 1234 || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.WebhookPath() != "/hook" {
		t.Errorf("WebhookPath = %q", cfg.WebhookPath())
	}
	if cfg.PreprocessModel != "llama-3.1-8b-instant" || cfg.OpenRouterKey != "or-key" {
		t.Errorf("models = %q %q", cfg.PreprocessModel, cfg.OpenRouterKey)
	}
}

func TestLoadMissingToken(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BOT_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without BOT_TOKEN")
	}
}

func TestLoadRejectsBadHosting(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HOSTING", "maybe")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted HOSTING=maybe")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ModelProvider: ProviderGemini,
			GeminiAPIKey:  "key",
			Port:          8080,
			HistoryLimit:  30,
			RetryAttempts: 3,
			MaxConcurrent: 5,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"hosting without webhook", func(c *Config) { c.Hosting = true }, false},
		{"hosting with webhook", func(c *Config) { c.Hosting = true; c.WebhookURL = "https://x.io/webhook" }, true},
		{"bad webhook url", func(c *Config) { c.WebhookURL = "not a url" }, false},
		{"gemini without key", func(c *Config) { c.GeminiAPIKey = "" }, false},
		{"openrouter without key", func(c *Config) { c.ModelProvider = ProviderOpenRouter }, false},
		{"openrouter with key", func(c *Config) { c.ModelProvider = ProviderOpenRouter; c.OpenRouterKey = "k" }, true},
		{"unknown provider", func(c *Config) { c.ModelProvider = "bard" }, false},
		{"port out of range", func(c *Config) { c.Port = 70000 }, false},
		{"zero history", func(c *Config) { c.HistoryLimit = 0 }, false},
		{"zero attempts", func(c *Config) { c.RetryAttempts = 0 }, false},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestModelSettings(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantVision string
		wantTemp   float32
		wantErr    bool
	}{
		{name: "defaults", wantVision: "gemini-2.5-flash", wantTemp: 0},
		{name: "vision model", env: map[string]string{"MODEL_VISION": "gemini-2.5-pro"}, wantVision: "gemini-2.5-pro"},
		{name: "temperature", env: map[string]string{"MODEL_TEMPERATURE": "0.7"}, wantVision: "gemini-2.5-flash", wantTemp: 0.7},
		{name: "negative temperature", env: map[string]string{"MODEL_TEMPERATURE": "-1"}, wantErr: true},
		{name: "temperature too high", env: map[string]string{"MODEL_TEMPERATURE": "3"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("Load = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.VisionModelName() != tt.wantVision || cfg.Temperature != tt.wantTemp {
				t.Errorf("vision = %q, temperature = %v", cfg.VisionModelName(), cfg.Temperature)
			}
		})
	}
}
