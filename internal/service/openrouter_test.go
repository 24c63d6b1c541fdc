package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/set-night/scrapebot/internal/domain"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.Model != "llama-3.3-70b" || req.MaxTokens != 256 || req.Temperature == nil || *req.Temperature != 0.5 {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1] != (ChatMessage{Role: "user", Content: "hi"}) {
			t.Errorf("messages = %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	s := NewOpenRouterService("key", srv.URL+"/v1/")
	got, err := s.Generate(context.Background(), domain.Prompt{
		Model: "llama-3.3-70b", System: "be brief", User: "hi", Temperature: temp(0.5), MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hello" {
		t.Fatalf("Generate = %q", got)
	}
}

func TestGenerateOmitsTemperatureForGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["temperature"]; ok {
			t.Error("temperature sent to a gemini model")
		}
		if msgs := raw["messages"].([]any); len(msgs) != 1 {
			t.Errorf("messages = %v, want only the user message", msgs)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	_, err := NewOpenRouterService("key", srv.URL).Generate(context.Background(), domain.Prompt{
		Model: "google/gemini-2.5-flash", User: "hi", Temperature: temp(0.7),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func temp(v float32) *float32 {
	return &v
}

func TestGenerateTemperature(t *testing.T) {
	tests := []struct {
		name        string
		temperature *float32
		want        any
	}{
		{"unset", nil, nil},
		{"explicit zero", temp(0), 0.0},
		{"set", temp(0.25), 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var raw map[string]any
				_ = json.NewDecoder(r.Body).Decode(&raw)
				if got := raw["temperature"]; got != tt.want {
					t.Errorf("temperature = %v, want %v", got, tt.want)
				}
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
			}))
			defer srv.Close()

			_, err := NewOpenRouterService("key", srv.URL).Generate(context.Background(), domain.Prompt{
				Model: "llama-3.3-70b", User: "hi", Temperature: tt.temperature,
			})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
		})
	}
}

func TestGenerateSendsImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string        `json:"role"`
				Content []ContentPart `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if len(req.Messages) != 1 {
			t.Errorf("messages = %+v", req.Messages)
			return
		}
		parts := req.Messages[0].Content
		if len(parts) != 2 || parts[0].Type != "text" || parts[0].Text != "what is this?" {
			t.Errorf("parts = %+v", parts)
			return
		}
		if parts[1].Type != "image_url" || parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/png;base64,iVBO" {
			t.Errorf("image part = %+v", parts[1])
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"a logo"}}]}`))
	}))
	defer srv.Close()

	got, err := NewOpenRouterService("key", srv.URL).Generate(context.Background(), domain.Prompt{
		Model:  "vision",
		User:   "what is this?",
		Images: []domain.Image{{Data: []byte{0x89, 'P', 'N'}, MIMEType: "image/png"}},
	})
	if err != nil || got != "a logo" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, domain.ErrTransient},
		{"upstream down", http.StatusBadGateway, `{}`, domain.ErrTransient},
		{"no choices", http.StatusOK, `{"choices":[]}`, domain.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenRouterService("key", srv.URL).Generate(context.Background(), domain.Prompt{Model: "m", User: "hi"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"model is gone","code":404}}`))
	}))
	defer srv.Close()

	_, err := NewOpenRouterService("key", srv.URL).Generate(context.Background(), domain.Prompt{Model: "m", User: "hi"})
	if err == nil || errors.Is(err, domain.ErrTransient) {
		t.Fatalf("err = %v, want a permanent error", err)
	}
}

func TestListModelsCached(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"data":[{"id":"a"},{"id":"b"}]}`))
	}))
	defer srv.Close()

	s := NewOpenRouterService("key", srv.URL)
	for i := 0; i < 3; i++ {
		ok, err := s.HasModel(context.Background(), "b")
		if err != nil || !ok {
			t.Fatalf("HasModel = %v, %v", ok, err)
		}
	}
	if ok, _ := s.HasModel(context.Background(), "c"); ok {
		t.Fatal("HasModel(c) = true")
	}
	if calls != 1 {
		t.Fatalf("model list fetched %d times, want 1", calls)
	}
}

func TestModelsCacheExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewModelsCache(time.Hour)
	c.now = func() time.Time { return now }

	if c.Get() != nil {
		t.Fatal("empty cache returned models")
	}
	c.Set([]string{"a"})
	now = now.Add(59 * time.Minute)
	if got := c.Get(); len(got) != 1 {
		t.Fatalf("Get = %v before expiry", got)
	}
	now = now.Add(2 * time.Minute)
	if got := c.Get(); got != nil {
		t.Fatalf("Get = %v after expiry", got)
	}
}
