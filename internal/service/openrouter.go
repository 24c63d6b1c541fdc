package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/domain"
)

// OpenRouterService talks to any OpenAI compatible chat completions API.
// OpenRouter is the default; Groq and others work through the base URL.
type OpenRouterService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *ModelsCache
}

func NewOpenRouterService(apiKey, baseURL string) *OpenRouterService {
	if baseURL == "" {
		baseURL = config.DefaultOpenAIBaseURL
	}
	return &OpenRouterService{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		cache:      NewModelsCache(config.ModelCacheDuration),
	}
}

// ChatMessage content is a string, or a []ContentPart for a user turn
// carrying images.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   int32         `json:"max_tokens,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ListModels returns the ids the provider serves, cached for a while.
func (s *OpenRouterService) ListModels(ctx context.Context) ([]string, error) {
	if cached := s.cache.Get(); cached != nil {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError("fetch models", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch models", resp)
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}

	ids := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		ids = append(ids, m.ID)
	}
	s.cache.Set(ids)
	return ids, nil
}

// HasModel reports whether the provider lists modelID.
func (s *OpenRouterService) HasModel(ctx context.Context, modelID string) (bool, error) {
	ids, err := s.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == modelID {
			return true, nil
		}
	}
	return false, nil
}

func (s *OpenRouterService) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	chatReq := ChatRequest{
		Model:     p.Model,
		MaxTokens: p.MaxTokens,
	}
	// Gemini models served through OpenRouter reject a temperature.
	if p.Temperature != nil && !strings.Contains(strings.ToLower(p.Model), "gemini") {
		chatReq.Temperature = p.Temperature
	}
	if p.System != "" {
		chatReq.Messages = append(chatReq.Messages, ChatMessage{Role: "system", Content: p.System})
	}
	chatReq.Messages = append(chatReq.Messages, userMessage(p))

	payload, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", transportError("chat request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("chat request", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("read response", err)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("chat request: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", domain.ErrEmptyResponse
	}
	return chatResp.Choices[0].Message.Content, nil
}

// userMessage inlines images as data URLs after the text.
func userMessage(p domain.Prompt) ChatMessage {
	if len(p.Images) == 0 {
		return ChatMessage{Role: "user", Content: p.User}
	}
	parts := []ContentPart{{Type: "text", Text: p.User}}
	for _, img := range p.Images {
		dataURL := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}})
	}
	return ChatMessage{Role: "user", Content: parts}
}
