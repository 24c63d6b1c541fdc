package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/set-night/scrapebot/internal/domain"
)

type GeminiService struct {
	client *genai.Client
}

func NewGeminiService(ctx context.Context, apiKey string) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiService{client: client}, nil
}

func (s *GeminiService) Close() error {
	return s.client.Close()
}

func (s *GeminiService) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	model := s.client.GenerativeModel(p.Model)
	if p.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(p.System)},
		}
	}
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.MaxTokens)
	}
	if p.Temperature != nil {
		model.SetTemperature(*p.Temperature)
	}

	resp, err := model.GenerateContent(ctx, userParts(p)...)
	if err != nil {
		return "", geminiError(err)
	}
	text := responseText(resp)
	if text == "" {
		return "", domain.ErrEmptyResponse
	}
	return text, nil
}

// userParts is the user turn: its text, then any images.
func userParts(p domain.Prompt) []genai.Part {
	parts := []genai.Part{genai.Text(p.User)}
	for _, img := range p.Images {
		parts = append(parts, genai.ImageData(imageFormat(img.MIMEType), img.Data))
	}
	return parts
}

// imageFormat is the MIME subtype genai.ImageData expects, jpeg when unknown.
func imageFormat(mimeType string) string {
	if f, ok := strings.CutPrefix(mimeType, "image/"); ok && f != "" {
		return f
	}
	return "jpeg"
}

// responseText joins the text parts of the first candidate that has any.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				b.WriteString(string(txt))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func geminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500) {
		return fmt.Errorf("gemini generate: status %d: %w", apiErr.Code, domain.ErrTransient)
	}
	return fmt.Errorf("gemini generate: %w", err)
}
