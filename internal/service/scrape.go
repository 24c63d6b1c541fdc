package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/domain"
)

// ScrapeService fetches web documents, through the scrape.do proxy when a
// token is configured and directly otherwise.
type ScrapeService struct {
	httpClient *http.Client
	proxyURL   string
	token      string
	maxBody    int64
}

func NewScrapeService(token string) *ScrapeService {
	return &ScrapeService{
		httpClient: &http.Client{Timeout: config.FetchTimeout},
		proxyURL:   config.ScrapeDoEndpoint,
		token:      token,
		maxBody:    config.MaxDocumentBytes,
	}
}

// WithProxyURL points the service at another scrape.do compatible endpoint.
func (s *ScrapeService) WithProxyURL(u string) *ScrapeService {
	s.proxyURL = u
	return s
}

func (s *ScrapeService) Fetch(ctx context.Context, req domain.FetchRequest) (string, error) {
	target, err := s.requestURL(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", config.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError("fetch document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("fetch document", resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return "", transportError("read document", err)
	}
	return string(body), nil
}

func (s *ScrapeService) requestURL(req domain.FetchRequest) (string, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidURL, req.URL)
	}
	if s.token == "" {
		return u.String(), nil
	}

	q := url.Values{}
	q.Set("token", s.token)
	q.Set("url", u.String())
	if req.Render {
		q.Set("render", "true")
	}
	return s.proxyURL + "?" + q.Encode(), nil
}
