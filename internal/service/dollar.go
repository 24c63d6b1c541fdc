package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/domain"
)

// DollarService reads the official bolivar per dollar rate from the BCV
// home page.
type DollarService struct {
	httpClient *http.Client
	pageURL    string
}

func NewDollarService() *DollarService {
	return &DollarService{
		httpClient: &http.Client{Timeout: config.FetchTimeout},
		pageURL:    config.BCVURL,
	}
}

// WithPageURL points the service at another copy of the page.
func (s *DollarService) WithPageURL(u string) *DollarService {
	s.pageURL = u
	return s
}

// DollarRate returns the rate shown in the page's #dolar block. Errors wrap
// domain.ErrRatePage, ErrRateBody or ErrRateMissing.
func (s *DollarService) DollarRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", config.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrRatePage, transportError("fetch rate page", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: %w", domain.ErrRatePage, statusError("fetch rate page", resp))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrRateBody, err)
	}
	return parseRate(doc.Find("#dolar strong").First().Text())
}

// parseRate reads a decimal written with a comma separator, as in "36,5210".
func parseRate(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, domain.ErrRateMissing
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrRateMissing, err)
	}
	return v, nil
}
