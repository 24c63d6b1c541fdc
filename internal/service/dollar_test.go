package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/set-night/scrapebot/internal/domain"
)

func TestDollarRate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    float64
		wantErr error
	}{
		{
			name:   "comma decimal",
			status: http.StatusOK,
			body:   `<div id="euro"><strong>40,10</strong></div><div id="dolar"><span>USD</span><strong> 36,5210 </strong></div>`,
			want:   36.521,
		},
		{
			name:    "block missing",
			status:  http.StatusOK,
			body:    `<div id="euro"><strong>40,10</strong></div>`,
			wantErr: domain.ErrRateMissing,
		},
		{
			name:    "not a number",
			status:  http.StatusOK,
			body:    `<div id="dolar"><strong>n/a</strong></div>`,
			wantErr: domain.ErrRateMissing,
		},
		{
			name:    "server error",
			status:  http.StatusBadGateway,
			wantErr: domain.ErrRatePage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewDollarService().WithPageURL(srv.URL).DollarRate(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DollarRate: %v", err)
			}
			if got != tt.want {
				t.Fatalf("DollarRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDollarRateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewDollarService().WithPageURL(srv.URL).DollarRate(context.Background())
	if !errors.Is(err, domain.ErrRatePage) {
		t.Fatalf("err = %v, want ErrRatePage", err)
	}
}
