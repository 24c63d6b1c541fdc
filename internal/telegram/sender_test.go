package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/domain"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []bot.SendMessageParams
	actions int
	// fail returns an error for the nth SendMessage call (1-based).
	fail map[int]error
}

func (f *fakeAPI) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *params)
	if err := f.fail[len(f.sent)]; err != nil {
		return nil, err
	}
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeAPI) SendChatAction(context.Context, *bot.SendChatActionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions++
	return true, nil
}

func (f *fakeAPI) actionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions
}

func TestDeliver(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)

	err := s.Deliver(context.Background(), domain.Delivery{
		ChatID:   5,
		ThreadID: 9,
		ReplyTo:  3,
		Parts:    []string{"<b>one</b>", "two"},
		HTML:     true,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(api.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(api.sent))
	}
	first, second := api.sent[0], api.sent[1]
	if first.ReplyParameters == nil || first.ReplyParameters.MessageID != 3 {
		t.Errorf("first part reply = %+v", first.ReplyParameters)
	}
	if second.ReplyParameters != nil {
		t.Errorf("second part replies to %+v", second.ReplyParameters)
	}
	for _, p := range api.sent {
		if p.ParseMode != models.ParseModeHTML || p.MessageThreadID != 9 || p.ChatID != int64(5) {
			t.Errorf("params = %+v", p)
		}
	}
}

func TestDeliverFallsBackOnParseError(t *testing.T) {
	api := &fakeAPI{fail: map[int]error{
		1: fmt.Errorf("%w, Bad Request: can't parse entities: unexpected end tag", bot.ErrorBadRequest),
	}}
	s := NewSender(api)

	err := s.Deliver(context.Background(), domain.Delivery{
		ChatID: 5,
		Parts:  []string{"<b>a &lt; b</i>"},
		HTML:   true,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(api.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(api.sent))
	}
	retry := api.sent[1]
	if retry.ParseMode != "" || retry.Text != "a < b" {
		t.Fatalf("retry = %q in mode %q", retry.Text, retry.ParseMode)
	}
}

func TestDeliverReturnsOtherErrors(t *testing.T) {
	api := &fakeAPI{fail: map[int]error{1: bot.ErrorForbidden}}
	s := NewSender(api)

	err := s.Deliver(context.Background(), domain.Delivery{ChatID: 5, Parts: []string{"hi", "there"}, HTML: true})
	if !errors.Is(err, bot.ErrorForbidden) {
		t.Fatalf("Deliver = %v, want ErrorForbidden", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages after a failure, want 1", len(api.sent))
	}
}

func TestDeliverPlain(t *testing.T) {
	api := &fakeAPI{}
	if err := NewSender(api).Deliver(context.Background(), domain.Delivery{ChatID: 1, Parts: []string{"a < b"}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if p := api.sent[0]; p.ParseMode != "" || p.Text != "a < b" || p.ReplyParameters != nil {
		t.Fatalf("params = %+v", p)
	}
}

func TestStartTyping(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	s.interval = time.Millisecond

	stop := s.StartTyping(context.Background(), 1, 0)
	deadline := time.Now().Add(time.Second)
	for api.actionCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stop()
	if n := api.actionCount(); n < 3 {
		t.Fatalf("sent %d chat actions, want at least 3", n)
	}
}

func TestTelegramLogger(t *testing.T) {
	api := &fakeAPI{}
	l := NewTelegramLogger(api, &config.Config{LogTelegramChatID: -100, LogTopicError: 7})
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	l.LogError(errors.New("x < y"), "load <history>")
	l.LogChatDeleted(42, "Group")

	if len(api.sent) != 1 {
		t.Fatalf("sent %d logs, want 1 (chat-deleted topic unset)", len(api.sent))
	}
	p := api.sent[0]
	want := "❌ <b>Error</b>\n\n<b>Context:</b> load &lt;history&gt;\n<b>Error:</b> <code>x &lt; y</code>\n<b>Time:</b> 2026-01-02 03:04:05"
	if p.ChatID != int64(-100) || p.MessageThreadID != 7 || p.ParseMode != models.ParseModeHTML || p.Text != want {
		t.Fatalf("params = %+v", p)
	}
}

func TestTelegramLoggerDisabled(t *testing.T) {
	api := &fakeAPI{}
	NewTelegramLogger(api, &config.Config{LogTopicError: 7}).LogError(errors.New("boom"), "ctx")

	var nilLogger *TelegramLogger
	nilLogger.LogChatDeleted(1, "")

	if len(api.sent) != 0 {
		t.Fatalf("sent %d logs without a chat", len(api.sent))
	}
}
