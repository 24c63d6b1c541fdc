// Package pipeline runs one conversational exchange from the inbound message
// to the delivered reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/format"
	"github.com/set-night/scrapebot/internal/prompts"
)

// User-facing notices for exchanges that end without a model reply.
const (
	NoticeEmptyMessage = "I can't reply to an empty message."
	NoticeInvalidURL   = "Use a valid URL (http:// or https://)."
	NoticeDatabase     = "Internal database error."
	NoticeSearch       = "Search error."
	NoticeModel        = "Internal main model error."
)

type HistoryStore interface {
	LoadHistory(ctx context.Context, language string, userID, chatID int64, limit int) ([]domain.HistoryEntry, error)
	RecordExchange(ctx context.Context, msg domain.NewMessage) (int64, error)
	AttachResponse(ctx context.Context, messageID int64, response string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, req domain.FetchRequest) (string, error)
}

type Model interface {
	Generate(ctx context.Context, prompt domain.Prompt) (string, error)
}

type Sender interface {
	Deliver(ctx context.Context, d domain.Delivery) error
}

type Config struct {
	HistoryLimit int
	MainModel    string
	// PreprocessModel runs the refinement call; empty skips it.
	PreprocessModel string
	// VisionModel describes a photo sent with the request; empty uses
	// MainModel.
	VisionModel string
	// Temperature applies to the refinement and main calls.
	Temperature float32
	// RenderFallback refetches a page with JavaScript rendering when the
	// plain fetch yields no body text.
	RenderFallback bool
	ModelRetry     RetryPolicy
	FetchRetry     RetryPolicy
	StoreRetry     RetryPolicy
	PartLimit      int
}

// Request is one inbound message.
type Request struct {
	UserID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	// ReplyTo is the message the reply quotes; zero sends a plain message.
	ReplyTo  int
	Language string
	Text     string
	// WantDocument marks a request answered from a web page, given either as
	// Body or fetched from URL.
	WantDocument bool
	URL          string
	Body         string
	// Image is a photo sent with the message, described by the vision model
	// before the main call.
	Image *domain.Image
}

type Result struct {
	ID        uuid.UUID
	State     State
	Trace     []State
	MessageID int64
	Parts     []string
	Fallback  bool
	// Notice is the message sent instead of a reply when the exchange was
	// rejected or failed.
	Notice string
	Err    error
}

type Orchestrator struct {
	store   HistoryStore
	fetcher Fetcher
	model   Model
	sender  Sender
	prompts prompts.Set
	cfg     Config
}

func NewOrchestrator(store HistoryStore, fetcher Fetcher, model Model, sender Sender, set prompts.Set, cfg Config) *Orchestrator {
	if cfg.PartLimit <= 0 {
		cfg.PartLimit = format.MaxPartLen
	}
	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		model:   model,
		sender:  sender,
		prompts: set,
		cfg:     cfg,
	}
}

// stageError ends an exchange in a terminal state.
type stageError struct {
	state  State
	notice string
	err    error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func reject(notice string, err error) error {
	return &stageError{state: Rejected, notice: notice, err: err}
}

func fail(notice string, err error) error {
	return &stageError{state: Failed, notice: notice, err: err}
}

type exchange struct {
	id        uuid.UUID
	req       Request
	text      string
	trace     *trace
	log       *slog.Logger
	history   []domain.HistoryEntry
	messageID int64
	doc       *Document
	raw       string
	rendered  format.Result
}

func (x *exchange) advance(to State) error {
	if err := x.trace.advance(to); err != nil {
		return fail(NoticeModel, err)
	}
	return nil
}

// Run processes req to completion. The returned Result is never partial:
// State is always terminal or Delivered.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	id := uuid.New()
	x := &exchange{
		id:    id,
		req:   req,
		text:  strings.TrimSpace(req.Text),
		trace: newTrace(),
		log:   slog.With("exchange_id", id.String(), "chat_id", req.ChatID, "user_id", req.UserID),
	}

	start := time.Now()
	err := o.run(ctx, x)
	res := o.finish(ctx, x, err)
	x.log.Info("exchange finished", "state", res.State, "fallback", res.Fallback, "duration", time.Since(start))
	return res
}

func (o *Orchestrator) run(ctx context.Context, x *exchange) error {
	if err := o.preprocess(ctx, x); err != nil {
		return err
	}
	if err := o.compose(ctx, x); err != nil {
		return err
	}
	if err := o.render(x); err != nil {
		return err
	}
	return o.deliver(ctx, x)
}

// 1. Preprocess: input checks, history, the recorded user turn and the web
// document when one is wanted.
func (o *Orchestrator) preprocess(ctx context.Context, x *exchange) error {
	if x.text == "" {
		return reject(NoticeEmptyMessage, domain.ErrEmptyMessage)
	}
	if x.req.WantDocument && x.req.Body == "" && !ValidURL(x.req.URL) {
		return reject(NoticeInvalidURL, fmt.Errorf("%w: %w", domain.ErrDocumentMissing, domain.ErrInvalidURL))
	}

	history, err := retry(ctx, o.cfg.StoreRetry, "load history", func(ctx context.Context) ([]domain.HistoryEntry, error) {
		return o.store.LoadHistory(ctx, x.req.Language, x.req.UserID, x.req.ChatID, o.cfg.HistoryLimit)
	})
	if err != nil {
		return fail(NoticeDatabase, fmt.Errorf("load history: %w", err))
	}
	x.history = history

	x.messageID, err = o.store.RecordExchange(ctx, domain.NewMessage{
		UserExternalID: x.req.UserID,
		ChatExternalID: x.req.ChatID,
		Content:        x.text,
	})
	if err != nil {
		return fail(NoticeDatabase, fmt.Errorf("record exchange: %w", err))
	}
	if err := x.advance(ContextLoaded); err != nil {
		return err
	}

	if !x.req.WantDocument {
		return nil
	}
	base, _ := url.Parse(x.req.URL)
	if x.req.Body != "" {
		x.doc = &Document{URL: x.req.URL, Body: x.req.Body, Snapshot: Scan(x.req.Body, base)}
		return x.advance(WebFused)
	}

	body, err := o.fetch(ctx, x.req.URL, false)
	if err != nil {
		return fail(NoticeSearch, fmt.Errorf("fetch document: %w", err))
	}
	x.doc = &Document{URL: x.req.URL, Body: body, Snapshot: Scan(body, base)}
	if o.cfg.RenderFallback && x.doc.Snapshot.Text == nil {
		rendered, err := o.fetch(ctx, x.req.URL, true)
		if err != nil {
			x.log.Warn("rendered fetch failed, keeping the plain page", "error", err)
		} else {
			x.doc = &Document{URL: x.req.URL, Body: rendered, Snapshot: Scan(rendered, base)}
		}
	}
	return x.advance(WebFused)
}

func (o *Orchestrator) fetch(ctx context.Context, rawURL string, render bool) (string, error) {
	return retry(ctx, o.cfg.FetchRetry, "fetch document", func(ctx context.Context) (string, error) {
		return o.fetcher.Fetch(ctx, domain.FetchRequest{URL: rawURL, Render: render})
	})
}

// 2. Compose: optional refinement, then the main model call.
func (o *Orchestrator) compose(ctx context.Context, x *exchange) error {
	history := HistoryXML(x.history)

	var web string
	if x.doc != nil {
		web = webResource(x.doc)
	}

	base := x.text + "\n\n" + o.describeImage(ctx, x, history)
	if web != "" {
		base += "WebResource:\n" + web + "\n\n"
	}
	base += "History:\n\n" + history

	system := o.prompts.Get(prompts.Preprocess)
	if x.doc != nil {
		system = o.prompts.Get(prompts.WebSearch)
	}
	refined := o.refine(ctx, x, system, base)

	user := fmt.Sprintf("Main lang is %q:\n\nOriginal prompt: %s\n\nResource for your response: %s", x.req.Language, x.text, refined)
	if web != "" {
		user += "\n\nWebResource:\n" + web
	}

	raw, err := retry(ctx, o.cfg.ModelRetry, "main model", func(ctx context.Context) (string, error) {
		return o.model.Generate(ctx, domain.Prompt{
			Model:       o.cfg.MainModel,
			System:      o.prompts.Get(prompts.Answer),
			User:        user,
			Temperature: temperature(o.cfg.Temperature),
			MaxTokens:   3000,
		})
	})
	if err != nil {
		return fail(NoticeModel, fmt.Errorf("main model: %w", err))
	}
	x.raw = strings.TrimSpace(raw)
	if x.raw == "" {
		return fail(NoticeModel, domain.ErrEmptyResponse)
	}
	return x.advance(ModelInvoked)
}

// describeImage returns the vision model's account of the request photo as
// a prompt section ending in a blank line. A failed call leaves a marker in
// the section instead of failing the exchange.
func (o *Orchestrator) describeImage(ctx context.Context, x *exchange, history string) string {
	if x.req.Image == nil {
		return ""
	}
	model := o.cfg.VisionModel
	if model == "" {
		model = o.cfg.MainModel
	}
	out, err := retry(ctx, o.cfg.ModelRetry, "vision model", func(ctx context.Context) (string, error) {
		return o.model.Generate(ctx, domain.Prompt{
			Model:       model,
			System:      o.prompts.Get(prompts.Vision),
			User:        x.text + "\n\nHistory:\n\n" + history,
			Images:      []domain.Image{*x.req.Image},
			Temperature: temperature(visionTemperature),
			MaxTokens:   1200,
		})
	})
	out = strings.TrimSpace(out)
	switch {
	case errors.Is(err, domain.ErrEmptyResponse) || (err == nil && out == ""):
		x.log.Warn("vision model returned nothing")
		return "Image analysis: [no choices returned]\n\n"
	case err != nil:
		x.log.Warn("vision model failed", "error", err)
		return "Image analysis: [vision model error]\n\n"
	}
	return "Image analysis (vision model):\n" + out + "\n\n"
}

const visionTemperature = 0.2

func temperature(v float32) *float32 {
	return &v
}

// refine asks the preprocessing model for a brief of base. Two attempts;
// any failure falls back to base itself.
func (o *Orchestrator) refine(ctx context.Context, x *exchange, system, base string) string {
	if o.cfg.PreprocessModel == "" {
		return base
	}
	for attempt := 1; attempt <= 2; attempt++ {
		out, err := runAttempt(ctx, o.cfg.ModelRetry.Timeout, func(ctx context.Context) (string, error) {
			return o.model.Generate(ctx, domain.Prompt{
				Model:       o.cfg.PreprocessModel,
				System:      system,
				User:        "Full prompt+history:\n\n" + base,
				Temperature: temperature(o.cfg.Temperature),
				MaxTokens:   2000,
			})
		})
		if ctx.Err() != nil {
			return base
		}
		if out = strings.TrimSpace(out); err == nil && out != "" {
			return out
		}
		x.log.Warn("refinement step failed", "attempt", attempt, "error", err)
	}
	return base
}

// 3 and 4. Format and validate, falling back to plain text for the whole
// reply on any violation.
func (o *Orchestrator) render(x *exchange) error {
	var opts format.Options
	if x.doc != nil {
		opts.LinkLabels = x.doc.Snapshot.Labels()
	}
	x.rendered = format.Render(x.raw, opts, o.cfg.PartLimit)
	if err := x.advance(Formatted); err != nil {
		return err
	}
	if x.rendered.Fallback {
		x.log.Warn("reply failed validation, sending plain text", "error", x.rendered.Err)
		return x.advance(FallbackApplied)
	}
	return x.advance(Validated)
}

// The fallback is escaped text without tags, so replies always go out in
// HTML parse mode.
func (o *Orchestrator) deliver(ctx context.Context, x *exchange) error {
	err := o.sender.Deliver(ctx, domain.Delivery{
		ChatID:   x.req.ChatID,
		ThreadID: x.req.ThreadID,
		ReplyTo:  x.req.ReplyTo,
		Parts:    x.rendered.Parts,
		HTML:     true,
	})
	if err != nil {
		return fail("", fmt.Errorf("deliver: %w", err))
	}
	if err := x.advance(Delivered); err != nil {
		return err
	}

	// The reply is out; a late cancellation must not lose the record of it.
	if err := o.store.AttachResponse(context.WithoutCancel(ctx), x.messageID, x.rendered.Text); err != nil {
		x.log.Error("failed to attach response", "message_id", x.messageID, "error", err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, x *exchange, err error) Result {
	res := Result{
		ID:        x.id,
		MessageID: x.messageID,
		Parts:     x.rendered.Parts,
		Fallback:  x.rendered.Fallback,
	}
	if err == nil {
		res.State = x.trace.current()
		res.Trace = x.trace.states
		return res
	}

	var se *stageError
	if !errors.As(err, &se) {
		se = &stageError{state: Failed, err: err}
	}
	if x.trace.advance(se.state) != nil {
		x.trace.states = append(x.trace.states, Failed)
	}
	res.State = x.trace.current()
	res.Trace = x.trace.states
	res.Err = se.err
	res.Parts = nil

	if ctx.Err() != nil {
		x.log.Info("exchange cancelled", "state", res.State)
		return res
	}

	if res.State == Rejected {
		x.log.Info("exchange rejected", "error", se.err)
	} else {
		x.log.Error("exchange failed", "error", se.err)
	}
	if se.notice == "" {
		return res
	}
	res.Notice = se.notice
	notice := domain.Delivery{
		ChatID:   x.req.ChatID,
		ThreadID: x.req.ThreadID,
		ReplyTo:  x.req.ReplyTo,
		Parts:    []string{se.notice},
	}
	if err := o.sender.Deliver(ctx, notice); err != nil {
		x.log.Error("failed to deliver notice", "error", err)
	}
	return res
}

// ValidURL reports whether s is an absolute http or https URL with a host.
func ValidURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// webResource is the page as shown to the models: the simplified body with
// the title and description on top.
func webResource(doc *Document) string {
	snap := doc.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", doc.URL)
	if snap.Title != nil {
		fmt.Fprintf(&b, "Title: %s\n", *snap.Title)
	}
	if snap.Description != nil {
		fmt.Fprintf(&b, "Description: %s\n", *snap.Description)
	}
	if snap.Text != nil {
		fmt.Fprintf(&b, "<body>%s</body>\n", *snap.Text)
	}
	for _, t := range snap.Tables {
		fmt.Fprintf(&b, "Table:\n%s\n", t)
	}
	return strings.TrimRight(b.String(), "\n")
}
