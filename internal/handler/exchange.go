package handler

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/scrapebot/internal/config"
	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/middleware"
	"github.com/set-night/scrapebot/internal/pipeline"
	"github.com/set-night/scrapebot/internal/telegram"
)

func (h *Handler) handleAsk(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, args, ok := h.command(ctx, update, "/ask")
	if !ok {
		return
	}
	h.startExchange(ctx, p, pipeline.Request{Text: args})
}

// handleSearch answers from the page at the first argument. The whole
// argument string, URL included, is the question.
func (h *Handler) handleSearch(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, args, ok := h.command(ctx, update, "/search")
	if !ok {
		return
	}
	req := pipeline.Request{Text: args, WantDocument: true}
	if fields := strings.Fields(args); len(fields) > 0 {
		req.URL = fields[0]
	}
	h.startExchange(ctx, p, req)
}

// handleText treats private messages, or their captions, as questions. In
// groups only messages that mention the bot or reply to it are.
func (h *Handler) handleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	p := middleware.GetParticipant(ctx)
	if p == nil {
		return
	}

	text := messageText(msg)
	if msg.Chat.Type != models.ChatTypePrivate {
		var addressed bool
		text, addressed = h.addressed(msg)
		if !addressed {
			return
		}
	}
	h.startExchange(ctx, p, pipeline.Request{Text: text})
}

// handleDocument runs /search over an HTML file sent with the command as
// its caption.
func (h *Handler) handleDocument(ctx context.Context, b *bot.Bot, update *models.Update) {
	p, args, ok := h.command(ctx, update, "/search")
	if !ok || h.files == nil {
		return
	}
	doc := update.Message.Document
	if !isHTMLDocument(doc) {
		h.reply(ctx, p, pipeline.NoticeInvalidURL)
		return
	}

	body, err := telegram.DownloadFile(ctx, h.files, h.httpClient, doc.FileID, config.MaxDocumentBytes)
	if err != nil {
		slog.Error("download document", "error", err, "chat_id", p.ChatID, "file_id", doc.FileID)
		h.reply(ctx, p, pipeline.NoticeSearch)
		return
	}
	h.startExchange(ctx, p, pipeline.Request{Text: args, WantDocument: true, Body: string(body)})
}

// handlePhoto asks about a photo. The caption is the question: any caption
// in private chats, an /ask caption or an addressed one in groups.
func (h *Handler) handlePhoto(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	p := middleware.GetParticipant(ctx)
	if p == nil {
		return
	}

	text := msg.Caption
	switch {
	case strings.HasPrefix(text, "/"):
		var ok bool
		if p, text, ok = h.command(ctx, update, "/ask"); !ok {
			return
		}
	case msg.Chat.Type != models.ChatTypePrivate:
		var addressed bool
		if text, addressed = h.addressed(msg); !addressed {
			return
		}
	}

	req := pipeline.Request{Text: text}
	if strings.TrimSpace(text) != "" && h.files != nil {
		img, err := h.downloadPhoto(ctx, msg.Photo)
		if err != nil {
			slog.Warn("download photo, asking without it", "error", err, "chat_id", p.ChatID)
		} else {
			req.Image = img
		}
	}
	h.startExchange(ctx, p, req)
}

// downloadPhoto fetches the largest size of a photo.
func (h *Handler) downloadPhoto(ctx context.Context, sizes []models.PhotoSize) (*domain.Image, error) {
	largest := sizes[0]
	for _, s := range sizes[1:] {
		if s.FileSize >= largest.FileSize {
			largest = s
		}
	}
	data, err := telegram.DownloadFile(ctx, h.files, h.httpClient, largest.FileID, config.MaxPhotoBytes)
	if err != nil {
		return nil, err
	}
	return &domain.Image{Data: data, MIMEType: imageType(data)}, nil
}

// imageType sniffs the picture format, jpeg when it is not recognised.
func imageType(data []byte) string {
	switch t := http.DetectContentType(data); t {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return t
	}
	return "image/jpeg"
}

// addressed reports whether a group message is meant for the bot and returns
// its text with the mention removed.
func (h *Handler) addressed(msg *models.Message) (string, bool) {
	if h.botUsername == "" {
		return "", false
	}
	text := messageText(msg)
	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.IsBot && strings.EqualFold(r.From.Username, h.botUsername) {
		return text, true
	}
	mention := "@" + h.botUsername
	if i := strings.Index(strings.ToLower(text), strings.ToLower(mention)); i >= 0 {
		return strings.TrimSpace(text[:i] + text[i+len(mention):]), true
	}
	return "", false
}

func isHTMLDocument(doc *models.Document) bool {
	if doc == nil {
		return false
	}
	if strings.HasPrefix(doc.MimeType, "text/html") || doc.MimeType == "application/xhtml+xml" {
		return true
	}
	switch strings.ToLower(path.Ext(doc.FileName)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

// startExchange runs req in the background, queued behind the user's
// previous exchange. An edit of the inbound message cancels it.
func (h *Handler) startExchange(ctx context.Context, p *middleware.Participant, req pipeline.Request) {
	req.UserID = p.UserID
	req.ChatID = p.ChatID
	req.ThreadID = p.ThreadID
	req.MessageID = p.MessageID
	req.ReplyTo = p.ReplyTo()
	req.Language = p.Language

	ctx, done := h.inflight.Start(ctx, pipeline.InflightKey{ChatID: p.ChatID, MessageID: p.MessageID})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer done()
		h.runExchange(ctx, req)
	}()
}

func (h *Handler) runExchange(ctx context.Context, req pipeline.Request) {
	err := h.executor.Do(ctx, req.UserID, func(ctx context.Context) {
		stopTyping := h.sender.StartTyping(ctx, req.ChatID, req.ThreadID)
		res := h.pipeline.Run(ctx, req)
		stopTyping()

		if res.State == pipeline.Failed && ctx.Err() == nil {
			h.tgLogger.LogExchangeFailed(res.ID.String(), req.ChatID, req.UserID, string(failedAfter(res.Trace)), res.Err)
		}
	})
	if err != nil {
		slog.Info("exchange abandoned before it started", "chat_id", req.ChatID, "message_id", req.MessageID, "error", err)
	}
}

// failedAfter is the last state an exchange reached before failing.
func failedAfter(trace []pipeline.State) pipeline.State {
	if len(trace) < 2 {
		return pipeline.Received
	}
	return trace[len(trace)-2]
}
