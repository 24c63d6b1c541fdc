package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/repository"
)

// ContextService owns conversation state: languages, participants, message
// history and the chat deletion cascade. Every public method is one
// transaction against the store.
type ContextService struct {
	db  repository.Store
	now func() time.Time
}

func NewContextService(db repository.Store) *ContextService {
	return &ContextService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the timestamp source.
func (s *ContextService) WithClock(now func() time.Time) *ContextService {
	s.now = now
	return s
}

func (s *ContextService) EnsureLanguage(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.InTx(ctx, func(q repository.Queries) error {
		var err error
		id, err = ensureLanguage(ctx, q, name, s.now())
		return err
	})
	return id, err
}

func (s *ContextService) EnsureParticipants(ctx context.Context, userID, chatID, languageID int64) error {
	return s.db.InTx(ctx, func(q repository.Queries) error {
		return ensureParticipants(ctx, q, userID, chatID, languageID, s.now())
	})
}

func (s *ContextService) RecentHistory(ctx context.Context, userID, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	return recentHistory(ctx, s.db.Queries(), userID, chatID, limit)
}

// LoadHistory creates the language, user and chat when needed and reads the
// pair's recent history, all in one transaction.
func (s *ContextService) LoadHistory(ctx context.Context, language string, userID, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := s.db.InTx(ctx, func(q repository.Queries) error {
		now := s.now()
		languageID, err := ensureLanguage(ctx, q, language, now)
		if err != nil {
			return err
		}
		if err := ensureParticipants(ctx, q, userID, chatID, languageID, now); err != nil {
			return err
		}
		entries, err = recentHistory(ctx, q, userID, chatID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *ContextService) RecordExchange(ctx context.Context, msg domain.NewMessage) (int64, error) {
	var id int64
	err := s.db.InTx(ctx, func(q repository.Queries) error {
		var err error
		id, err = q.InsertMessage(ctx, msg, s.now())
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	return id, err
}

func (s *ContextService) AttachResponse(ctx context.Context, messageID int64, response string) error {
	return s.db.InTx(ctx, func(q repository.Queries) error {
		n, err := q.SetMessageResponse(ctx, messageID, response)
		if err != nil {
			return fmt.Errorf("set message response: %w", err)
		}
		if n > 0 {
			return nil
		}

		msg, err := q.GetMessage(ctx, messageID)
		if errors.Is(err, repository.ErrNoRows) {
			return domain.ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}
		if msg.DeletedAt != nil {
			return domain.ErrMessageNotFound
		}
		return fmt.Errorf("message %d already has a response: %w", messageID, domain.ErrConstraint)
	})
}

// ClearHistory hides every active message of the pair from future context
// without deleting it. It returns how many messages were newly cleared.
func (s *ContextService) ClearHistory(ctx context.Context, userID, chatID int64) (int64, error) {
	var n int64
	err := s.db.InTx(ctx, func(q repository.Queries) error {
		var err error
		n, err = q.ClearMessages(ctx, userID, chatID)
		if err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		return nil
	})
	return n, err
}

// SoftDeleteChat marks the chat and all of its active messages deleted with a
// single timestamp. Deleting an already deleted chat does nothing.
func (s *ContextService) SoftDeleteChat(ctx context.Context, chatID int64) error {
	var cascaded int64
	err := s.db.InTx(ctx, func(q repository.Queries) error {
		chat, err := q.GetChat(ctx, chatID)
		if errors.Is(err, repository.ErrNoRows) {
			return domain.ErrChatNotFound
		}
		if err != nil {
			return fmt.Errorf("get chat: %w", err)
		}
		if chat.DeletedAt != nil {
			return nil
		}

		now := s.now()
		if _, err := q.SoftDeleteChat(ctx, chatID, now); err != nil {
			return fmt.Errorf("soft delete chat: %w", err)
		}
		cascaded, err = q.SoftDeleteChatMessages(ctx, chatID, now)
		if err != nil {
			return fmt.Errorf("soft delete chat messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("chat soft-deleted", "chat_id", chatID, "messages", cascaded)
	return nil
}

func ensureLanguage(ctx context.Context, q repository.Queries, name string, now time.Time) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("empty language name: %w", domain.ErrConstraint)
	}

	if err := q.InsertLanguageIfAbsent(ctx, name, now); err != nil && !errors.Is(err, domain.ErrConstraint) {
		return 0, fmt.Errorf("insert language: %w", err)
	}

	// A concurrent writer may have won the insert; read back whichever row is active.
	id, err := q.GetActiveLanguageID(ctx, name)
	if errors.Is(err, repository.ErrNoRows) {
		return 0, domain.ErrLanguageNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get language: %w", err)
	}
	return id, nil
}

func ensureParticipants(ctx context.Context, q repository.Queries, userID, chatID, languageID int64, now time.Time) error {
	if err := q.InsertUserIfAbsent(ctx, userID, languageID, now); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if err := q.InsertChatIfAbsent(ctx, chatID, now); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func recentHistory(ctx context.Context, q repository.Queries, userID, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return domain.NoHistory(), nil
	}
	entries, err := q.ListRecentMessages(ctx, userID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	if len(entries) == 0 {
		return domain.NoHistory(), nil
	}
	return entries, nil
}
