package repository

import (
	"context"
	"errors"
	"time"

	"github.com/set-night/scrapebot/internal/domain"
)

// ErrNoRows is returned by single-row queries that matched nothing.
var ErrNoRows = errors.New("no rows in result set")

// Queries is the statement set every backend implements. Timestamps are
// supplied by the caller so one logical operation stamps every row it
// touches with the same instant.
type Queries interface {
	InsertLanguageIfAbsent(ctx context.Context, name string, now time.Time) error
	GetActiveLanguageID(ctx context.Context, name string) (int64, error)

	InsertUserIfAbsent(ctx context.Context, externalID, languageID int64, now time.Time) error
	InsertChatIfAbsent(ctx context.Context, externalID int64, now time.Time) error
	GetChat(ctx context.Context, externalID int64) (domain.Chat, error)
	SoftDeleteChat(ctx context.Context, externalID int64, now time.Time) (int64, error)

	ListRecentMessages(ctx context.Context, userID, chatID int64, limit int) ([]domain.HistoryEntry, error)
	InsertMessage(ctx context.Context, msg domain.NewMessage, now time.Time) (int64, error)
	GetMessage(ctx context.Context, id int64) (domain.Message, error)
	SetMessageResponse(ctx context.Context, id int64, response string) (int64, error)
	ClearMessages(ctx context.Context, userID, chatID int64) (int64, error)
	SoftDeleteChatMessages(ctx context.Context, chatID int64, now time.Time) (int64, error)
}

// Store owns a connection to one backend.
type Store interface {
	Queries() Queries
	// InTx runs fn inside one transaction, committing only if fn returns nil.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close()
}
