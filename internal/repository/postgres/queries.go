package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/set-night/scrapebot/internal/domain"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const insertLanguageIfAbsent = `
INSERT INTO languages (name, created_at) VALUES ($1, $2)
ON CONFLICT (name) WHERE deleted_at IS NULL DO NOTHING`

func (q *Queries) InsertLanguageIfAbsent(ctx context.Context, name string, now time.Time) error {
	_, err := q.db.Exec(ctx, insertLanguageIfAbsent, name, now)
	return mapErr(err)
}

const getActiveLanguageID = `SELECT id FROM active_languages WHERE name = $1`

func (q *Queries) GetActiveLanguageID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, getActiveLanguageID, name).Scan(&id)
	return id, mapErr(err)
}

// A soft-deleted user comes back active; its language binding is kept.
const insertUserIfAbsent = `
INSERT INTO users (external_id, language_id, created_at) VALUES ($1, $2, $3)
ON CONFLICT (external_id) DO UPDATE SET deleted_at = NULL
WHERE users.deleted_at IS NOT NULL`

func (q *Queries) InsertUserIfAbsent(ctx context.Context, externalID, languageID int64, now time.Time) error {
	_, err := q.db.Exec(ctx, insertUserIfAbsent, externalID, languageID, now)
	return mapErr(err)
}

const insertChatIfAbsent = `
INSERT INTO chats (external_id, created_at) VALUES ($1, $2)
ON CONFLICT (external_id) DO UPDATE SET deleted_at = NULL
WHERE chats.deleted_at IS NOT NULL`

func (q *Queries) InsertChatIfAbsent(ctx context.Context, externalID int64, now time.Time) error {
	_, err := q.db.Exec(ctx, insertChatIfAbsent, externalID, now)
	return mapErr(err)
}

const getChat = `SELECT external_id, created_at, deleted_at FROM chats WHERE external_id = $1`

func (q *Queries) GetChat(ctx context.Context, externalID int64) (domain.Chat, error) {
	var c domain.Chat
	err := q.db.QueryRow(ctx, getChat, externalID).Scan(&c.ExternalID, &c.CreatedAt, &c.DeletedAt)
	return c, mapErr(err)
}

const softDeleteChat = `
UPDATE chats SET deleted_at = $2 WHERE external_id = $1 AND deleted_at IS NULL`

func (q *Queries) SoftDeleteChat(ctx context.Context, externalID int64, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, softDeleteChat, externalID, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

const listRecentMessages = `
SELECT m.content, m.model_response
FROM active_messages m
JOIN active_users u ON u.external_id = m.user_external_id
JOIN active_chats c ON c.external_id = m.chat_external_id
WHERE m.user_external_id = $1 AND m.chat_external_id = $2 AND m.is_cleared = FALSE
ORDER BY m.created_at DESC, m.id DESC
LIMIT $3`

func (q *Queries) ListRecentMessages(ctx context.Context, userID, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	rows, err := q.db.Query(ctx, listRecentMessages, userID, chatID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var content string
		var response *string
		if err := rows.Scan(&content, &response); err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, domain.HistoryEntry{Content: &content, Response: response})
	}
	return entries, mapErr(rows.Err())
}

const insertMessage = `
INSERT INTO messages (user_external_id, chat_external_id, content, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id`

func (q *Queries) InsertMessage(ctx context.Context, msg domain.NewMessage, now time.Time) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertMessage, msg.UserExternalID, msg.ChatExternalID, msg.Content, now).Scan(&id)
	return id, mapErr(err)
}

const getMessage = `
SELECT id, user_external_id, chat_external_id, content, model_response, is_cleared, created_at, deleted_at
FROM messages WHERE id = $1`

func (q *Queries) GetMessage(ctx context.Context, id int64) (domain.Message, error) {
	var m domain.Message
	err := q.db.QueryRow(ctx, getMessage, id).Scan(
		&m.ID, &m.UserExternalID, &m.ChatExternalID, &m.Content,
		&m.ModelResponse, &m.IsCleared, &m.CreatedAt, &m.DeletedAt,
	)
	return m, mapErr(err)
}

const setMessageResponse = `
UPDATE messages SET model_response = $2
WHERE id = $1 AND deleted_at IS NULL AND model_response IS NULL`

func (q *Queries) SetMessageResponse(ctx context.Context, id int64, response string) (int64, error) {
	tag, err := q.db.Exec(ctx, setMessageResponse, id, response)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

const clearMessages = `
UPDATE messages SET is_cleared = TRUE
WHERE user_external_id = $1 AND chat_external_id = $2
  AND deleted_at IS NULL AND is_cleared = FALSE`

func (q *Queries) ClearMessages(ctx context.Context, userID, chatID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, clearMessages, userID, chatID)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

const softDeleteChatMessages = `
UPDATE messages SET deleted_at = $2 WHERE chat_external_id = $1 AND deleted_at IS NULL`

func (q *Queries) SoftDeleteChatMessages(ctx context.Context, chatID int64, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, softDeleteChatMessages, chatID, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
