package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/set-night/scrapebot/internal/domain"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Timestamps are stored as Unix microseconds.
func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n, mapErr(err)
}

const insertLanguageIfAbsent = `
INSERT INTO languages (name, created_at) VALUES (?, ?)
ON CONFLICT (name) WHERE deleted_at IS NULL DO NOTHING`

func (q *Queries) InsertLanguageIfAbsent(ctx context.Context, name string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, insertLanguageIfAbsent, name, toMicros(now))
	return mapErr(err)
}

const getActiveLanguageID = `SELECT id FROM active_languages WHERE name = ?`

func (q *Queries) GetActiveLanguageID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, getActiveLanguageID, name).Scan(&id)
	return id, mapErr(err)
}

const insertUserIfAbsent = `
INSERT INTO users (external_id, language_id, created_at) VALUES (?, ?, ?)
ON CONFLICT (external_id) DO UPDATE SET deleted_at = NULL
WHERE users.deleted_at IS NOT NULL`

func (q *Queries) InsertUserIfAbsent(ctx context.Context, externalID, languageID int64, now time.Time) error {
	_, err := q.db.ExecContext(ctx, insertUserIfAbsent, externalID, languageID, toMicros(now))
	return mapErr(err)
}

const insertChatIfAbsent = `
INSERT INTO chats (external_id, created_at) VALUES (?, ?)
ON CONFLICT (external_id) DO UPDATE SET deleted_at = NULL
WHERE chats.deleted_at IS NOT NULL`

func (q *Queries) InsertChatIfAbsent(ctx context.Context, externalID int64, now time.Time) error {
	_, err := q.db.ExecContext(ctx, insertChatIfAbsent, externalID, toMicros(now))
	return mapErr(err)
}

const getChat = `SELECT external_id, created_at, deleted_at FROM chats WHERE external_id = ?`

func (q *Queries) GetChat(ctx context.Context, externalID int64) (domain.Chat, error) {
	var (
		c         domain.Chat
		createdAt int64
		deletedAt sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, getChat, externalID).Scan(&c.ExternalID, &createdAt, &deletedAt)
	if err != nil {
		return c, mapErr(err)
	}
	c.CreatedAt = fromMicros(createdAt)
	c.DeletedAt = fromNullMicros(deletedAt)
	return c, nil
}

const softDeleteChat = `
UPDATE chats SET deleted_at = ? WHERE external_id = ? AND deleted_at IS NULL`

func (q *Queries) SoftDeleteChat(ctx context.Context, externalID int64, now time.Time) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, softDeleteChat, toMicros(now), externalID))
}

const listRecentMessages = `
SELECT m.content, m.model_response
FROM active_messages m
JOIN active_users u ON u.external_id = m.user_external_id
JOIN active_chats c ON c.external_id = m.chat_external_id
WHERE m.user_external_id = ? AND m.chat_external_id = ? AND m.is_cleared = 0
ORDER BY m.created_at DESC, m.id DESC
LIMIT ?`

func (q *Queries) ListRecentMessages(ctx context.Context, userID, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	rows, err := q.db.QueryContext(ctx, listRecentMessages, userID, chatID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			content  string
			response sql.NullString
		)
		if err := rows.Scan(&content, &response); err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, domain.HistoryEntry{Content: &content, Response: fromNullString(response)})
	}
	return entries, mapErr(rows.Err())
}

const insertMessage = `
INSERT INTO messages (user_external_id, chat_external_id, content, created_at)
VALUES (?, ?, ?, ?)
RETURNING id`

func (q *Queries) InsertMessage(ctx context.Context, msg domain.NewMessage, now time.Time) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, insertMessage, msg.UserExternalID, msg.ChatExternalID, msg.Content, toMicros(now)).Scan(&id)
	return id, mapErr(err)
}

const messageColumns = `id, user_external_id, chat_external_id, content, model_response, is_cleared, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		m         domain.Message
		response  sql.NullString
		createdAt int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.UserExternalID, &m.ChatExternalID, &m.Content, &response, &m.IsCleared, &createdAt, &deletedAt); err != nil {
		return m, mapErr(err)
	}
	m.ModelResponse = fromNullString(response)
	m.CreatedAt = fromMicros(createdAt)
	m.DeletedAt = fromNullMicros(deletedAt)
	return m, nil
}

const getMessage = `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

func (q *Queries) GetMessage(ctx context.Context, id int64) (domain.Message, error) {
	return scanMessage(q.db.QueryRowContext(ctx, getMessage, id))
}

const setMessageResponse = `
UPDATE messages SET model_response = ?
WHERE id = ? AND deleted_at IS NULL AND model_response IS NULL`

func (q *Queries) SetMessageResponse(ctx context.Context, id int64, response string) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, setMessageResponse, response, id))
}

const clearMessages = `
UPDATE messages SET is_cleared = 1
WHERE user_external_id = ? AND chat_external_id = ?
  AND deleted_at IS NULL AND is_cleared = 0`

func (q *Queries) ClearMessages(ctx context.Context, userID, chatID int64) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, clearMessages, userID, chatID))
}

const softDeleteChatMessages = `
UPDATE messages SET deleted_at = ? WHERE chat_external_id = ? AND deleted_at IS NULL`

func (q *Queries) SoftDeleteChatMessages(ctx context.Context, chatID int64, now time.Time) (int64, error) {
	return rowsAffected(q.db.ExecContext(ctx, softDeleteChatMessages, toMicros(now), chatID))
}
