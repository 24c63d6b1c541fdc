package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// deletion is one message's id and soft-delete time.
type deletion struct {
	ID        int64
	DeletedAt *time.Time
}

// inspector reads and edits rows the service never exposes, for assertions.
type inspector interface {
	retireLanguage(ctx context.Context, id int64, at time.Time) error
	userLanguage(ctx context.Context, userID int64) (int64, error)
	chatDeletions(ctx context.Context, chatID int64) ([]deletion, error)
}

type sqliteInspector struct {
	db *sql.DB
}

func (i sqliteInspector) retireLanguage(ctx context.Context, id int64, at time.Time) error {
	_, err := i.db.ExecContext(ctx, `UPDATE languages SET deleted_at = ? WHERE id = ?`, at.UnixMicro(), id)
	return err
}

func (i sqliteInspector) userLanguage(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := i.db.QueryRowContext(ctx, `SELECT language_id FROM users WHERE external_id = ?`, userID).Scan(&id)
	return id, err
}

func (i sqliteInspector) chatDeletions(ctx context.Context, chatID int64) ([]deletion, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT id, deleted_at FROM messages WHERE chat_external_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []deletion
	for rows.Next() {
		var (
			d  deletion
			at sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &at); err != nil {
			return nil, err
		}
		if at.Valid {
			t := time.UnixMicro(at.Int64).UTC()
			d.DeletedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type postgresInspector struct {
	pool *pgxpool.Pool
}

func (i postgresInspector) retireLanguage(ctx context.Context, id int64, at time.Time) error {
	_, err := i.pool.Exec(ctx, `UPDATE languages SET deleted_at = $2 WHERE id = $1`, id, at)
	return err
}

func (i postgresInspector) userLanguage(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := i.pool.QueryRow(ctx, `SELECT language_id FROM users WHERE external_id = $1`, userID).Scan(&id)
	return id, err
}

func (i postgresInspector) chatDeletions(ctx context.Context, chatID int64) ([]deletion, error) {
	rows, err := i.pool.Query(ctx, `SELECT id, deleted_at FROM messages WHERE chat_external_id = $1 ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []deletion
	for rows.Next() {
		var d deletion
		if err := rows.Scan(&d.ID, &d.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
