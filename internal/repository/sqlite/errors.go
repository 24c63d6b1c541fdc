package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/repository"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNoRows
	}

	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended result codes carry the primary code in the low byte.
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", domain.ErrConstraint, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}
	return err
}
