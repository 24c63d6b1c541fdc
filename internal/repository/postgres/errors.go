package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/repository"
)

// mapErr translates driver errors into repository and domain sentinels,
// keeping the original error in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNoRows
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23503", pgErr.Code == "23505", pgErr.Code == "23514", pgErr.Code == "23502":
			return fmt.Errorf("%w: %w", domain.ErrConstraint, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}
