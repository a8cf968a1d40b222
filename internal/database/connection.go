package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into model sentinels. Unknown
// errors are wrapped with models.ErrUnavailable so callers can treat them as
// transient.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23503", "23502", "22P02": // foreign_key, not_null, invalid_text_representation
			return models.ErrBadRequest
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return models.ErrConcurrentUpdate
		}
	}

	return fmt.Errorf("%w: %w", models.ErrUnavailable, err)
}

// WithTransaction runs fn inside a transaction. The transaction is rolled
// back when fn fails, panics, or ctx is cancelled before commit.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return MapPostgresError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = MapPostgresError(commitErr)
		}
	}()

	return fn(tx)
}
