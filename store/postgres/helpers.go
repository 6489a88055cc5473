package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/IT-For-Youth-Ghana/relayq"
)

// wrapErr tags a driver failure so callers can match
// relayq.ErrPersistence regardless of backend.
func wrapErr(op string, err error) error {
	return fmt.Errorf("relayq/postgres: %s: %w", op, errors.Join(relayq.ErrPersistence, err))
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
