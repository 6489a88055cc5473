// Package postgres provides a PostgreSQL-backed job store using pgx/v5.
//
// Claiming uses SELECT ... FOR UPDATE SKIP LOCKED so competing workers
// never block on or double-claim the same row. Schema migrations are
// embedded and applied idempotently by Migrate.
package postgres
