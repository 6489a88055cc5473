package store

import (
	"context"

	"github.com/IT-For-Youth-Ghana/relayq/job"
)

// Store is the aggregate persistence interface. A single backend
// (memory, postgres, sqlite, redis) implements the full job
// persistence contract plus lifecycle management.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
