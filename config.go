package relayq

import "time"

// Config holds configuration for the Broker.
type Config struct {
	// Queues is the list of queues this broker will poll. Queues not
	// listed here are never claimed from by this process.
	Queues []string

	// DefaultConcurrency is the per-queue concurrency used for queues
	// without an explicit queue.Config.
	DefaultConcurrency int

	// PollInterval is how often an idle worker slot polls for new jobs.
	PollInterval time.Duration

	// PromoteInterval is how often due delayed jobs are promoted to
	// waiting.
	PromoteInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown. Jobs still active afterwards are left
	// for the stale-job reaper.
	ShutdownTimeout time.Duration

	// StaleActiveThreshold is how long a job may sit active without
	// finishing before it is considered abandoned and requeued. The
	// interrupted attempt stays counted, so the retry budget still
	// bounds total executions.
	StaleActiveThreshold time.Duration

	// DefaultMaxAttempts caps execution attempts for jobs enqueued
	// without an explicit attempt budget.
	DefaultMaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queues:               []string{"default"},
		DefaultConcurrency:   10,
		PollInterval:         1 * time.Second,
		PromoteInterval:      1 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		StaleActiveThreshold: 5 * time.Minute,
		DefaultMaxAttempts:   3,
	}
}
