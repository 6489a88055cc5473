package job

import "time"

// Options configures per-job behavior at enqueue time.
type Options struct {
	// Delay postpones the first execution; the job is persisted delayed
	// and promoted to waiting once the delay elapses. Zero means
	// immediately claimable.
	Delay time.Duration

	// Priority determines claim ordering within a queue. Higher values
	// are served first; ties break by creation order.
	Priority int

	// MaxAttempts caps execution attempts before the job fails
	// terminally. Zero means use the broker default.
	MaxAttempts int

	// Timeout is the maximum duration one attempt may run before its
	// context is cancelled. Zero means unlimited.
	Timeout time.Duration
}

// Option is a functional option for configuring an enqueued job.
type Option func(*Options)

// WithDelay postpones the job's first execution by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts caps the job's execution attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
