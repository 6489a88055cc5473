package job

import "context"

// Definition is a typed handler definition for one queue.
// T is the payload type (must be JSON-serializable). The handler's
// return value, if non-nil, is JSON-marshalled into the job's Result.
type Definition[T any] struct {
	// Queue is the queue this handler serves. Exactly one handler may
	// be registered per queue.
	Queue string

	// Handler processes one job payload. Returning an error schedules a
	// retry (or fails the job once attempts run out); wrap the error
	// with Permanent to fail immediately.
	Handler func(ctx context.Context, payload T) (any, error)

	// Opts are the default enqueue options for jobs on this queue.
	Opts Options
}

// NewDefinition creates a typed handler definition for a queue.
func NewDefinition[T any](queue string, handler func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Queue:   queue,
		Handler: handler,
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
