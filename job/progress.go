package job

import "context"

// ProgressFunc receives handler-reported progress in the range [0, 100].
type ProgressFunc func(pct int)

type progressKey struct{}

// WithProgressReporter returns a context carrying a progress reporter.
// The executor installs one before invoking the handler.
func WithProgressReporter(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress reports handler progress for the current job. It is a
// no-op when no reporter is installed, so handlers may call it
// unconditionally.
func ReportProgress(ctx context.Context, pct int) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(pct)
	}
}
