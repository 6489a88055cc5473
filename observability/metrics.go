package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/IT-For-Youth-Ghana/relayq/hook"
	"github.com/IT-For-Youth-Ghana/relayq/job"
)

// meterName is the instrumentation scope name for relayq metrics.
const meterName = "github.com/IT-For-Youth-Ghana/relayq/observability"

// Compile-time interface checks.
var (
	_ hook.Hook              = (*MetricsHook)(nil)
	_ hook.JobEnqueued       = (*MetricsHook)(nil)
	_ hook.JobStarted        = (*MetricsHook)(nil)
	_ hook.JobCompleted      = (*MetricsHook)(nil)
	_ hook.JobFailed         = (*MetricsHook)(nil)
	_ hook.JobRetryScheduled = (*MetricsHook)(nil)
	_ hook.JobsPromoted      = (*MetricsHook)(nil)
)

// MetricsHook records system-wide lifecycle counters via OpenTelemetry.
// Register it on the hook registry to automatically track enqueue rates,
// completion counts, failure rates, retry counts, and promotions.
type MetricsHook struct {
	enqueued  metric.Int64Counter
	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	promoted  metric.Int64Counter
}

// NewMetricsHook creates a MetricsHook using the global MeterProvider.
// If no MeterProvider is configured, noop instruments are used.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	h := &MetricsHook{}
	// On error, the OTel API returns noop instruments so the hook
	// degrades gracefully.
	h.enqueued, _ = meter.Int64Counter("relayq.jobs.enqueued",
		metric.WithDescription("Total jobs enqueued"))
	h.started, _ = meter.Int64Counter("relayq.jobs.started",
		metric.WithDescription("Total job executions started"))
	h.completed, _ = meter.Int64Counter("relayq.jobs.completed",
		metric.WithDescription("Total jobs completed"))
	h.failed, _ = meter.Int64Counter("relayq.jobs.failed",
		metric.WithDescription("Total jobs terminally failed"))
	h.retried, _ = meter.Int64Counter("relayq.jobs.retried",
		metric.WithDescription("Total retries scheduled"))
	h.promoted, _ = meter.Int64Counter("relayq.jobs.promoted",
		metric.WithDescription("Total delayed jobs promoted to waiting"))
	return h
}

// Name implements hook.Hook.
func (m *MetricsHook) Name() string { return "observability-metrics" }

func queueAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("queue", j.Queue))
}

// OnJobEnqueued implements hook.JobEnqueued.
func (m *MetricsHook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobStarted implements hook.JobStarted.
func (m *MetricsHook) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.started.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsHook) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.completed.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsHook) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobRetryScheduled implements hook.JobRetryScheduled.
func (m *MetricsHook) OnJobRetryScheduled(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobsPromoted implements hook.JobsPromoted.
func (m *MetricsHook) OnJobsPromoted(ctx context.Context, count int) error {
	m.promoted.Add(ctx, int64(count))
	return nil
}
