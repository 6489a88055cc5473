// Package observability provides lifecycle metrics and health evaluation
// for relayq. The MetricsHook implements lifecycle hooks to record
// system-wide OpenTelemetry counters for enqueue, start, completion,
// failure, retry, and promotion events. Evaluate turns per-queue stats
// into a structured health report against configured thresholds.
//
// For per-execution duration metrics, see middleware.Metrics().
package observability
