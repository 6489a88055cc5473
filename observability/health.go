package observability

// QueueStats holds per-queue job counts by state plus runtime status.
type QueueStats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Paused    bool   `json:"paused"`
}

// Stats aggregates queue statistics keyed by queue name.
type Stats map[string]QueueStats

// Thresholds configures when a queue is reported unhealthy.
// A zero threshold disables that check.
type Thresholds struct {
	MaxFailed  int64 `json:"max_failed"`
	MaxWaiting int64 `json:"max_waiting"`
}

// DefaultThresholds returns the thresholds applied when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxFailed: 100, MaxWaiting: 1000}
}

// Issue kinds reported by Evaluate.
const (
	IssueFailedThreshold  = "failed_threshold_exceeded"
	IssueWaitingThreshold = "waiting_threshold_exceeded"
	IssueStuckQueue       = "stuck_queue"
)

// Issue describes a single violated health condition.
type Issue struct {
	Queue     string `json:"queue"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Value     int64  `json:"value"`
	Threshold int64  `json:"threshold,omitempty"`
}

// Health is the aggregated health report for the engine.
type Health struct {
	Healthy bool    `json:"healthy"`
	Issues  []Issue `json:"issues"`
	Stats   Stats   `json:"stats"`
}

// Evaluate checks per-queue stats against thresholds and returns a
// structured report. It never errors: threshold violations and stuck
// queues (waiting jobs with no registered handler) become issues.
// handled maps queue names to whether a handler is registered for them.
func Evaluate(th Thresholds, stats Stats, handled map[string]bool) Health {
	h := Health{Healthy: true, Issues: []Issue{}, Stats: stats}

	for name, qs := range stats {
		if th.MaxFailed > 0 && qs.Failed > th.MaxFailed {
			h.Issues = append(h.Issues, Issue{
				Queue:     name,
				Kind:      IssueFailedThreshold,
				Message:   "failed job count exceeds threshold",
				Value:     qs.Failed,
				Threshold: th.MaxFailed,
			})
		}
		if th.MaxWaiting > 0 && qs.Waiting > th.MaxWaiting {
			h.Issues = append(h.Issues, Issue{
				Queue:     name,
				Kind:      IssueWaitingThreshold,
				Message:   "waiting job count exceeds threshold",
				Value:     qs.Waiting,
				Threshold: th.MaxWaiting,
			})
		}
		if qs.Waiting > 0 && !handled[name] {
			h.Issues = append(h.Issues, Issue{
				Queue:   name,
				Kind:    IssueStuckQueue,
				Message: "queue has waiting jobs but no registered handler",
				Value:   qs.Waiting,
			})
		}
	}

	h.Healthy = len(h.Issues) == 0
	return h
}
