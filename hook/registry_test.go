package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq/hook"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
)

// ──────────────────────────────────────────────────
// Test hooks
// ──────────────────────────────────────────────────

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobEnqueued")
	return nil
}

func (h *allEventsHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobStarted")
	return nil
}

func (h *allEventsHook) OnJobProgress(_ context.Context, _ *job.Job, _ int) error {
	h.calls = append(h.calls, "OnJobProgress")
	return nil
}

func (h *allEventsHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.calls = append(h.calls, "OnJobCompleted")
	return nil
}

func (h *allEventsHook) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	h.calls = append(h.calls, "OnJobFailed")
	return nil
}

func (h *allEventsHook) OnJobRetryScheduled(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	h.calls = append(h.calls, "OnJobRetryScheduled")
	return nil
}

func (h *allEventsHook) OnJobsPromoted(_ context.Context, _ int) error {
	h.calls = append(h.calls, "OnJobsPromoted")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "OnShutdown")
	return nil
}

// enqueueOnlyHook only implements the enqueue event.
type enqueueOnlyHook struct {
	calls int
}

func (h *enqueueOnlyHook) Name() string { return "enqueue-only" }

func (h *enqueueOnlyHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	h.calls++
	return nil
}

// failingHook returns errors from every event it implements.
type failingHook struct{}

func (h *failingHook) Name() string { return "failing" }

func (h *failingHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	return errors.New("hook exploded")
}

func newTestJob() *job.Job {
	return &job.Job{ID: id.NewJobID(), Queue: "mail", State: job.StateWaiting}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_EmitsAllEvents(t *testing.T) {
	h := &allEventsHook{}
	r := hook.NewRegistry(slog.Default())
	r.Register(h)

	ctx := context.Background()
	j := newTestJob()

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProgress(ctx, j, 50)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("boom"))
	r.EmitJobRetryScheduled(ctx, j, 1, time.Now())
	r.EmitJobsPromoted(ctx, 3)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobProgress", "OnJobCompleted",
		"OnJobFailed", "OnJobRetryScheduled", "OnJobsPromoted", "OnShutdown",
	}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	for i, name := range want {
		if h.calls[i] != name {
			t.Errorf("calls[%d] = %q, want %q", i, h.calls[i], name)
		}
	}
}

func TestRegistry_PartialHookOnlyGetsItsEvents(t *testing.T) {
	h := &enqueueOnlyHook{}
	r := hook.NewRegistry(slog.Default())
	r.Register(h)

	ctx := context.Background()
	j := newTestJob()

	r.EmitJobEnqueued(ctx, j)
	// These must not panic even though the hook ignores them.
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitShutdown(ctx)

	if h.calls != 1 {
		t.Errorf("enqueue calls = %d, want 1", h.calls)
	}
}

func TestRegistry_HookErrorDoesNotStopOthers(t *testing.T) {
	failing := &failingHook{}
	counting := &enqueueOnlyHook{}

	r := hook.NewRegistry(slog.Default())
	r.Register(failing)
	r.Register(counting)

	r.EmitJobEnqueued(context.Background(), newTestJob())

	if counting.calls != 1 {
		t.Errorf("hook after failing one was not notified (calls = %d)", counting.calls)
	}
}

func TestRegistry_Hooks(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&enqueueOnlyHook{})
	r.Register(&allEventsHook{})

	if got := len(r.Hooks()); got != 2 {
		t.Errorf("Hooks() length = %d, want 2", got)
	}
}
