package admin_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/admin"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
	"github.com/IT-For-Youth-Ghana/relayq/observability"
	"github.com/IT-For-Youth-Ghana/relayq/queue"
	"github.com/IT-For-Youth-Ghana/relayq/store/memory"
)

func setupService(t *testing.T) (*admin.Service, *memory.Store, *queue.Manager, *job.Registry) {
	t.Helper()
	s := memory.New()
	manager := queue.NewManager(10)
	reg := job.NewRegistry()
	svc := admin.NewService(s, manager, reg, observability.DefaultThresholds(), slog.Default())
	return svc, s, manager, reg
}

func seedJob(t *testing.T, s *memory.Store, queueName string, state job.State) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      relayq.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queueName,
		State:       state,
		MaxAttempts: 3,
	}
	if state.Terminal() {
		now := time.Now().UTC()
		j.FinishedAt = &now
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("seed enqueue error: %v", err)
	}
	return j
}

func TestGetStats(t *testing.T) {
	svc, s, manager, _ := setupService(t)
	ctx := context.Background()

	seedJob(t, s, "mail", job.StateWaiting)
	seedJob(t, s, "mail", job.StateWaiting)
	seedJob(t, s, "mail", job.StateFailed)
	seedJob(t, s, "payments", job.StateCompleted)
	manager.Pause("mail")

	stats, err := svc.GetStats(ctx, "")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats cover %d queues, want 2", len(stats))
	}

	mail := stats["mail"]
	if mail.Waiting != 2 || mail.Failed != 1 {
		t.Errorf("mail stats = %+v", mail)
	}
	if !mail.Paused {
		t.Error("mail not reported paused")
	}
	if stats["payments"].Completed != 1 {
		t.Errorf("payments stats = %+v", stats["payments"])
	}

	one, err := svc.GetStats(ctx, "mail")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if len(one) != 1 {
		t.Fatalf("single-queue stats cover %d queues, want 1", len(one))
	}
}

func TestRetryJob(t *testing.T) {
	svc, s, _, _ := setupService(t)
	ctx := context.Background()

	failed := seedJob(t, s, "mail", job.StateFailed)
	waiting := seedJob(t, s, "mail", job.StateWaiting)

	ok, err := svc.RetryJob(ctx, failed.ID)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if !ok {
		t.Fatal("retry of failed job returned false")
	}

	got, _ := s.GetJob(ctx, failed.ID)
	if got.State != job.StateWaiting || got.Attempts != 0 {
		t.Errorf("after retry: state=%s attempts=%d", got.State, got.Attempts)
	}

	ok, err = svc.RetryJob(ctx, waiting.ID)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if ok {
		t.Fatal("retry of waiting job returned true")
	}

	if _, err := svc.RetryJob(ctx, id.NewJobID()); !errors.Is(err, relayq.ErrJobNotFound) {
		t.Fatalf("retry missing error = %v, want ErrJobNotFound", err)
	}
}

// retryAllFailed with a limit retries exactly that many jobs.
func TestRetryAllFailed_Limit(t *testing.T) {
	svc, s, _, _ := setupService(t)
	ctx := context.Background()

	for range 15 {
		seedJob(t, s, "mail", job.StateFailed)
	}

	n, err := svc.RetryAllFailed(ctx, "mail", 10)
	if err != nil {
		t.Fatalf("retry all error: %v", err)
	}
	if n != 10 {
		t.Fatalf("retried %d jobs, want 10", n)
	}

	stillFailed, _ := s.CountJobs(ctx, job.CountOpts{Queue: "mail", State: job.StateFailed})
	if stillFailed != 5 {
		t.Errorf("still failed = %d, want 5", stillFailed)
	}
	waiting, _ := s.CountJobs(ctx, job.CountOpts{Queue: "mail", State: job.StateWaiting})
	if waiting != 10 {
		t.Errorf("waiting = %d, want 10", waiting)
	}
}

func TestRemoveJob(t *testing.T) {
	svc, s, _, _ := setupService(t)
	ctx := context.Background()

	j := seedJob(t, s, "mail", job.StateActive)
	if err := svc.RemoveJob(ctx, j.ID); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, relayq.ErrJobNotFound) {
		t.Fatal("job not removed")
	}

	if err := svc.RemoveJob(ctx, j.ID); !errors.Is(err, relayq.ErrJobNotFound) {
		t.Fatalf("double remove error = %v, want ErrJobNotFound", err)
	}
}

func TestPauseResume(t *testing.T) {
	svc, _, manager, _ := setupService(t)
	ctx := context.Background()

	svc.PauseQueue(ctx, "mail")
	if !manager.Paused("mail") {
		t.Fatal("queue not paused")
	}
	// Idempotent.
	svc.PauseQueue(ctx, "mail")
	if !manager.Paused("mail") {
		t.Fatal("double pause flipped state")
	}

	svc.ResumeQueue(ctx, "mail")
	if manager.Paused("mail") {
		t.Fatal("queue not resumed")
	}
}

// cleanQueue removes only completed jobs older than the cutoff,
// leaving failed and recent completed jobs untouched.
func TestCleanQueue_DefaultsToCompleted(t *testing.T) {
	svc, s, _, _ := setupService(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	oldCompleted := seedJob(t, s, "mail", job.StateCompleted)
	oldFailed := seedJob(t, s, "mail", job.StateFailed)
	recentCompleted := seedJob(t, s, "mail", job.StateCompleted)

	backdate(t, s, oldCompleted.ID, old)
	backdate(t, s, oldFailed.ID, old)

	removed, err := svc.CleanQueue(ctx, "mail", 24*time.Hour)
	if err != nil {
		t.Fatalf("clean error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d jobs, want 1", removed)
	}

	if _, err := s.GetJob(ctx, oldCompleted.ID); !errors.Is(err, relayq.ErrJobNotFound) {
		t.Error("old completed job not removed")
	}
	if _, err := s.GetJob(ctx, oldFailed.ID); err != nil {
		t.Error("failed job removed by completed-only clean")
	}
	if _, err := s.GetJob(ctx, recentCompleted.ID); err != nil {
		t.Error("recent completed job removed")
	}
}

func TestCleanQueue_IncludesFailedWhenAsked(t *testing.T) {
	svc, s, _, _ := setupService(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	oldCompleted := seedJob(t, s, "mail", job.StateCompleted)
	oldFailed := seedJob(t, s, "mail", job.StateFailed)
	backdate(t, s, oldCompleted.ID, old)
	backdate(t, s, oldFailed.ID, old)

	removed, err := svc.CleanQueue(ctx, "mail", 24*time.Hour, job.StateCompleted, job.StateFailed)
	if err != nil {
		t.Fatalf("clean error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d jobs, want 2", removed)
	}
}

func TestHealthCheck(t *testing.T) {
	svc, s, _, reg := setupService(t)
	ctx := context.Background()

	reg.RegisterFunc("mail", func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, nil
	})
	seedJob(t, s, "mail", job.StateWaiting)

	h, err := svc.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("health error: %v", err)
	}
	if !h.Healthy {
		t.Fatalf("expected healthy, got issues: %v", h.Issues)
	}

	// Waiting jobs on an unhandled queue surface as a stuck queue.
	seedJob(t, s, "orphan", job.StateWaiting)
	h, err = svc.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("health error: %v", err)
	}
	if h.Healthy {
		t.Fatal("expected unhealthy with unhandled queue")
	}
	found := false
	for _, issue := range h.Issues {
		if issue.Kind == observability.IssueStuckQueue && issue.Queue == "orphan" {
			found = true
		}
	}
	if !found {
		t.Errorf("stuck-queue issue not reported: %v", h.Issues)
	}
}

func TestPing(t *testing.T) {
	svc, _, _, _ := setupService(t)
	if err := svc.Ping(context.Background()); err != nil {
		t.Fatalf("ping error: %v", err)
	}
}

// backdate sets a terminal job's FinishedAt directly through the store
// API surface: remove and re-insert with the old timestamp.
func backdate(t *testing.T, s *memory.Store, jobID id.JobID, finishedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("backdate get error: %v", err)
	}
	if err := s.DeleteJob(ctx, jobID); err != nil {
		t.Fatalf("backdate delete error: %v", err)
	}
	j.FinishedAt = &finishedAt
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("backdate enqueue error: %v", err)
	}
}
