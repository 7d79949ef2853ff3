package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
)

func newJob(queue string, state job.State, priority int) *job.Job {
	j := job.New(queue, "test", []byte(`{"test":true}`), job.DefaultOptions())
	j.State = state
	j.Priority = priority
	j.RunAt = time.Now().UTC().Add(-time.Second)
	return j
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	for name, fn := range map[string]func() error{
		"Migrate": func() error { return s.Migrate(ctx) },
		"Ping":    func() error { return s.Ping(ctx) },
		"Close":   s.Close,
	} {
		if err := fn(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob("email", job.StateWaiting, 0)

	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, taskcore.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Queue != "email" {
		t.Errorf("queue = %q", got.Queue)
	}

	// Returned copies are detached from the store.
	got.State = job.StateFailed
	again, _ := s.GetJob(ctx, j.ID)
	if again.State != job.StateWaiting {
		t.Errorf("store state mutated through returned copy: %s", again.State)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, taskcore.ErrJobNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestDequeue_OrderAndFilter(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	low := newJob("analysis", job.StateWaiting, 1)
	high := newJob("analysis", job.StateWaiting, 10)
	other := newJob("email", job.StateWaiting, 100)
	delayed := newJob("analysis", job.StateDelayed, 50)
	future := newJob("analysis", job.StateWaiting, 99)
	future.RunAt = time.Now().Add(time.Hour)
	for _, j := range []*job.Job{low, high, other, delayed, future} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DequeueJobs(ctx, []string{"analysis"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("dequeued %d jobs, want 2", len(got))
	}
	if got[0].ID != high.ID || got[1].ID != low.ID {
		t.Errorf("order = [%s %s], want priority order", got[0].ID, got[1].ID)
	}
	for _, j := range got {
		if j.State != job.StateActive || j.HeartbeatAt == nil {
			t.Errorf("claimed job %s: state=%s heartbeat=%v", j.ID, j.State, j.HeartbeatAt)
		}
	}

	again, _ := s.DequeueJobs(ctx, []string{"analysis"}, 10)
	if len(again) != 0 {
		t.Errorf("jobs claimed twice: %d", len(again))
	}
}

func TestPromoteDelayed(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	due := newJob("email", job.StateDelayed, 0)
	notDue := newJob("email", job.StateDelayed, 0)
	notDue.RunAt = time.Now().Add(time.Hour)
	otherQueue := newJob("analysis", job.StateDelayed, 0)
	for _, j := range []*job.Job{due, notDue, otherQueue} {
		_ = s.EnqueueJob(ctx, j)
	}

	n, err := s.PromoteDelayed(ctx, []string{"email"}, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("PromoteDelayed = %d, %v; want 1", n, err)
	}
	got, _ := s.GetJob(ctx, due.ID)
	if got.State != job.StateWaiting {
		t.Errorf("due job state = %s", got.State)
	}
	got, _ = s.GetJob(ctx, notDue.ID)
	if got.State != job.StateDelayed {
		t.Errorf("future job promoted early")
	}
}

func TestHeartbeatAndReapStale(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	clock := func() time.Time { return now }
	s := New(WithClock(clock))
	ctx := context.Background()

	j := newJob("email", job.StateWaiting, 0)
	_ = s.EnqueueJob(ctx, j)
	if _, err := s.DequeueJobs(ctx, nil, 1); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Minute)
	stale, _ := s.ReapStaleJobs(ctx, 30*time.Second)
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatal(err)
	}
	stale, _ = s.ReapStaleJobs(ctx, 30*time.Second)
	if len(stale) != 0 {
		t.Fatalf("stale after heartbeat = %d, want 0", len(stale))
	}
}

func TestPruneJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	base := time.Now().UTC()
	var newest *job.Job
	for i := range 5 {
		j := newJob("email", job.StateCompleted, 0)
		fin := base.Add(time.Duration(i) * time.Second)
		j.FinishedAt = &fin
		newest = j
		_ = s.EnqueueJob(ctx, j)
	}
	failed := newJob("email", job.StateFailed, 0)
	_ = s.EnqueueJob(ctx, failed)

	n, err := s.PruneJobs(ctx, "email", job.Retention{KeepCompleted: 2})
	if err != nil || n != 3 {
		t.Fatalf("PruneJobs = %d, %v; want 3", n, err)
	}
	if _, err := s.GetJob(ctx, newest.ID); err != nil {
		t.Errorf("newest completed job pruned: %v", err)
	}
	if _, err := s.GetJob(ctx, failed.ID); err != nil {
		t.Errorf("failed job pruned with KeepFailed=0: %v", err)
	}
}

func TestCountAndList(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	for range 3 {
		_ = s.EnqueueJob(ctx, newJob("email", job.StateFailed, 0))
	}
	_ = s.EnqueueJob(ctx, newJob("analysis", job.StateFailed, 0))

	n, _ := s.CountJobs(ctx, job.CountOpts{Queue: "email", State: job.StateFailed})
	if n != 3 {
		t.Errorf("CountJobs = %d, want 3", n)
	}
	page, _ := s.ListJobsByState(ctx, job.StateFailed, job.ListOpts{Queue: "email", Limit: 2})
	if len(page) != 2 {
		t.Errorf("ListJobsByState page = %d, want 2", len(page))
	}
}
