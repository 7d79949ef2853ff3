//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/backoff"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("taskcore_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

func newJob(queue string) *job.Job {
	opts := job.DefaultOptions()
	opts.Backoff = backoff.Policy{Type: backoff.TypeExponential, BaseDelay: 10 * time.Second}
	j := job.New(queue, "analyze-candidate", []byte(`{"candidate_id":"cand_1"}`), opts)
	j.RunAt = time.Now().UTC().Add(-time.Second)
	return j
}

// ──────────────────────────────────────────────────

func TestMigrate_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestJob_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJob("analysis")

	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, taskcore.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID.String() != j.ID.String() || got.State != job.StateWaiting {
		t.Errorf("got %s/%s", got.ID, got.State)
	}
	if got.Backoff != j.Backoff {
		t.Errorf("backoff = %+v, want %+v", got.Backoff, j.Backoff)
	}
	if got.MaxAttempts != 3 || got.Encoding != job.CodecJSON {
		t.Errorf("max=%d encoding=%q", got.MaxAttempts, got.Encoding)
	}
}

func TestDequeue_ClaimsOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const total = 40
	for range total {
		if err := s.EnqueueJob(ctx, newJob("email")); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.DequeueJobs(ctx, []string{"email"}, 3)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID.String()]++
					if j.State != job.StateActive || j.HeartbeatAt == nil {
						t.Errorf("claimed job %s: state=%s heartbeat=%v", j.ID, j.State, j.HeartbeatAt)
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), total)
	}
	for jid, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jid, n)
		}
	}
}

func TestPromoteDelayed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	due := newJob("analysis")
	due.State = job.StateDelayed
	later := newJob("analysis")
	later.State = job.StateDelayed
	later.RunAt = time.Now().UTC().Add(time.Hour)
	for _, j := range []*job.Job{due, later} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PromoteDelayed(ctx, []string{"analysis"}, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("promote = %d, %v; want 1", n, err)
	}
	got, _ := s.GetJob(ctx, due.ID)
	if got.State != job.StateWaiting {
		t.Errorf("due job state = %s", got.State)
	}
}

func TestReapStaleJobs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newJob("analysis")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DequeueJobs(ctx, []string{"analysis"}, 1); err != nil {
		t.Fatal(err)
	}

	stale, err := s.ReapStaleJobs(ctx, time.Hour)
	if err != nil || len(stale) != 0 {
		t.Fatalf("fresh lease reaped: %d, %v", len(stale), err)
	}
	time.Sleep(50 * time.Millisecond)
	stale, err = s.ReapStaleJobs(ctx, 10*time.Millisecond)
	if err != nil || len(stale) != 1 {
		t.Fatalf("stale = %d, %v; want 1", len(stale), err)
	}
}

func TestPruneJobs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	var newest *job.Job
	for i := range 5 {
		j := newJob("email")
		j.State = job.StateCompleted
		finished := base.Add(time.Duration(i) * time.Second)
		j.FinishedAt = &finished
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		newest = j
	}

	n, err := s.PruneJobs(ctx, "email", job.Retention{KeepCompleted: 2})
	if err != nil || n != 3 {
		t.Fatalf("prune = %d, %v; want 3", n, err)
	}
	if _, err := s.GetJob(ctx, newest.ID); err != nil {
		t.Errorf("newest job pruned: %v", err)
	}
	count, _ := s.CountJobs(ctx, job.CountOpts{Queue: "email", State: job.StateCompleted})
	if count != 2 {
		t.Errorf("remaining = %d, want 2", count)
	}
}

func TestAttemptsCannotExceedMax(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJob("analysis")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	j.AttemptsMade = j.MaxAttempts + 1
	if err := s.UpdateJob(ctx, j); err == nil {
		t.Fatal("update with attempts > max succeeded")
	}
}
