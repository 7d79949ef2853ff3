package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/backoff"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/middleware"
	"github.com/hirelane/taskcore/queue"
	"github.com/hirelane/taskcore/ratelimit"
	"github.com/hirelane/taskcore/store/memory"
	"github.com/hirelane/taskcore/worker"
)

const testQueue = "email"

type harness struct {
	pool    *worker.Pool
	store   *memory.Store
	reg     *job.Registry
	exts    *ext.Registry
	manager *queue.Manager
	policy  queue.Policy
}

func testPolicy() queue.Policy {
	return queue.Policy{
		Name:        testQueue,
		Concurrency: 2,
		MaxAttempts: 3,
		Backoff:     backoff.Policy{Type: backoff.TypeFixed, BaseDelay: 5 * time.Millisecond},
	}
}

func setup(t *testing.T, policy queue.Policy, h job.HandlerFunc, opts ...worker.PoolOption) *harness {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	if err := reg.Register(policy.Name, h); err != nil {
		t.Fatal(err)
	}
	exts := ext.NewRegistry(logger)
	mgr, err := queue.NewManager(nil, policy)
	if err != nil {
		t.Fatal(err)
	}
	exec := worker.NewExecutor(reg, exts, s, logger, middleware.Recover(logger))

	opts = append([]worker.PoolOption{worker.WithPollInterval(5 * time.Millisecond)}, opts...)
	pool, err := worker.NewPool(policy, s, exec, mgr, exts, logger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{pool: pool, store: s, reg: reg, exts: exts, manager: mgr, policy: policy}
}

func (h *harness) enqueue(t *testing.T, payload string) *job.Job {
	t.Helper()
	j := job.New(h.policy.Name, "test", []byte(payload), h.policy.JobOptions())
	if err := h.store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.pool.Stop(ctx)
	})
}

func (h *harness) waitState(t *testing.T, j *job.Job, want job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := h.store.GetJob(context.Background(), j.ID)
		if err == nil && got.State == want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := h.store.GetJob(context.Background(), j.ID)
	t.Fatalf("job %s: state %s, want %s", j.ID, got.State, want)
	return nil
}

// attemptBound fails the test if any lifecycle event observes
// AttemptsMade above MaxAttempts.
type attemptBound struct {
	t *testing.T
}

func (attemptBound) Name() string { return "attempt-bound" }

func (a attemptBound) check(j *job.Job) error {
	if j.AttemptsMade > j.MaxAttempts {
		a.t.Errorf("job %s: attempts %d > max %d", j.ID, j.AttemptsMade, j.MaxAttempts)
	}
	return nil
}

func (a attemptBound) OnJobStarted(_ context.Context, j *job.Job) error { return a.check(j) }
func (a attemptBound) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	return a.check(j)
}
func (a attemptBound) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	return a.check(j)
}
func (a attemptBound) OnJobFailed(_ context.Context, j *job.Job, _ error) error { return a.check(j) }

// ──────────────────────────────────────────────────

func TestPool_StartStop(t *testing.T) {
	h := setup(t, testPolicy(), func(context.Context, *job.Job) job.Outcome { return job.Success(nil) })

	for range 2 {
		if err := h.pool.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range 2 {
		if err := h.pool.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}
}

func TestPool_CompletesAndStoresResult(t *testing.T) {
	h := setup(t, testPolicy(), job.Handle(nil, func(_ context.Context, p struct{ Name string }) (string, error) {
		return "hello " + p.Name, nil
	}))
	j := h.enqueue(t, `{"Name":"Ada"}`)
	h.start(t)

	got := h.waitState(t, j, job.StateCompleted)
	if string(got.Result) != `"hello Ada"` {
		t.Errorf("result = %s", got.Result)
	}
	if got.AttemptsMade != 1 || got.FinishedAt == nil {
		t.Errorf("attempts=%d finished=%v", got.AttemptsMade, got.FinishedAt)
	}
}

// Transient failures on attempts 1 and 2, success on 3.
func TestPool_RetriesTransientThenCompletes(t *testing.T) {
	var calls atomic.Int32
	h := setup(t, testPolicy(), func(context.Context, *job.Job) job.Outcome {
		if calls.Add(1) < 3 {
			return job.FromError(taskcore.FromStatus(503, nil))
		}
		return job.Success(nil)
	})
	h.exts.Register(attemptBound{t})
	j := h.enqueue(t, `{}`)
	h.start(t)

	got := h.waitState(t, j, job.StateCompleted)
	if got.AttemptsMade != 3 {
		t.Errorf("AttemptsMade = %d, want 3", got.AttemptsMade)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

// A fatal error on attempt 1 is never retried.
func TestPool_FatalFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	h := setup(t, testPolicy(), func(context.Context, *job.Job) job.Outcome {
		calls.Add(1)
		return job.FromError(taskcore.Fatalf("missing candidate reference"))
	})
	j := h.enqueue(t, `{}`)
	h.start(t)

	got := h.waitState(t, j, job.StateFailed)
	time.Sleep(30 * time.Millisecond)
	if got.AttemptsMade != 1 || calls.Load() != 1 {
		t.Errorf("AttemptsMade=%d calls=%d, want 1/1", got.AttemptsMade, calls.Load())
	}
	if got.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestPool_ExhaustsAttempts(t *testing.T) {
	h := setup(t, testPolicy(), func(context.Context, *job.Job) job.Outcome {
		return job.Retry(errors.New("still down"))
	})
	h.exts.Register(attemptBound{t})
	j := h.enqueue(t, `{}`)
	h.start(t)

	got := h.waitState(t, j, job.StateFailed)
	if got.AttemptsMade != 3 {
		t.Errorf("AttemptsMade = %d, want 3", got.AttemptsMade)
	}
}

func TestPool_PanicIsFatal(t *testing.T) {
	h := setup(t, testPolicy(), func(context.Context, *job.Job) job.Outcome {
		panic("boom")
	})
	j := h.enqueue(t, `{}`)
	h.start(t)

	got := h.waitState(t, j, job.StateFailed)
	if got.AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1", got.AttemptsMade)
	}
}

func TestPool_ConcurrencyCeiling(t *testing.T) {
	policy := testPolicy()
	policy.Concurrency = 3

	var active, peak atomic.Int32
	h := setup(t, policy, func(context.Context, *job.Job) job.Outcome {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return job.Success(nil)
	})
	var jobs []*job.Job
	for range 12 {
		jobs = append(jobs, h.enqueue(t, `{}`))
	}
	h.start(t)

	for _, j := range jobs {
		h.waitState(t, j, job.StateCompleted)
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrent handlers = %d, ceiling 3", peak.Load())
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrent handlers = %d, pool never ran in parallel", peak.Load())
	}
	if got := h.manager.PeakActive(testQueue); got > 3 {
		t.Errorf("manager peak = %d, ceiling 3", got)
	}
}

func TestPool_RateLimitHoldsWithoutConsumingAttempts(t *testing.T) {
	policy := testPolicy()
	policy.Concurrency = 4
	policy.MaxAttempts = 1
	policy.RateLimit = ratelimit.Limit{Max: 2, Window: 300 * time.Millisecond}

	var mu sync.Mutex
	var starts []time.Time
	var delayed atomic.Int32

	h := setup(t, policy, func(context.Context, *job.Job) job.Outcome {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return job.Success(nil)
	})
	h.exts.Register(delayCounter{&delayed})

	var jobs []*job.Job
	for range 6 {
		jobs = append(jobs, h.enqueue(t, `{}`))
	}
	h.start(t)

	// MaxAttempts is 1: a hold that consumed an attempt would fail the job.
	for _, j := range jobs {
		got := h.waitState(t, j, job.StateCompleted)
		if got.AttemptsMade != 1 {
			t.Errorf("job %s: AttemptsMade = %d", j.ID, got.AttemptsMade)
		}
	}
	if delayed.Load() == 0 {
		t.Error("no job was held by the rate limit")
	}

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(starts, func(a, b int) bool { return starts[a].Before(starts[b]) })
	// Handler start lags admission slightly; allow 20ms of skew.
	window := policy.RateLimit.Window - 20*time.Millisecond
	for i := range starts {
		n := 0
		for k := i; k < len(starts) && starts[k].Sub(starts[i]) < window; k++ {
			n++
		}
		if n > policy.RateLimit.Max {
			t.Fatalf("%d starts within %v of %v, limit %d", n, window, starts[i], policy.RateLimit.Max)
		}
	}
}

type delayCounter struct{ n *atomic.Int32 }

func (delayCounter) Name() string { return "delay-counter" }

func (d delayCounter) OnJobDelayed(context.Context, *job.Job, time.Time) error {
	d.n.Add(1)
	return nil
}

func TestPool_ReapsStalledJob(t *testing.T) {
	h := setup(t, testPolicy(), func(context.Context, *job.Job) job.Outcome { return job.Success(nil) },
		worker.WithStaleJobThreshold(40*time.Millisecond),
	)
	ctx := context.Background()

	// Simulate a worker that claimed the job, counted an attempt and died.
	j := h.enqueue(t, `{}`)
	claimed, err := h.store.DequeueJobs(ctx, []string{testQueue}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v", err)
	}
	claimed[0].AttemptsMade = 1
	if err := h.store.UpdateJob(ctx, claimed[0]); err != nil {
		t.Fatal(err)
	}

	h.start(t)
	got := h.waitState(t, j, job.StateCompleted)
	if got.AttemptsMade != 2 {
		t.Errorf("AttemptsMade = %d, want 2 (crashed attempt + recovery)", got.AttemptsMade)
	}
}

func TestPool_StalledWithNoAttemptsLeftFails(t *testing.T) {
	h := setup(t, testPolicy(), func(context.Context, *job.Job) job.Outcome { return job.Success(nil) },
		worker.WithStaleJobThreshold(40*time.Millisecond),
	)
	ctx := context.Background()

	j := h.enqueue(t, `{}`)
	claimed, _ := h.store.DequeueJobs(ctx, []string{testQueue}, 1)
	claimed[0].AttemptsMade = claimed[0].MaxAttempts
	_ = h.store.UpdateJob(ctx, claimed[0])

	h.start(t)
	got := h.waitState(t, j, job.StateFailed)
	if got.AttemptsMade != got.MaxAttempts {
		t.Errorf("AttemptsMade = %d, want %d", got.AttemptsMade, got.MaxAttempts)
	}
}

func TestPool_GracefulShutdownCancelsAfterDeadline(t *testing.T) {
	started := make(chan struct{})
	h := setup(t, testPolicy(), func(ctx context.Context, _ *job.Job) job.Outcome {
		close(started)
		<-ctx.Done()
		return job.FromError(ctx.Err())
	})
	j := h.enqueue(t, `{}`)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got, _ := h.store.GetJob(context.Background(), j.ID)
	if got.State != job.StateDelayed {
		t.Errorf("cancelled job state = %s, want delayed for retry", got.State)
	}
}

// flakyStart fails the first write that records an attempt start.
type flakyStart struct {
	*memory.Store
	failed atomic.Bool
}

func (s *flakyStart) UpdateJob(ctx context.Context, j *job.Job) error {
	if j.State == job.StateActive && j.StartedAt != nil && s.failed.CompareAndSwap(false, true) {
		return errors.New("store unavailable")
	}
	return s.Store.UpdateJob(ctx, j)
}

func TestPool_FailedStartReturnsRateBudget(t *testing.T) {
	policy := testPolicy()
	policy.RateLimit = ratelimit.Limit{Max: 1, Window: time.Hour}

	logger := slog.Default()
	s := &flakyStart{Store: memory.New()}
	reg := job.NewRegistry()
	if err := reg.Register(policy.Name, func(context.Context, *job.Job) job.Outcome { return job.Success(nil) }); err != nil {
		t.Fatal(err)
	}
	exts := ext.NewRegistry(logger)
	mgr, err := queue.NewManager(nil, policy)
	if err != nil {
		t.Fatal(err)
	}
	exec := worker.NewExecutor(reg, exts, s, logger, middleware.Recover(logger))
	pool, err := worker.NewPool(policy, s, exec, mgr, exts, logger, worker.WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{pool: pool, store: s.Store, reg: reg, exts: exts, manager: mgr, policy: policy}

	j := h.enqueue(t, `{}`)
	h.start(t)

	// The only start in the hour was spent on the failed write; without a
	// refund the retry would be held for the whole window.
	got := h.waitState(t, j, job.StateCompleted)
	if !s.failed.Load() {
		t.Fatal("attempt start never failed")
	}
	if got.AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1", got.AttemptsMade)
	}
}
