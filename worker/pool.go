package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/queue"
)

// Pool drains exactly one queue.
//
// A single fetcher goroutine takes a slot from a channel sized to the
// queue's concurrency before it claims a job, so at most Concurrency
// jobs are ever claimed and running. A claimed job must pass the queue's
// start-rate gate; a job refused by the gate is parked in delayed state
// until the next free start, without consuming an attempt. Admitted jobs
// are handed over an unbuffered channel to Concurrency worker goroutines.
//
// Housekeeping goroutines refresh heartbeats of in-flight jobs, requeue
// stalled jobs, promote due delayed jobs and prune finished jobs.
type Pool struct {
	policy     queue.Policy
	store      job.Store
	executor   *Executor
	manager    *queue.Manager
	extensions *ext.Registry
	logger     *slog.Logger
	workerID   id.WorkerID

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration
	retentionInterval time.Duration

	slots chan struct{}
	work  chan claimed

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	workers  sync.WaitGroup
	activeMu sync.Mutex
	active   map[string]id.JobID
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPollInterval sets how long the fetcher sleeps when the queue is
// empty, and how often delayed jobs are promoted.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often leases of in-flight jobs are
// refreshed. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the lease length after which an active job
// is considered stalled. Zero disables the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithRetentionInterval sets how often finished jobs are pruned. Zero
// disables pruning.
func WithRetentionInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.retentionInterval = d }
}

// WithWorkerID overrides the generated worker identifier.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// NewPool creates a pool for policy's queue. The manager must know the
// queue.
func NewPool(
	policy queue.Policy,
	store job.Store,
	executor *Executor,
	manager *queue.Manager,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) (*Pool, error) {
	if _, ok := manager.Policy(policy.Name); !ok {
		return nil, fmt.Errorf("%w: %s", taskcore.ErrUnknownQueue, policy.Name)
	}
	p := &Pool{
		policy:            policy,
		store:             store,
		executor:          executor,
		manager:           manager,
		extensions:        extensions,
		logger:            logger.With(slog.String("queue", policy.Name)),
		workerID:          id.NewWorkerID(),
		pollInterval:      time.Second,
		retentionInterval: time.Minute,
		slots:             make(chan struct{}, policy.Concurrency),
		work:              make(chan claimed),
		active:            make(map[string]id.JobID),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Queue returns the queue this pool drains.
func (p *Pool) Queue() string { return p.policy.Name }

// WorkerID returns the pool's worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the fetcher, workers and housekeeping loops.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.work = make(chan claimed)

	// Handlers run on a context detached from Start's caller; Stop cancels
	// it once the drain deadline passes.
	base, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.policy.Concurrency),
		slog.Int("rate_max", p.policy.RateLimit.Max),
		slog.Duration("rate_window", p.policy.RateLimit.Window),
	)

	for range p.policy.Concurrency {
		p.workers.Add(1)
		go p.workLoop(base)
	}
	p.loops.Add(2)
	go p.fetchLoop(base)
	go p.every(p.pollInterval, p.promote)
	if p.heartbeatInterval > 0 {
		p.loops.Add(1)
		go p.every(p.heartbeatInterval, p.heartbeat)
	}
	if p.staleJobThreshold > 0 {
		p.loops.Add(1)
		go p.every(p.staleJobThreshold/2, p.reap)
	}
	if p.retentionInterval > 0 && (p.policy.Retention.KeepCompleted > 0 || p.policy.Retention.KeepFailed > 0) {
		p.loops.Add(1)
		go p.every(p.retentionInterval, p.prune)
	}
	return nil
}

// Stop stops claiming jobs and waits for in-flight handlers. When ctx
// expires first, in-flight handlers are cancelled; their attempts end
// with a retry outcome.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.loops.Wait()
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool drain timed out, cancelling in-flight jobs",
			slog.Int("in_flight", p.inFlight()),
		)
		p.cancel()
		<-done
	}
	p.cancel()
	return nil
}

// ──────────────────────────────────────────────────
// Fetch and run
// ──────────────────────────────────────────────────

func (p *Pool) fetchLoop(ctx context.Context) {
	defer p.loops.Done()
	defer close(p.work)

	for {
		// Take a slot before claiming: a claimed job always has a worker.
		select {
		case <-p.stopCh:
			return
		case p.slots <- struct{}{}:
		}

		c, wait := p.claim(ctx)
		if c.job == nil {
			<-p.slots
			p.sleep(wait)
			continue
		}

		select {
		case p.work <- c:
		case <-p.stopCh:
			p.unclaim(ctx, c)
			<-p.slots
			return
		}
	}
}

// claimed is a dequeued job holding a start admitted at admitted.
type claimed struct {
	job      *job.Job
	admitted time.Time
}

// claim dequeues one job and passes it through the rate gate. It returns
// an empty claim and how long to back off when there is nothing to run.
func (p *Pool) claim(ctx context.Context) (claimed, time.Duration) {
	jobs, err := p.store.DequeueJobs(ctx, []string{p.policy.Name}, 1)
	if err != nil {
		p.logger.Error("dequeue error", slog.String("error", err.Error()))
		return claimed{}, p.pollInterval
	}
	if len(jobs) == 0 {
		return claimed{}, p.pollInterval
	}
	j := jobs[0]

	now := time.Now()
	ok, next, err := p.manager.Admit(ctx, p.policy.Name, now)
	if err != nil {
		p.logger.Error("rate gate error", slog.String("job_id", j.ID.String()), slog.String("error", err.Error()))
		p.release(ctx, j)
		return claimed{}, p.pollInterval
	}
	if !ok {
		p.hold(ctx, j, next)
		return claimed{}, next.Sub(now)
	}
	return claimed{job: j, admitted: now}, 0
}

// unclaim releases a claimed job that never started and gives its start
// back to the rate budget.
func (p *Pool) unclaim(ctx context.Context, c claimed) {
	p.release(ctx, c.job)
	p.refund(ctx, c)
}

func (p *Pool) refund(ctx context.Context, c claimed) {
	if err := p.manager.Refund(context.WithoutCancel(ctx), p.policy.Name, c.admitted); err != nil {
		p.logger.Warn("failed to refund rate budget",
			slog.String("job_id", c.job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// hold parks a claimed job until the rate budget frees a start.
func (p *Pool) hold(ctx context.Context, j *job.Job, until time.Time) {
	if err := j.Transition(job.StateDelayed); err != nil {
		p.logger.Error("rate hold", slog.String("job_id", j.ID.String()), slog.String("error", err.Error()))
		return
	}
	j.RunAt = until.UTC()
	j.HeartbeatAt = nil
	if err := p.store.UpdateJob(ctx, j); err != nil {
		p.logger.Error("failed to park rate-limited job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	p.extensions.EmitJobDelayed(ctx, j, j.RunAt)
	p.logger.Debug("job held by rate limit",
		slog.String("job_id", j.ID.String()),
		slog.Time("until", j.RunAt),
	)
}

// release returns a claimed job that never started to waiting.
func (p *Pool) release(ctx context.Context, j *job.Job) {
	if err := j.Transition(job.StateWaiting); err != nil {
		return
	}
	j.HeartbeatAt = nil
	if err := p.store.UpdateJob(context.WithoutCancel(ctx), j); err != nil {
		p.logger.Error("failed to release job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) workLoop(ctx context.Context) {
	defer p.workers.Done()
	for c := range p.work {
		p.run(ctx, c)
		<-p.slots
	}
}

// run counts the attempt, persists it, and executes the handler.
func (p *Pool) run(ctx context.Context, c claimed) {
	j := c.job
	if !p.manager.Begin(p.policy.Name) {
		p.logger.Error("concurrency ceiling reached with a free slot", slog.String("job_id", j.ID.String()))
		p.unclaim(ctx, c)
		return
	}
	defer p.manager.End(p.policy.Name)

	if !j.AttemptsLeft() {
		p.exhausted(ctx, j, taskcore.ErrMaxAttemptsReached)
		p.refund(ctx, c)
		return
	}

	now := time.Now().UTC()
	j.AttemptsMade++
	j.StartedAt = &now
	j.HeartbeatAt = &now
	j.WorkerID = p.workerID
	if err := p.store.UpdateJob(ctx, j); err != nil {
		p.logger.Error("failed to record attempt start",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		j.AttemptsMade--
		p.unclaim(ctx, c)
		return
	}

	p.extensions.EmitJobStarted(ctx, j)
	p.track(j.ID)
	err := p.executor.Execute(ctx, j)
	p.untrack(j.ID)

	if err != nil {
		p.logger.Debug("job attempt returned error",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// exhausted fails a job that cannot start another attempt.
func (p *Pool) exhausted(ctx context.Context, j *job.Job, cause error) {
	now := time.Now().UTC()
	if err := j.Transition(job.StateFailed); err != nil {
		p.logger.Error("fail exhausted job", slog.String("job_id", j.ID.String()), slog.String("error", err.Error()))
		return
	}
	j.FinishedAt = &now
	j.HeartbeatAt = nil
	j.LastError = cause.Error()
	if err := p.store.UpdateJob(context.WithoutCancel(ctx), j); err != nil {
		p.logger.Error("failed to persist exhausted job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	p.extensions.EmitJobFailed(ctx, j, cause)
}

// ──────────────────────────────────────────────────
// Housekeeping
// ──────────────────────────────────────────────────

func (p *Pool) every(interval time.Duration, fn func(context.Context)) {
	defer p.loops.Done()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn(context.Background())
		}
	}
}

func (p *Pool) promote(ctx context.Context) {
	n, err := p.store.PromoteDelayed(ctx, []string{p.policy.Name}, time.Now().UTC())
	if err != nil {
		p.logger.Error("promote delayed jobs", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Debug("promoted delayed jobs", slog.Int("count", n))
	}
}

func (p *Pool) heartbeat(ctx context.Context) {
	p.activeMu.Lock()
	ids := make([]id.JobID, 0, len(p.active))
	for _, jid := range p.active {
		ids = append(ids, jid)
	}
	p.activeMu.Unlock()

	for _, jid := range ids {
		if err := p.store.HeartbeatJob(ctx, jid, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jid.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reap recovers this queue's active jobs whose lease expired: back to
// waiting while attempts remain, failed otherwise.
func (p *Pool) reap(ctx context.Context) {
	stale, err := p.store.ReapStaleJobs(ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs", slog.String("error", err.Error()))
		return
	}
	for _, j := range stale {
		if j.Queue != p.policy.Name || p.isTracked(j.ID) {
			continue
		}
		p.extensions.EmitJobStalled(ctx, j)

		if !j.AttemptsLeft() {
			p.logger.Warn("stalled job has no attempts left",
				slog.String("job_id", j.ID.String()),
				slog.Int("attempts_made", j.AttemptsMade),
			)
			p.exhausted(ctx, j, fmt.Errorf("%w after %d attempts", taskcore.ErrJobStalled, j.AttemptsMade))
			continue
		}

		if err := j.Transition(job.StateWaiting); err != nil {
			continue
		}
		j.RunAt = time.Now().UTC()
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		j.StartedAt = nil
		j.LastError = taskcore.ErrJobStalled.Error()
		if err := p.store.UpdateJob(ctx, j); err != nil {
			p.logger.Error("failed to requeue stalled job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("requeued stalled job",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempts_made", j.AttemptsMade),
		)
	}
}

func (p *Pool) prune(ctx context.Context) {
	n, err := p.store.PruneJobs(ctx, p.policy.Name, p.policy.Retention)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("prune finished jobs", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Debug("pruned finished jobs", slog.Int("count", n))
	}
}

// ──────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────

func (p *Pool) sleep(d time.Duration) {
	if d <= 0 {
		d = p.pollInterval
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

func (p *Pool) track(jid id.JobID) {
	p.activeMu.Lock()
	p.active[jid.String()] = jid
	p.activeMu.Unlock()
}

func (p *Pool) untrack(jid id.JobID) {
	p.activeMu.Lock()
	delete(p.active, jid.String())
	p.activeMu.Unlock()
}

func (p *Pool) isTracked(jid id.JobID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.active[jid.String()]
	return ok
}

func (p *Pool) inFlight() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}
