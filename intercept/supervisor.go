package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/ext"
)

// Sink receives operations from the Supervisor's workers.
type Sink interface {
	Dispatch(ctx context.Context, op Operation) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, op Operation) error

// Dispatch calls f.
func (f SinkFunc) Dispatch(ctx context.Context, op Operation) error { return f(ctx, op) }

// Stats is a snapshot of the Supervisor's counters.
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Dispatched int64 `json:"dispatched"`
	Dropped    int64 `json:"dropped"`
	Failed     int64 `json:"failed"`
	Pending    int   `json:"pending"`
}

type pending struct {
	ctx context.Context
	op  Operation
}

// Supervisor owns the bounded set of in-flight sync dispatches.
type Supervisor struct {
	sink         Sink
	ch           chan pending
	workers      int
	blockTimeout time.Duration
	extensions   *ext.Registry
	logger       *slog.Logger

	mu     sync.RWMutex // guards closed against sends on ch
	closed bool

	startMu sync.Mutex
	started bool
	wg      sync.WaitGroup

	submitted  atomic.Int64
	dispatched atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithBuffer sets the channel capacity. Default 256.
func WithBuffer(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.ch = make(chan pending, n)
		}
	}
}

// WithWorkers sets the number of draining goroutines. Default 2.
func WithWorkers(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBlockTimeout makes Submit wait up to d for room before dropping.
// Zero, the default, drops at once.
func WithBlockTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.blockTimeout = d }
}

// WithExtensions reports dropped and failed dispatches to r.
func WithExtensions(r *ext.Registry) SupervisorOption {
	return func(s *Supervisor) { s.extensions = r }
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a Supervisor feeding sink. Submissions made before
// Start wait in the buffer.
func NewSupervisor(sink Sink, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		sink:    sink,
		ch:      make(chan pending, 256),
		workers: 2,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the workers.
func (s *Supervisor) Start(_ context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return taskcore.ErrSupervisorClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	for range s.workers {
		s.wg.Add(1)
		go s.work()
	}
	s.logger.Info("sync supervisor started",
		slog.Int("workers", s.workers),
		slog.Int("buffer", cap(s.ch)),
	)
	return nil
}

// Stop refuses new submissions and waits for the buffered ones to be
// dispatched, or for ctx to end.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.startMu.Lock()
	started := s.started
	s.startMu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("sync supervisor stopped with dispatches pending",
			slog.Int("pending", len(s.ch)),
		)
		return ctx.Err()
	}
}

// Submit hands op to the workers. It never returns an error to the
// writer: a dispatch that does not fit is dropped and reported.
func (s *Supervisor) Submit(ctx context.Context, op Operation) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.submitted.Add(1)

	if s.closed {
		s.drop(ctx, op, taskcore.ErrSupervisorClosed)
		return false
	}
	// The write has committed; the dispatch outlives the request.
	p := pending{ctx: context.WithoutCancel(ctx), op: op}

	select {
	case s.ch <- p:
		return true
	default:
	}
	if s.blockTimeout > 0 {
		timer := time.NewTimer(s.blockTimeout)
		defer timer.Stop()
		select {
		case s.ch <- p:
			return true
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	s.drop(ctx, op, taskcore.ErrSyncBufferFull)
	return false
}

// Stats returns the current counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		Submitted:  s.submitted.Load(),
		Dispatched: s.dispatched.Load(),
		Dropped:    s.dropped.Load(),
		Failed:     s.failed.Load(),
		Pending:    len(s.ch),
	}
}

func (s *Supervisor) work() {
	defer s.wg.Done()
	for p := range s.ch {
		if err := s.sink.Dispatch(p.ctx, p.op); err != nil {
			s.failed.Add(1)
			s.report(p.ctx, p.op, err)
			continue
		}
		s.dispatched.Add(1)
	}
}

func (s *Supervisor) drop(ctx context.Context, op Operation, cause error) {
	s.dropped.Add(1)
	s.report(ctx, op, cause)
}

func (s *Supervisor) report(ctx context.Context, op Operation, err error) {
	syncErr := &taskcore.SyncError{Entity: string(op.Entity), ID: op.ID.String(), Op: string(op.Kind), Err: err}
	s.logger.Warn("sync dispatch failed",
		slog.String("entity", syncErr.Entity),
		slog.String("id", syncErr.ID),
		slog.String("op", syncErr.Op),
		slog.String("error", err.Error()),
	)
	if s.extensions != nil {
		s.extensions.EmitSyncDispatchFailed(ctx, ext.SyncEvent{
			Entity: syncErr.Entity,
			ID:     syncErr.ID,
			Op:     syncErr.Op,
		}, fmt.Errorf("intercept: %w", syncErr))
	}
}
