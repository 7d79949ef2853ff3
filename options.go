package taskcore

import (
	"context"
	"log/slog"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal broker interface held by the Runtime. It covers
// lifecycle operations only; the engine type-asserts the full job.Store.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Runtime is the process-scoped context: it owns the broker connection,
// logger and configuration, and gives every component an explicit
// Start/Stop lifecycle in place of package-level clients.
//
// Create one with New and functional options, then hand it to
// engine.Build, which attaches the worker pools.
type Runtime struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pools      []poolRunner
	closers    []func() error

	started bool
}

// New creates a new Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Store returns the runtime's broker store.
func (r *Runtime) Store() Storer { return r.store }

// Config returns a copy of the runtime's configuration.
func (r *Runtime) Config() Config { return r.config }

// AddPool attaches a worker pool (called by the engine package).
func (r *Runtime) AddPool(p poolRunner) { r.pools = append(r.pools, p) }

// SetExtensions sets the extension emitter (called by the engine package).
func (r *Runtime) SetExtensions(e extensionEmitter) { r.extensions = e }

// OnClose registers a teardown function run by Stop after the pools have
// drained, in reverse registration order.
func (r *Runtime) OnClose(fn func() error) { r.closers = append(r.closers, fn) }

// Start begins job processing on every attached pool.
func (r *Runtime) Start(ctx context.Context) error {
	if r.store == nil {
		return ErrNoStore
	}
	for _, p := range r.pools {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}
	r.started = true
	return nil
}

// Stop gracefully shuts down the pools, emits shutdown to extensions,
// runs registered closers, and closes the broker.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.started {
		for _, p := range r.pools {
			if err := p.Stop(ctx); err != nil {
				r.logger.Error("pool stop error", "error", err)
			}
		}
		r.started = false
	}
	if r.extensions != nil {
		r.extensions.EmitShutdown(ctx)
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Error("close error", "error", err)
		}
	}
	r.closers = nil
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// WithConfig replaces the runtime configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) error {
		r.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) error {
		r.logger = l
		return nil
	}
}

// WithStore sets the broker backend. The store must implement Storer at
// minimum; the engine requires it to implement job.Store as well.
func WithStore(s Storer) Option {
	return func(r *Runtime) error {
		r.store = s
		return nil
	}
}

// WithSyncEnabled toggles change-triggered index sync.
func WithSyncEnabled(enabled bool) Option {
	return func(r *Runtime) error {
		r.config.SyncEnabled = enabled
		return nil
	}
}

// WithBatchSize sets the analysis sub-batch size.
func WithBatchSize(n int) Option {
	return func(r *Runtime) error {
		r.config.BatchSize = n
		return nil
	}
}
