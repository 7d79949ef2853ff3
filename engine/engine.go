package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/batch"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
	mw "github.com/hirelane/taskcore/middleware"
	"github.com/hirelane/taskcore/observability"
	"github.com/hirelane/taskcore/queue"
	"github.com/hirelane/taskcore/worker"
)

const instrumentationName = "github.com/hirelane/taskcore"

// Engine owns the worker pools of one process.
type Engine struct {
	rt         *taskcore.Runtime
	extensions *ext.Registry
	registry   *job.Registry
	store      job.Store
	manager    *queue.Manager
	executor   *worker.Executor
	logger     *slog.Logger

	policies []queue.Policy
	limiters queue.LimiterFactory
	mws      []mw.Middleware
	poolOpts []worker.PoolOption
	pools    map[string]*worker.Pool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithPolicies replaces the default queue policies.
func WithPolicies(policies ...queue.Policy) Option {
	return func(eng *Engine) {
		eng.policies = policies
	}
}

// WithLimiterFactory selects the start-rate limiter backend. The default
// keeps windows in process memory; ratelimit.NewRedis shares them across
// processes.
func WithLimiterFactory(f queue.LimiterFactory) Option {
	return func(eng *Engine) {
		eng.limiters = f
	}
}

// WithPoolOptions adds options applied to every pool after those derived
// from the runtime config.
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(eng *Engine) {
		eng.poolOpts = append(eng.poolOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine on rt. The runtime's store must implement
// job.Store.
func Build(rt *taskcore.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	if rt.Store() == nil {
		return nil, taskcore.ErrNoStore
	}
	js, ok := rt.Store().(job.Store)
	if !ok {
		return nil, fmt.Errorf("taskcore: store does not implement job.Store")
	}

	eng := &Engine{
		rt:         rt,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		store:      js,
		logger:     logger,
		policies:   queue.DefaultPolicies(),
		limiters:   queue.MemoryLimiters,
		pools:      make(map[string]*worker.Pool),
	}
	for _, opt := range opts {
		opt(eng)
	}

	manager, err := queue.NewManager(eng.limiters, eng.policies...)
	if err != nil {
		return nil, err
	}
	eng.manager = manager

	cfg := rt.Config()
	if p, ok := manager.Policy(queue.Analysis); ok {
		budget := batch.Budget{Concurrency: p.Concurrency, BatchSize: cfg.BatchSize, Ceiling: cfg.ExternalCallCeiling}
		if err := budget.Validate(); err != nil {
			return nil, err
		}
	}

	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metricsMw := mw.Metrics()
	obsExt := observability.NewMetricsExtension()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → timeout → user middleware.
	chain := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(),
	}
	chain = append(chain, eng.mws...)
	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, js, logger, chain...)

	rt.SetExtensions(eng.extensions)
	return eng, nil
}

// Register binds the handler of a configured queue and attaches its pool
// to the runtime. Register before Start.
func (eng *Engine) Register(queueName string, h job.HandlerFunc) error {
	policy, ok := eng.manager.Policy(queueName)
	if !ok {
		return fmt.Errorf("%w: %s", taskcore.ErrUnknownQueue, queueName)
	}
	if err := eng.registry.Register(queueName, h); err != nil {
		return err
	}

	cfg := eng.rt.Config()
	opts := []worker.PoolOption{
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
	}
	opts = append(opts, eng.poolOpts...)

	pool, err := worker.NewPool(policy, eng.store, eng.executor, eng.manager, eng.extensions, eng.logger, opts...)
	if err != nil {
		return err
	}
	eng.pools[queueName] = pool
	eng.rt.AddPool(pool)

	eng.logger.Info("queue registered",
		slog.String("queue", queueName),
		slog.Int("concurrency", policy.Concurrency),
		slog.Int("max_attempts", policy.MaxAttempts),
	)
	return nil
}

// Enqueue encodes payload with the codec selected by opts (JSON unless
// job.WithEncoding says otherwise) and enqueues it on queueName.
func Enqueue[T any](ctx context.Context, eng *Engine, queueName, name string, payload T, opts ...job.Option) (*job.Job, error) {
	o := job.Apply(job.DefaultOptions(), opts...)
	codec, err := job.CodecFor(o.Encoding)
	if err != nil {
		return nil, err
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, queueName, name, data, opts...)
}

// EnqueueRaw enqueues a pre-encoded payload. The queue's policy supplies
// attempt budget, backoff and timeout unless opts override them.
func (eng *Engine) EnqueueRaw(ctx context.Context, queueName, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	policy, ok := eng.manager.Policy(queueName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", taskcore.ErrUnknownQueue, queueName)
	}
	j := job.New(queueName, name, payload, job.Apply(policy.JobOptions(), opts...))
	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Job returns a job by ID.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
func (eng *Engine) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateFailed {
		return nil, fmt.Errorf("%w: job %s is %s, only failed jobs can be retried", taskcore.ErrInvalidState, j.ID, j.State)
	}
	if err := j.Transition(job.StateWaiting); err != nil {
		return nil, err
	}
	j.AttemptsMade = 0
	j.LastError = ""
	j.Result = nil
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.FinishedAt = nil
	j.HeartbeatAt = nil
	j.RunAt = time.Now().UTC()
	if err := eng.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	eng.logger.Info("job retried by operator",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
	)
	return j, nil
}

// Counts returns the number of jobs per state in queueName.
func (eng *Engine) Counts(ctx context.Context, queueName string) (map[job.State]int64, error) {
	if _, ok := eng.manager.Policy(queueName); !ok {
		return nil, fmt.Errorf("%w: %s", taskcore.ErrUnknownQueue, queueName)
	}
	counts := make(map[job.State]int64, len(job.States))
	for _, s := range job.States {
		n, err := eng.store.CountJobs(ctx, job.CountOpts{Queue: queueName, State: s})
		if err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, nil
}

// Start begins processing on every registered queue.
func (eng *Engine) Start(ctx context.Context) error { return eng.rt.Start(ctx) }

// Stop drains the pools and tears down the runtime.
func (eng *Engine) Stop(ctx context.Context) error { return eng.rt.Stop(ctx) }

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *taskcore.Runtime { return eng.rt }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Manager returns the queue manager.
func (eng *Engine) Manager() *queue.Manager { return eng.manager }

// Store returns the broker store.
func (eng *Engine) Store() job.Store { return eng.store }

// Pool returns the pool draining queueName, if registered.
func (eng *Engine) Pool(queueName string) (*worker.Pool, bool) {
	p, ok := eng.pools[queueName]
	return p, ok
}
