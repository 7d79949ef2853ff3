package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/hirelane/taskcore/job"
)

type entry[H any] struct {
	name string
	hook H
}

// add appends e to list when it implements H.
func add[H any](list []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry fans lifecycle events out to registered extensions. Hooks are
// type-cached at registration so an emit only visits extensions that
// implement it. Register during wiring; emits are safe for concurrent use
// afterwards.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued        []entry[JobEnqueued]
	jobStarted         []entry[JobStarted]
	jobCompleted       []entry[JobCompleted]
	jobRetrying        []entry[JobRetrying]
	jobDelayed         []entry[JobDelayed]
	jobFailed          []entry[JobFailed]
	jobStalled         []entry[JobStalled]
	syncDispatchFailed []entry[SyncDispatchFailed]
	reconcileCompleted []entry[ReconcileCompleted]
	shutdown           []entry[Shutdown]
}

// NewRegistry creates an extension registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.jobEnqueued = add(r.jobEnqueued, e)
	r.jobStarted = add(r.jobStarted, e)
	r.jobCompleted = add(r.jobCompleted, e)
	r.jobRetrying = add(r.jobRetrying, e)
	r.jobDelayed = add(r.jobDelayed, e)
	r.jobFailed = add(r.jobFailed, e)
	r.jobStalled = add(r.jobStalled, e)
	r.syncDispatchFailed = add(r.syncDispatchFailed, e)
	r.reconcileCompleted = add(r.reconcileCompleted, e)
	r.shutdown = add(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies JobEnqueued hooks.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		r.check("OnJobEnqueued", e.name, e.hook.OnJobEnqueued(ctx, j))
	}
}

// EmitJobStarted notifies JobStarted hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies JobCompleted hooks.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobRetrying notifies JobRetrying hooks.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		r.check("OnJobRetrying", e.name, e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt))
	}
}

// EmitJobDelayed notifies JobDelayed hooks.
func (r *Registry) EmitJobDelayed(ctx context.Context, j *job.Job, until time.Time) {
	for _, e := range r.jobDelayed {
		r.check("OnJobDelayed", e.name, e.hook.OnJobDelayed(ctx, j, until))
	}
}

// EmitJobFailed notifies JobFailed hooks.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

// EmitJobStalled notifies JobStalled hooks.
func (r *Registry) EmitJobStalled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStalled {
		r.check("OnJobStalled", e.name, e.hook.OnJobStalled(ctx, j))
	}
}

// EmitSyncDispatchFailed notifies SyncDispatchFailed hooks.
func (r *Registry) EmitSyncDispatchFailed(ctx context.Context, ev SyncEvent, dispatchErr error) {
	for _, e := range r.syncDispatchFailed {
		r.check("OnSyncDispatchFailed", e.name, e.hook.OnSyncDispatchFailed(ctx, ev, dispatchErr))
	}
}

// EmitReconcileCompleted notifies ReconcileCompleted hooks.
func (r *Registry) EmitReconcileCompleted(ctx context.Context, entity string, synced, errs, total int) {
	for _, e := range r.reconcileCompleted {
		r.check("OnReconcileCompleted", e.name, e.hook.OnReconcileCompleted(ctx, entity, synced, errs, total))
	}
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never propagate into the pipeline.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
