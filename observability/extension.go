package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/job"
)

const instrumentationName = "github.com/hirelane/taskcore/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.JobEnqueued        = (*MetricsExtension)(nil)
	_ ext.JobCompleted       = (*MetricsExtension)(nil)
	_ ext.JobFailed          = (*MetricsExtension)(nil)
	_ ext.JobRetrying        = (*MetricsExtension)(nil)
	_ ext.JobDelayed         = (*MetricsExtension)(nil)
	_ ext.JobStalled         = (*MetricsExtension)(nil)
	_ ext.SyncDispatchFailed = (*MetricsExtension)(nil)
	_ ext.ReconcileCompleted = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Job counters
// carry a queue attribute; sync counters carry an entity attribute.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobHeld      metric.Int64Counter
	JobStalled   metric.Int64Counter
	SyncFailed   metric.Int64Counter
	Reconciled   metric.Int64Counter
	ReconcileErr metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:  counter("taskcore.job.enqueued", "Jobs enqueued"),
		JobCompleted: counter("taskcore.job.completed", "Jobs completed"),
		JobFailed:    counter("taskcore.job.failed", "Jobs failed terminally"),
		JobRetried:   counter("taskcore.job.retried", "Attempts scheduled for retry"),
		JobHeld:      counter("taskcore.job.rate_limited", "Claims held back by the queue start rate"),
		JobStalled:   counter("taskcore.job.stalled", "Active jobs recovered after a lost lease"),
		SyncFailed:   counter("taskcore.sync.dispatch_failed", "Index sync dispatches that failed"),
		Reconciled:   counter("taskcore.sync.reconciled", "Records written to the index by reconciliation"),
		ReconcileErr: counter("taskcore.sync.reconcile_errors", "Records reconciliation failed to write"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func queueAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("queue", j.Queue))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobDelayed implements ext.JobDelayed.
func (m *MetricsExtension) OnJobDelayed(ctx context.Context, j *job.Job, _ time.Time) error {
	m.JobHeld.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.JobStalled.Add(ctx, 1, queueAttr(j))
	return nil
}

// ── Sync hooks ──────────────────────────────────────

// OnSyncDispatchFailed implements ext.SyncDispatchFailed.
func (m *MetricsExtension) OnSyncDispatchFailed(ctx context.Context, ev ext.SyncEvent, _ error) error {
	m.SyncFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", ev.Entity),
		attribute.String("op", ev.Op),
	))
	return nil
}

// OnReconcileCompleted implements ext.ReconcileCompleted.
func (m *MetricsExtension) OnReconcileCompleted(ctx context.Context, entity string, synced, errs, _ int) error {
	attrs := metric.WithAttributes(attribute.String("entity", entity))
	m.Reconciled.Add(ctx, int64(synced), attrs)
	m.ReconcileErr.Add(ctx, int64(errs), attrs)
	return nil
}
