// Package observability provides an OpenTelemetry metrics extension. The
// MetricsExtension implements lifecycle hooks to count job enqueues,
// completions, failures, retries, rate-limit holds and stalls per queue,
// failed index-sync dispatches, and reconciliation results per entity.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
