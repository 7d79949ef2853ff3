// Package ext carries lifecycle events from the worker pools, the change
// interceptor and the reconciler to optional extensions: metrics,
// terminal-failure bookkeeping, alerting.
//
//	type failureAlert struct{}
//
//	func (failureAlert) Name() string { return "failure-alert" }
//
//	func (failureAlert) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    return pager.Notify(ctx, j.Queue, err)
//	}
//
// Hook errors are logged and swallowed.
package ext
