// Package intercept turns committed primary-store writes into index-sync
// dispatches without making the writer wait for them.
//
// An Interceptor decorates a record.Store. Each mutating call runs the
// underlying operation first and returns its outcome unchanged; only a
// successful write produces a dispatch. Writes inside RunInTx are staged
// on the transaction and released after it commits, so an aborted
// transaction dispatches nothing.
//
// Dispatches go to a Supervisor: a fixed-size channel drained by a fixed
// number of goroutines that hand each Operation to a Sink (normally the
// index-sync queue). A full channel drops the dispatch, logs it, counts it
// and emits ext.SyncDispatchFailed; the periodic reconciler repairs
// whatever was dropped.
package intercept
