// Package audithook bridges taskcore lifecycle events to an audit trail.
//
// Every job, sync and reconcile hook emits a structured [AuditEvent]
// through the [Recorder] interface. Severity is info for normal
// operations, warning for retries and delays, and critical for terminal
// failures and dropped index changes.
//
// # Recording to the service log
//
//	eng, _ := engine.Build(rt,
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionSyncDropped,
//	    ),
//	)
package audithook
