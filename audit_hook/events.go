package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued       = "job.enqueued"
	ActionJobStarted        = "job.started"
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionJobRetrying       = "job.retrying"
	ActionJobDelayed        = "job.delayed"
	ActionJobStalled        = "job.stalled"
	ActionSyncDropped       = "sync.dropped"
	ActionReconcileFinished = "reconcile.finished"
)

// Audit event categories group related actions.
const (
	CategoryJob  = "taskcore.job"
	CategorySync = "taskcore.sync"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob    = "job"
	ResourceRecord = "record"
	ResourceEntity = "entity"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDelayed,
		ActionJobStalled,
		ActionSyncDropped,
		ActionReconcileFinished,
	}
}
