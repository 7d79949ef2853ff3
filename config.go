package taskcore

import "time"

// Config holds process-wide configuration. Per-queue limits live in
// queue.Policy.
type Config struct {
	// PollInterval is how often an idle pool checks its queue for work.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// HeartbeatInterval is how often running jobs refresh their lease.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StaleJobThreshold is how long an active job may go without a heartbeat
	// before it is considered stalled and requeued.
	StaleJobThreshold time.Duration `yaml:"stale_job_threshold"`

	// BatchSize is the analysis sub-batch size (BATCH_SIZE).
	BatchSize int `yaml:"batch_size"`

	// ExternalCallCeiling is the external AI API's concurrent call ceiling.
	// Analysis concurrency × BatchSize must not exceed it. Zero disables
	// the check.
	ExternalCallCeiling int `yaml:"external_call_ceiling"`

	// SyncEnabled gates index-sync dispatch from the change interceptor
	// (SYNC_ENABLED).
	SyncEnabled bool `yaml:"sync_enabled"`

	// SyncBuffer is the capacity of the interceptor's pending-dispatch
	// channel.
	SyncBuffer int `yaml:"sync_buffer"`

	// SyncWorkers is the number of goroutines draining that channel.
	SyncWorkers int `yaml:"sync_workers"`

	// ReconcileSchedule is the cron expression for differential
	// reconciliation. Empty disables the schedule.
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:        time.Second,
		ShutdownTimeout:     30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		StaleJobThreshold:   30 * time.Second,
		BatchSize:           6,
		ExternalCallCeiling: 0,
		SyncEnabled:         true,
		SyncBuffer:          256,
		SyncWorkers:         2,
		ReconcileSchedule:   "@every 15m",
	}
}
