package job

import (
	"time"

	"github.com/hirelane/taskcore/backoff"
)

// Options carries per-job settings. Queue policies seed the defaults;
// producer options override them.
type Options struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
	Backoff     backoff.Policy
	Timeout     time.Duration
	Encoding    string
}

// DefaultOptions returns the settings used when a queue sets none.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Backoff:     backoff.DefaultPolicy(),
		Timeout:     5 * time.Minute,
		Encoding:    CodecJSON,
	}
}

// Option overrides a single setting.
type Option func(*Options)

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDelay holds the job in delayed state for d before it becomes
// claimable.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithMaxAttempts overrides the queue's attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithBackoff overrides the queue's backoff policy.
func WithBackoff(p backoff.Policy) Option {
	return func(o *Options) { o.Backoff = p }
}

// WithEncoding selects the payload codec by name.
func WithEncoding(name string) Option {
	return func(o *Options) { o.Encoding = name }
}

// Apply returns base with opts applied in order.
func Apply(base Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}
