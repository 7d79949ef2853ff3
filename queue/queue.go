package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/backoff"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/ratelimit"
)

// Queue names.
const (
	Analysis       = "analysis"
	Email          = "email"
	OfferEmail     = "offer-email"
	TestGeneration = "test-generation"
	IndexSync      = "index-sync"
)

// Names lists the production queues.
var Names = []string{Analysis, Email, OfferEmail, TestGeneration, IndexSync}

// Policy configures one queue.
type Policy struct {
	Name        string          `json:"name" yaml:"name"`
	Concurrency int             `json:"concurrency" yaml:"concurrency"`
	RateLimit   ratelimit.Limit `json:"rate_limit" yaml:"rate_limit"`
	MaxAttempts int             `json:"max_attempts" yaml:"max_attempts"`
	Backoff     backoff.Policy  `json:"backoff" yaml:"backoff"`
	Timeout     time.Duration   `json:"timeout" yaml:"timeout"`
	Retention   job.Retention   `json:"retention" yaml:"retention"`
}

// Validate reports the first invalid field.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: empty name", taskcore.ErrInvalidPolicy)
	case p.Concurrency < 1:
		return fmt.Errorf("%w: %s: concurrency must be >= 1, got %d", taskcore.ErrInvalidPolicy, p.Name, p.Concurrency)
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: %s: max attempts must be >= 1, got %d", taskcore.ErrInvalidPolicy, p.Name, p.MaxAttempts)
	case p.RateLimit.Max < 0 || p.RateLimit.Window < 0:
		return fmt.Errorf("%w: %s: negative rate limit", taskcore.ErrInvalidPolicy, p.Name)
	case p.RateLimit.Max > 0 && p.RateLimit.Window == 0:
		return fmt.Errorf("%w: %s: rate limit max without window", taskcore.ErrInvalidPolicy, p.Name)
	}
	if err := p.Backoff.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", taskcore.ErrInvalidPolicy, p.Name, err)
	}
	return nil
}

// JobOptions returns the per-job defaults the policy implies.
func (p Policy) JobOptions() job.Options {
	o := job.DefaultOptions()
	o.MaxAttempts = p.MaxAttempts
	o.Backoff = p.Backoff
	if p.Timeout > 0 {
		o.Timeout = p.Timeout
	}
	return o
}

// EnvPrefix is the environment-variable prefix for a queue name:
// "offer-email" → "OFFER_EMAIL".
func EnvPrefix(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// DefaultPolicies returns the baseline policy of every production queue.
func DefaultPolicies() []Policy {
	exp := func(base time.Duration) backoff.Policy {
		return backoff.Policy{Type: backoff.TypeExponential, BaseDelay: base, MaxDelay: 10 * time.Minute}
	}
	keep := job.Retention{KeepCompleted: 1000, KeepFailed: 5000}
	return []Policy{
		{
			Name: Analysis, Concurrency: 2,
			RateLimit:   ratelimit.Limit{Max: 10, Window: time.Minute},
			MaxAttempts: 3, Backoff: exp(10 * time.Second),
			Timeout: 10 * time.Minute, Retention: keep,
		},
		{
			Name: Email, Concurrency: 5,
			RateLimit:   ratelimit.Limit{Max: 100, Window: time.Minute},
			MaxAttempts: 5, Backoff: exp(5 * time.Second),
			Timeout: time.Minute, Retention: keep,
		},
		{
			Name: OfferEmail, Concurrency: 2,
			RateLimit:   ratelimit.Limit{Max: 20, Window: time.Minute},
			MaxAttempts: 5, Backoff: exp(10 * time.Second),
			Timeout: time.Minute, Retention: keep,
		},
		{
			Name: TestGeneration, Concurrency: 2,
			RateLimit:   ratelimit.Limit{Max: 10, Window: time.Minute},
			MaxAttempts: 3, Backoff: exp(30 * time.Second),
			Timeout: 5 * time.Minute, Retention: keep,
		},
		{
			Name: IndexSync, Concurrency: 5,
			RateLimit:   ratelimit.Limit{Max: 300, Window: time.Minute},
			MaxAttempts: 5, Backoff: exp(2 * time.Second),
			Timeout: 30 * time.Second, Retention: job.Retention{KeepCompleted: 100, KeepFailed: 5000},
		},
	}
}
