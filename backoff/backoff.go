// Package backoff computes retry delays. Strategies are stateless and safe
// for concurrent use; Policy is the serialisable form stored on each job.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns the wait after failed attempt k (1-indexed): k=1 is the
	// delay between the first and second attempt.
	Delay(attempt int) time.Duration
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(attempt int) time.Duration

// Delay calls f.
func (f StrategyFunc) Delay(attempt int) time.Duration { return f(attempt) }

// Fixed waits the same interval after every attempt.
type Fixed struct {
	Interval time.Duration
}

// Delay returns the interval.
func (f Fixed) Delay(int) time.Duration { return f.Interval }

// Linear waits Base × k, capped at Max.
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base × attempt.
func (l Linear) Delay(attempt int) time.Duration {
	return capAt(l.Base*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential waits Base × 2^(k-1), capped at Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base × 2^(attempt-1).
func (e Exponential) Delay(attempt int) time.Duration {
	return capAt(exp2(e.Base, attempt), e.Max)
}

// Jitter is Exponential with full jitter: a uniform draw from
// [0, min(Base × 2^(k-1), Max)].
type Jitter struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns a random duration bounded by the exponential delay.
func (j Jitter) Delay(attempt int) time.Duration {
	ceiling := capAt(exp2(j.Base, attempt), j.Max)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter does not need crypto rand
}

func exp2(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(base) * math.Pow(2, float64(attempt-1))
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Type names a backoff curve.
type Type string

const (
	TypeExponential Type = "exponential"
	TypeFixed       Type = "fixed"
	TypeLinear      Type = "linear"
	TypeJitter      Type = "jitter"
)

// Policy is the declarative backoff configuration carried by queues and
// persisted with each job.
type Policy struct {
	Type      Type          `json:"type" yaml:"type"`
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay  time.Duration `json:"max_delay,omitempty" yaml:"max_delay"`
}

// Validate reports whether the policy can produce a strategy.
func (p Policy) Validate() error {
	switch p.Type {
	case "", TypeExponential, TypeFixed, TypeLinear, TypeJitter:
	default:
		return fmt.Errorf("backoff: unknown type %q", p.Type)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("backoff: negative delay")
	}
	return nil
}

// Strategy builds the Strategy described by p. An empty Type means
// exponential.
func (p Policy) Strategy() Strategy {
	switch p.Type {
	case TypeFixed:
		return Fixed{Interval: p.BaseDelay}
	case TypeLinear:
		return Linear{Base: p.BaseDelay, Max: p.MaxDelay}
	case TypeJitter:
		return Jitter{Base: p.BaseDelay, Max: p.MaxDelay}
	default:
		return Exponential{Base: p.BaseDelay, Max: p.MaxDelay}
	}
}

// DefaultPolicy is exponential from one second, capped at one minute.
func DefaultPolicy() Policy {
	return Policy{Type: TypeExponential, BaseDelay: time.Second, MaxDelay: time.Minute}
}
