// Package ratelimit gates job starts with a sliding-window log: at most
// Max starts are admitted in any interval of length Window. Unlike a
// token bucket, the bound holds over every rolling window, not only on
// average.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limit is a start budget.
type Limit struct {
	Max    int           `json:"max" yaml:"max"`
	Window time.Duration `json:"window" yaml:"window"`
}

// Enabled reports whether the limit constrains anything.
func (l Limit) Enabled() bool { return l.Max > 0 && l.Window > 0 }

// Limiter admits or refuses a start for key at time now. When it refuses,
// next is the earliest instant a start can be admitted. Refund gives back
// a start admitted at at that never happened.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (ok bool, next time.Time, err error)
	Refund(ctx context.Context, key string, at time.Time) error
}

// Memory is an in-process sliding-window log.
type Memory struct {
	limit Limit

	mu     sync.Mutex
	starts map[string][]time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory creates an in-process limiter.
func NewMemory(limit Limit) *Memory {
	return &Memory{limit: limit, starts: make(map[string][]time.Time)}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, key string, now time.Time) (bool, time.Time, error) {
	if !m.limit.Enabled() {
		return true, now, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.starts[key]
	cutoff := now.Add(-m.limit.Window)
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = log[i:]

	if len(log) >= m.limit.Max {
		m.starts[key] = log
		// The oldest start in the window leaves it at log[0]+Window.
		return false, log[0].Add(m.limit.Window), nil
	}
	m.starts[key] = append(log, now)
	return true, now, nil
}

// Refund implements Limiter. It removes the newest start recorded at at.
func (m *Memory) Refund(_ context.Context, key string, at time.Time) error {
	if !m.limit.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.starts[key]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Equal(at) {
			m.starts[key] = append(log[:i:i], log[i+1:]...)
			return nil
		}
	}
	return nil
}

// Count returns how many starts for key fall inside the window ending now.
func (m *Memory) Count(key string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.limit.Window)
	n := 0
	for _, t := range m.starts[key] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
