package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/ratelimit"
)

// LimiterFactory builds the start-rate limiter of one queue.
type LimiterFactory func(limit ratelimit.Limit) ratelimit.Limiter

// MemoryLimiters is the default LimiterFactory.
func MemoryLimiters(limit ratelimit.Limit) ratelimit.Limiter {
	return ratelimit.NewMemory(limit)
}

type queueState struct {
	policy  Policy
	limiter ratelimit.Limiter
	active  int
	peak    int
}

// Manager gates job starts per queue and tracks active counts. It is safe
// for concurrent use.
type Manager struct {
	mu         sync.Mutex
	newLimiter LimiterFactory
	queues     map[string]*queueState
}

// NewManager creates a Manager. A nil factory uses in-process limiters.
func NewManager(factory LimiterFactory, policies ...Policy) (*Manager, error) {
	if factory == nil {
		factory = MemoryLimiters
	}
	m := &Manager{newLimiter: factory, queues: make(map[string]*queueState, len(policies))}
	for _, p := range policies {
		if err := m.Add(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add registers a queue policy.
func (m *Manager) Add(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.queues[p.Name]; dup {
		return fmt.Errorf("%w: %s", taskcore.ErrQueueExists, p.Name)
	}
	m.queues[p.Name] = &queueState{policy: p, limiter: m.newLimiter(p.RateLimit)}
	return nil
}

// Policy returns the policy of queue.
func (m *Manager) Policy(queue string) (Policy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[queue]
	if !ok {
		return Policy{}, false
	}
	return qs.policy, true
}

// Policies returns every registered policy ordered by name.
func (m *Manager) Policies() []Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Policy, 0, len(m.queues))
	for _, qs := range m.queues {
		out = append(out, qs.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Admit consults the queue's start-rate budget. When the budget is spent
// it returns false and the instant the next start may happen.
func (m *Manager) Admit(ctx context.Context, queue string, now time.Time) (bool, time.Time, error) {
	m.mu.Lock()
	qs, ok := m.queues[queue]
	m.mu.Unlock()
	if !ok {
		return false, now, fmt.Errorf("%w: %s", taskcore.ErrUnknownQueue, queue)
	}
	return qs.limiter.Allow(ctx, queue, now)
}

// Refund returns a start admitted at at whose job never began.
func (m *Manager) Refund(ctx context.Context, queue string, at time.Time) error {
	m.mu.Lock()
	qs, ok := m.queues[queue]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", taskcore.ErrUnknownQueue, queue)
	}
	return qs.limiter.Refund(ctx, queue, at)
}

// Begin records a handler start. It refuses when the queue is already at
// its concurrency ceiling.
func (m *Manager) Begin(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[queue]
	if !ok {
		return false
	}
	if qs.active >= qs.policy.Concurrency {
		return false
	}
	qs.active++
	if qs.active > qs.peak {
		qs.peak = qs.active
	}
	return true
}

// End records a handler finish.
func (m *Manager) End(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs, ok := m.queues[queue]; ok && qs.active > 0 {
		qs.active--
	}
}

// ActiveCount returns the number of running handlers on queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs, ok := m.queues[queue]; ok {
		return qs.active
	}
	return 0
}

// PeakActive returns the highest ActiveCount observed on queue.
func (m *Manager) PeakActive(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs, ok := m.queues[queue]; ok {
		return qs.peak
	}
	return 0
}
