package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hirelane/taskcore"
)

// Registry maps queue names to their handler. Each queue has exactly one
// handler. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds h to queue. Registering a queue twice is an error.
func (r *Registry) Register(queue string, h HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("job: nil handler for queue %q", queue)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[queue]; dup {
		return fmt.Errorf("%w: %s", taskcore.ErrQueueExists, queue)
	}
	r.handlers[queue] = h
	return nil
}

// Get returns the handler for queue.
func (r *Registry) Get(queue string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[queue]
	return h, ok
}

// Queues returns the registered queue names, sorted.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
