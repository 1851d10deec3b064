package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/tablescan/errors"
)

// JobHandler executes one kind of job. Handlers decode their own payload
// from job.Payload and should return promptly once ctx is cancelled.
type JobHandler interface {
	Execute(ctx context.Context, job *Job) error

	// Name is the HandlerName routed to this handler, e.g. "inputjob.plan-splits"
	Name() string
}

// JobExecutor runs a job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// HandlerRegistry maps handler names to handlers. Safe for concurrent use.
type HandlerRegistry struct {
	handlers map[string]JobHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]JobHandler),
	}
}

// Register adds a handler using its name.
// Panics if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get returns the handler for name, or nil
func (r *HandlerRegistry) Get(name string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements JobExecutor by routing on job.HandlerName
func (r *HandlerRegistry) Execute(ctx context.Context, job *Job) error {
	if job.HandlerName == "" {
		return errors.New("job missing handler_name")
	}

	handler := r.Get(job.HandlerName)
	if handler == nil {
		return errors.WithHintf(errors.Newf("no handler registered for handler name: %s", job.HandlerName),
			"registered handlers: %v", r.Names())
	}
	return handler.Execute(ctx, job)
}
