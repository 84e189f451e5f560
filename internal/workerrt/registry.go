// Package workerrt is the Worker Runtime: the process that leases job_ids
// from the Broker, dispatches them to registered handlers, and reports
// outcomes back to the Store. It leases rather than claims directly from
// the Store, since the Scheduler already owns claiming.
package workerrt

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/datatypes"
)

// Handler is the cooperative-concurrency contract every job type
// implements: run(payload, cancel_signal, deadline) -> result|error. ctx
// carries both the cancel signal and the wall-clock deadline via
// context.WithDeadline/WithCancel — the Worker Runtime arms both before
// calling Run and never calls it again for the same lease.
type Handler interface {
	// Type is the job_type string this handler claims, matched exactly
	// against Job.Type.
	Type() string
	// Run executes the job. Handlers must be safe to re-run after partial
	// execution, since a worker crash before the job's outcome is committed
	// leads to the Heartbeat Monitor reclaiming the job and running it again
	// with the same payload.
	Run(ctx context.Context, payload datatypes.JSON) (datatypes.JSON, error)
}

// Registry is the process-wide, read-after-startup job_type -> Handler
// dispatch table. Concurrency-safe for lookups from many execution
// goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to its job_type. Registration is expected to
// happen once at process startup; a duplicate or empty Type() is a wiring
// error, not a retryable condition, so it fails loudly.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("workerrt: nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("workerrt: handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("workerrt: handler already registered for job_type=%s", t)
	}
	r.handlers[t] = h
	return nil
}

// Get looks up the handler for a job_type. The Worker Runtime treats a miss
// as a failure with reason UNKNOWN_TYPE, which goes through the same retry
// policy as any other failure: the job is retried while attempts remain and
// goes DEAD once they are exhausted.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
