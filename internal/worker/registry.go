package worker

import (
	"context"
	"sync"
)

// Registry tracks cancel functions of running runs and cancellations requested for runs
// that have not started yet. One Registry is shared by all workers of a dispatcher.
type Registry struct {
	mu       sync.Mutex
	running  map[string]context.CancelFunc
	canceled map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		running:  make(map[string]context.CancelFunc),
		canceled: make(map[string]struct{}),
	}
}

// Cancel stops a running run at its next batch boundary, or marks a queued run so it is
// skipped when dequeued. It reports whether the run was running.
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[runID]; ok {
		cancel()
		return true
	}
	r.canceled[runID] = struct{}{}
	return false
}

// Running reports whether runID is currently executing.
func (r *Registry) Running(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[runID]
	return ok
}

// begin registers runID and returns its context. ok is false when the run was canceled
// before it started.
func (r *Registry) begin(parent context.Context, runID string) (ctx context.Context, release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, canceled := r.canceled[runID]; canceled {
		delete(r.canceled, runID)
		return nil, func() {}, false
	}
	ctx, cancel := context.WithCancel(parent)
	r.running[runID] = cancel
	return ctx, func() {
		r.mu.Lock()
		delete(r.running, runID)
		r.mu.Unlock()
		cancel()
	}, true
}
