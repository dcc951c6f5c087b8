// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
	"github.com/JakeFAU/vacancy-ingest/internal/worker"
)

// Dispatcher fans out queued runs to a pool of workers.
type Dispatcher struct {
	queue    vacancy.Queue
	registry *worker.Registry
	workers  []*worker.Worker
}

// New creates a Dispatcher. registry must be the one shared by workers.
func New(queue vacancy.Queue, registry *worker.Registry, workers []*worker.Worker) *Dispatcher {
	if registry == nil {
		registry = worker.NewRegistry()
	}
	return &Dispatcher{
		queue:    queue,
		registry: registry,
		workers:  workers,
	}
}

// Run starts all workers and blocks until the context finishes and every worker returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item vacancy.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel requests cancellation of a queued or running run. It reports whether the run
// was executing.
func (d *Dispatcher) Cancel(runID string) bool {
	return d.registry.Cancel(runID)
}
