// Package dispatcher manages worker fan-out over the location queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/queue"
	"github.com/socialtoolkit/lawharvest/internal/worker"
)

// Dispatcher fans locations out to a pool of workers and collects their
// run counters.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has drained the
// queue or the context ends. The returned counters sum all workers.
func (d *Dispatcher) Run(ctx context.Context) pipeline.RunCounters {
	var (
		mu     sync.Mutex
		totals pipeline.RunCounters
		wg     sync.WaitGroup
	)
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			counters := wk.Run(ctx)
			mu.Lock()
			totals.Add(counters)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return totals
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item pipeline.WorkItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Close signals the workers that no further locations are coming.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
