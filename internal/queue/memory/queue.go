// Package memory provides a bounded in-memory work queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan pipeline.WorkItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan pipeline.WorkItem, capacity),
	}
}

// Enqueue pushes an item or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, item pipeline.WorkItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. Once the
// queue is closed and empty it returns queue.ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.WorkItem, error) {
	select {
	case <-ctx.Done():
		return pipeline.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return pipeline.WorkItem{}, queue.ErrClosed
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown. Idempotent.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
