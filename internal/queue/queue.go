// Package queue defines the work-distribution interface between the run
// coordinator and the worker pool.
package queue

import (
	"context"
	"errors"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue moves work items from the run coordinator to workers.
type Queue interface {
	// Enqueue pushes one item, blocking while the queue is full.
	Enqueue(ctx context.Context, item pipeline.WorkItem) error
	// Dequeue pops the next item, blocking while the queue is empty.
	// It reports pipeline work exhaustion via the returned error once the
	// queue is closed and drained.
	Dequeue(ctx context.Context) (pipeline.WorkItem, error)
	// Close signals that no further items will be enqueued.
	Close()
}
