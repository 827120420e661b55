package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
	"github.com/socialtoolkit/lawharvest/internal/queue"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan pipeline.WorkItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	item := pipeline.WorkItem{
		RunID:     "run-1",
		Location:  pipeline.Location{GeoID: 2412292, PlaceName: "City of Walnut Creek"},
		Datapoint: "sales_tax",
	}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.Location.GeoID != 2412292 || got.Datapoint != "sales_tax" {
			t.Fatalf("expected the enqueued item back, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return the item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), pipeline.WorkItem{RunID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, pipeline.WorkItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected queue.ErrClosed, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
