package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
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
	job := crawler.QueueItem{JobID: "job-1", Priority: crawler.PriorityNormal}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.JobID != "job-1" {
			t.Fatalf("expected job-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueHighPriorityFirst(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()

	if err := q.Enqueue(ctx, crawler.QueueItem{JobID: "normal-1", Priority: crawler.PriorityNormal}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, crawler.QueueItem{JobID: "high-1", Priority: crawler.PriorityHigh}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got.JobID != "high-1" {
		t.Fatalf("expected high-1 first, got %+v", got)
	}

	got, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got.JobID != "normal-1" {
		t.Fatalf("expected normal-1 second, got %+v", got)
	}
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if err := q.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()
	q.Close() // idempotent

	// Buffered items survive the close.
	got, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got.JobID != "job-1" {
		t.Fatalf("expected job-1, got %+v", got)
	}

	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()

	// A late submission during shutdown must fail cleanly, not panic.
	err := q.Enqueue(context.Background(), crawler.QueueItem{JobID: "late", Priority: crawler.PriorityHigh})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	err = q.Enqueue(context.Background(), crawler.QueueItem{JobID: "late-2"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
