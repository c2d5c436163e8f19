// Package memory provides a queue implementation for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// ErrClosed is returned by Enqueue once Close has run and by Dequeue
// after Close drains the queue.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with two priority lanes.
// Dequeue always drains the high lane first.
type Queue struct {
	high    chan crawler.QueueItem
	normal  chan crawler.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided per-lane capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		high:   make(chan crawler.QueueItem, capacity),
		normal: make(chan crawler.QueueItem, capacity),
	}
}

// Enqueue pushes a job into its priority lane or returns when the
// context ends. A late submission during shutdown gets ErrClosed
// instead of a send-on-closed-channel panic.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) (err error) {
	q.closeMu.Lock()
	closed := q.closed
	q.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	// Close can still land between the flag check and the send; the
	// recover turns that narrow race into the same error.
	defer func() {
		if recover() != nil {
			err = ErrClosed
		}
	}()

	lane := q.normal
	if item.Priority == crawler.PriorityHigh {
		lane = q.high
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case lane <- item:
		return nil
	}
}

// Dequeue pops the next job, preferring the high lane, respecting
// context cancellation. After Close, buffered items are still drained
// before ErrClosed is reported.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	// Drain high-priority work before blocking on both lanes. Close
	// closes both lanes together, so a closed lane here means only
	// buffered items remain in the other.
	select {
	case item, ok := <-q.high:
		if ok {
			return item, nil
		}
		return q.drain(q.normal)
	default:
	}

	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.high:
		if ok {
			return item, nil
		}
		return q.drain(q.normal)
	case item, ok := <-q.normal:
		if ok {
			return item, nil
		}
		return q.drain(q.high)
	}
}

func (q *Queue) drain(lane chan crawler.QueueItem) (crawler.QueueItem, error) {
	select {
	case item, ok := <-lane:
		if ok {
			return item, nil
		}
	default:
	}
	return crawler.QueueItem{}, ErrClosed
}

// Close closes both lanes for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.high)
	close(q.normal)
	q.closed = true
}
