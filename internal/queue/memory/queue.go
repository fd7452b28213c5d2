// Package memory provides an in-process harvest job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/review-harvester/internal/job"
)

var (
	// ErrFull is returned when the queue has no free slot.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned after Close.
	ErrClosed = job.ErrQueueClosed
)

// Queue is a bounded in-memory queue. Enqueue never blocks so that API
// handlers can reject work instead of stalling.
type Queue struct {
	ch     chan job.QueueItem
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan job.QueueItem, capacity)}
}

// Enqueue adds item or fails with ErrFull, ErrClosed or the context error.
func (q *Queue) Enqueue(ctx context.Context, item job.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (job.QueueItem, error) {
	select {
	case <-ctx.Done():
		return job.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return job.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Queued items can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
