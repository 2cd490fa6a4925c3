package router

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// Queue is a thread-safe bounded FIFO. Senders never block: TrySend fails when
// the queue is full or closed. Receivers may block.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  deque.Deque[T]
	limit  int
	closed bool

	// Stats
	totalReceived int64
	totalSent     int64
	totalDropped  int64
	highWater     int
}

// NewQueue creates a queue holding at most limit items.
func NewQueue[T any](limit int) *Queue[T] {
	if limit < 1 {
		limit = 1
	}
	q := &Queue[T]{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// TrySend appends item if there is room. Returns false if the queue is full
// or closed.
func (q *Queue[T]) TrySend(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.items.Len() >= q.limit {
		q.totalDropped++
		return false
	}

	q.items.PushBack(item)
	q.totalReceived++
	if n := q.items.Len(); n > q.highWater {
		q.highWater = n
	}

	// Signal waiting receivers
	q.cond.Signal()
	return true
}

// Receive removes and returns the oldest item.
// Blocks until an item is available or the queue is closed.
// Returns the item and true, or zero value and false if closed and empty.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}

	q.totalSent++
	return q.items.PopFront(), true
}

// ReceiveContext is Receive that also gives up when ctx is done.
func (q *Queue[T]) ReceiveContext(ctx context.Context) (T, bool) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}

	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}

	q.totalSent++
	return q.items.PopFront(), true
}

// TryReceive attempts to receive without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}

	q.totalSent++
	return q.items.PopFront(), true
}

// DrainTo removes up to max items (all if max <= 0) without blocking.
// Useful for batch processing.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := range result {
		result[i] = q.items.PopFront()
	}
	q.totalSent += int64(n)

	return result
}

// Close closes the queue. After closing, TrySend returns false.
// Receivers will get remaining items then the closed signal.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast() // Wake all waiters
}

// Len returns the current number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:         q.items.Len(),
		Limit:         q.limit,
		HighWater:     q.highWater,
		TotalReceived: q.totalReceived,
		TotalSent:     q.totalSent,
		TotalDropped:  q.totalDropped,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count         int
	Limit         int
	HighWater     int
	TotalReceived int64
	TotalSent     int64
	TotalDropped  int64
}
