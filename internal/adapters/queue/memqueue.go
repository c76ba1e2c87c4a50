package queue

import (
	"sync"

	"github.com/ghalamif/AegisFleet/internal/ports"
)

// LockedQueue is a bounded in-memory queue that preserves FIFO ordering.
// One mutex guards the buffer; producers never block on a full queue.
type LockedQueue[T any] struct {
	mu   sync.Mutex
	data []T
	head int
	cap  int
}

func NewLockedQueue[T any](capacity int) *LockedQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &LockedQueue[T]{
		data: make([]T, 0, capacity),
		cap:  capacity,
	}
}

// Push appends item, or drops it and returns false when the queue is full.
func (q *LockedQueue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data)-q.head >= q.cap {
		return false
	}
	if q.head > 0 && len(q.data) == cap(q.data) {
		q.compactLocked()
	}
	q.data = append(q.data, item)
	return true
}

// Pop removes the oldest item without blocking.
func (q *LockedQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.head == len(q.data) {
		return zero, false
	}
	item := q.data[q.head]
	q.data[q.head] = zero
	q.head++
	if q.head == len(q.data) {
		q.data = q.data[:0]
		q.head = 0
	}
	return item, true
}

// DrainAll pops until empty, calling fn for every item outside the lock,
// and returns how many items were drained.
func (q *LockedQueue[T]) DrainAll(fn func(T)) int {
	n := 0
	for {
		item, ok := q.Pop()
		if !ok {
			return n
		}
		fn(item)
		n++
	}
}

// DequeueBatch removes up to max items; max <= 0 takes everything.
func (q *LockedQueue[T]) DequeueBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	avail := len(q.data) - q.head
	if avail == 0 {
		return nil
	}
	if max <= 0 || max > avail {
		max = avail
	}
	out := make([]T, max)
	copy(out, q.data[q.head:q.head+max])
	var zero T
	for i := q.head; i < q.head+max; i++ {
		q.data[i] = zero
	}
	q.head += max
	if q.head == len(q.data) {
		q.data = q.data[:0]
		q.head = 0
	}
	return out
}

func (q *LockedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data) - q.head
}

func (q *LockedQueue[T]) Cap() int { return q.cap }

func (q *LockedQueue[T]) compactLocked() {
	n := copy(q.data, q.data[q.head:])
	var zero T
	for i := n; i < len(q.data); i++ {
		q.data[i] = zero
	}
	q.data = q.data[:n]
	q.head = 0
}

var _ ports.Queue[int] = (*LockedQueue[int])(nil)
