package router

import (
	"sync"
)

// BoundedBuffer is a fixed-capacity ring between the router and a
// consumer. When a send finds the ring full the oldest item is
// evicted (drop-oldest backpressure): under a burst exceeding
// consumer throughput memory stays bounded and the freshest events
// win. Dedup downstream absorbs any re-delivery of dropped trades via
// the fallback path.
type BoundedBuffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	totalReceived int64
	totalSent     int64
	totalDropped  int64
}

// NewBoundedBuffer creates a buffer with the given fixed capacity.
func NewBoundedBuffer[T any](capacity int) *BoundedBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &BoundedBuffer[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send adds an item, evicting the oldest item if the ring is full.
// Returns false if the buffer is closed.
func (b *BoundedBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.count == b.capacity {
		// Drop the oldest unread item.
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.totalDropped++
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.cond.Signal()
	return true
}

// Receive removes and returns an item, blocking until one is
// available or the buffer is closed. The second result is false when
// the buffer is closed and drained.
func (b *BoundedBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 {
		var zero T
		return zero, false
	}

	return b.takeLocked(), true
}

// TryReceive attempts a non-blocking receive.
func (b *BoundedBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

func (b *BoundedBuffer[T]) takeLocked() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // release for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item
}

// Close closes the buffer; Send returns false afterwards and readers
// drain the remaining items.
func (b *BoundedBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *BoundedBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer counters.
func (b *BoundedBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		TotalDropped:  b.totalDropped,
	}
}

// BufferStats contains buffer counters.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	TotalDropped  int64
}
