package status

import (
	"sync"
)

// Ring is a thread-safe fixed-capacity FIFO. When full, Push overwrites
// the oldest item.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // oldest item
	count    int
	capacity int

	// Stats
	totalPushed int64
	evicted     int64
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest if the ring is full.
// Returns true if an item was evicted.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalPushed++

	if r.count < r.capacity {
		r.buf[(r.head+r.count)%r.capacity] = item
		r.count++
		return false
	}

	// Full: overwrite oldest and advance head
	r.buf[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.evicted++
	return true
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(r.head+i)%r.capacity]
	}
	return result
}

// Latest returns the newest item, or false if the ring is empty.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%r.capacity], true
}

// Len returns the current number of items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Count:       r.count,
		Capacity:    r.capacity,
		TotalPushed: r.totalPushed,
		Evicted:     r.evicted,
	}
}

// RingStats contains ring statistics.
type RingStats struct {
	Count       int
	Capacity    int
	TotalPushed int64
	Evicted     int64
}
