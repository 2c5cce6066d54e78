package queue

// Ring is a fixed-capacity FIFO backed by a circular buffer. It never
// allocates after construction. Ring is not safe for concurrent use.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// NewRing creates an empty ring that holds at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("queue: ring capacity must be positive")
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends item. It returns false, leaving the ring unchanged, when the
// ring is full.
func (r *Ring[T]) Push(item T) bool {
	if r.size == len(r.items) {
		return false
	}
	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++
	return true
}

// Pop removes and returns the oldest item. ok is false when the ring is empty.
func (r *Ring[T]) Pop() (item T, ok bool) {
	if r.size == 0 {
		return item, false
	}
	item = r.items[r.head]
	var zero T
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return item, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (item T, ok bool) {
	if r.size == 0 {
		return item, false
	}
	return r.items[r.head], true
}

// Empty returns true if the ring has no items.
func (r *Ring[T]) Empty() bool {
	return r.size == 0
}

// Full returns true if another Push would fail.
func (r *Ring[T]) Full() bool {
	return r.size == len(r.items)
}

// Len returns the number of items in the ring.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Drain pops every item in FIFO order and passes it to fn.
func (r *Ring[T]) Drain(fn func(T)) {
	for {
		item, ok := r.Pop()
		if !ok {
			return
		}
		fn(item)
	}
}
