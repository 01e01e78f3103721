// Package window provides a fixed-capacity FIFO used to look a fixed number
// of ticks into the past.
package window

// Window is a ring buffer holding at most Cap() items, oldest first.
// Pushing into a full window evicts the oldest item.
type Window[T any] struct {
	buf  []T
	head int // index of the oldest item
	size int
}

// New creates a window with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Window[T] {
	if capacity <= 0 {
		panic("window: capacity must be positive")
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends item as the newest entry. When the window was already full the
// previous oldest item is returned with ok set.
func (w *Window[T]) Push(item T) (evicted T, ok bool) {
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = item
		w.size++
		return evicted, false
	}

	evicted = w.buf[w.head]
	w.buf[w.head] = item
	w.head = (w.head + 1) % len(w.buf)
	return evicted, true
}

// Oldest returns the oldest item without removing it.
func (w *Window[T]) Oldest() (T, bool) {
	var zero T
	if w.size == 0 {
		return zero, false
	}
	return w.buf[w.head], true
}

// Newest returns the most recently pushed item.
func (w *Window[T]) Newest() (T, bool) {
	var zero T
	if w.size == 0 {
		return zero, false
	}
	return w.buf[(w.head+w.size-1)%len(w.buf)], true
}

// Len returns the number of items held.
func (w *Window[T]) Len() int { return w.size }

// Cap returns the fixed capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Ready reports whether the window has been filled at least once. Nothing
// is ever removed except by eviction, so it stays true from then on.
func (w *Window[T]) Ready() bool {
	return w.size == len(w.buf)
}
