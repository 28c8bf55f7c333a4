package history

// Ring is a fixed-capacity circular buffer with O(1) eviction.
// The zero value is not usable; construct with NewRing.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (r *Ring[T]) Push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th element, oldest first.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Items returns all elements oldest-first as a fresh slice.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.At(i))
	}
	return out
}

// Last returns up to n of the newest elements, oldest-first.
func (r *Ring[T]) Last(n int) []T {
	if n > r.n {
		n = r.n
	}
	out := make([]T, 0, n)
	for i := r.n - n; i < r.n; i++ {
		out = append(out, r.At(i))
	}
	return out
}

// Latest returns the newest element and true, or a zero value and false when empty.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.At(r.n - 1), true
}
