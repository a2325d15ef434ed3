package buffer

// Bounded is a multi-producer FIFO with a fixed capacity, backed by a
// buffered channel. Pushes and pops never block.
type Bounded[T any] struct {
	ch chan T
}

// NewBounded returns a buffer holding at most size events.
func NewBounded[T any](size int) *Bounded[T] {
	if size < 1 {
		size = 1
	}
	return &Bounded[T]{ch: make(chan T, size)}
}

// TryPush appends v, or reports false if the buffer is full.
func (b *Bounded[T]) TryPush(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

// TryPop removes the oldest event, or reports false if the buffer is empty.
func (b *Bounded[T]) TryPop() (T, bool) {
	select {
	case v := <-b.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered events.
func (b *Bounded[T]) Len() int { return len(b.ch) }

// Cap returns the buffer capacity.
func (b *Bounded[T]) Cap() int { return cap(b.ch) }
