// Package buffer provides a generic, thread-safe circular buffer with a
// configurable overflow policy. Statistics are always collected; Prometheus
// metrics are optional via WithMetrics.
package buffer

// Buffer is a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full the overflow policy decides
	// whether the oldest item or the new one is dropped.
	Write(item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// Items returns a copy of the buffered items, oldest first. The returned
	// slice is owned by the caller.
	Items() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close rejects further writes.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item before appending the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the new item when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer. Capacity must be positive.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
