package queue

import "errors"

// ErrQueueFull is returned by Enqueue when a bounded queue is at capacity.
var ErrQueueFull = errors.New("queue is full")

// Queue represents a basic FIFO queue shared between a producer goroutine and
// a consumer that drains it at tick boundaries.
type Queue[T any] interface {
	Enqueue(item T) error
	// TryDequeue removes the item at the front of the queue, if any.
	TryDequeue() (T, bool)
	Size() int
	// ReadAllMessages removes and returns every queued item in order.
	ReadAllMessages() ([]T, error)
	ClearQueue() error
}
