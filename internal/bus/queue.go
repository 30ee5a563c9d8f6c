package bus

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

// Event is the unit passed through the inbound queue.
type Event struct {
	Topic   string
	Payload any
}

// Queue is a bounded inbound queue drained onto a bus by Run. Producers on
// other goroutines hand events over here instead of publishing directly.
type Queue struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return exception.ErrBusQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return errors.Wrap(exception.ErrBusQueueFull, e.Topic)
	}
}

// Publish enqueues an event, waiting for room until ctx is done.
func (q *Queue) Publish(ctx context.Context, e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return exception.ErrBusQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new events. Queued events are still
// delivered by Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Run publishes queued events onto bus until the context is done or the
// queue is closed and drained.
func (q *Queue) Run(ctx context.Context, bus *MessageBus) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			bus.Publish(e.Topic, e.Payload)
		}
	}
}
