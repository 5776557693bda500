package rpc

import (
	"context"
	"sync"
)

// Session is the reply path back to the client a command arrived from.
// Done is closed once the connection has gone away.
type Session interface {
	ID() string
	Reply(Reply) error
	Done() <-chan struct{}
}

// Envelope is a decoded command together with the session it came from.
type Envelope struct {
	Command Command
	Session Session
}

// Queue is an unbounded FIFO of envelopes shared by many producers and
// drained by exactly one consumer.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	ready  chan struct{}
	closed bool
}

// NewQueue creates an empty delivery queue.
func NewQueue() *Queue {
	return &Queue{
		items: make([]Envelope, 0, 64),
		ready: make(chan struct{}, 1),
	}
}

// Push appends env to the queue. It never blocks. It returns false once
// the queue has been closed, meaning nobody will consume env.
func (q *Queue) Push(env Envelope) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	q.notify()
	return true
}

// Pop removes the oldest envelope, waiting until one is available.
// It returns false when ctx is done or the queue is closed.
func (q *Queue) Pop(ctx context.Context) (Envelope, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Envelope{}, false
		}
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = Envelope{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return env, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Envelope{}, false
		}
	}
}

// Len returns the number of envelopes waiting for the consumer.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close detaches the consumer. Pending envelopes are discarded and their
// count is returned; later pushes fail.
func (q *Queue) Close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.notify()
	return dropped
}

func (q *Queue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
