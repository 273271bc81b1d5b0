package engine

import (
	"sync"

	"github.com/roach88/txq/internal/ir"
)

// Delivery is one transaction handed to the engine by a producer.
type Delivery struct {
	Tx ir.Tx

	// Leaves is the producer's opaque payload, forwarded to the applied
	// record unchanged.
	Leaves []string

	// Err is set when the producer failed to obtain the transaction.
	// The engine treats it as fatal.
	Err error

	// Peer names the sender, if any. Used for seen-by-peer tracking.
	Peer string
}

// deliveryQueue is a thread-safe unbounded FIFO of deliveries.
//
// Producers enqueue from any goroutine while Run dequeues. The signal
// channel lets Run wait with a context instead of blocking forever.
type deliveryQueue struct {
	mu     sync.Mutex
	items  []Delivery
	closed bool
	signal chan struct{} // buffered, size 1
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items:  make([]Delivery, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds d to the back of the queue.
// Returns false if the queue is closed.
func (q *deliveryQueue) Enqueue(d Delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, d)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front delivery without blocking.
func (q *deliveryQueue) TryDequeue() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Delivery{}, false
	}

	d := q.items[0]
	// Clear the slot so the backing array does not pin the tx slices.
	q.items[0] = Delivery{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return d, true
}

// Wait returns a channel that signals when deliveries may be available.
// It is closed once the queue is closed.
func (q *deliveryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more deliveries will be enqueued.
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
