package session

import (
	"context"
	"sync"
)

// inputQueue is the unbounded single-producer/single-consumer follow-up
// message queue of a multi-turn session. Next blocks while the queue is
// empty and open. It implements core.InputSource.
type inputQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

func newInputQueue() *inputQueue {
	q := &inputQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a message and wakes the consumer. Returns false if the queue
// has been closed.
func (q *inputQueue) Push(text string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, text)
	q.cond.Signal()
	return true
}

// Close marks the queue finished so a blocked consumer returns instead of
// hanging. Idempotent. Messages already enqueued remain readable.
func (q *inputQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Next blocks until a message is available, the queue is closed and drained,
// or ctx is done. The boolean is false once no further messages will arrive.
func (q *inputQueue) Next(ctx context.Context) (string, bool) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if len(q.items) > 0 && ctx.Err() == nil {
		text := q.items[0]
		q.items = q.items[1:]
		return text, true
	}
	return "", false
}
