package urbpool

import (
	"context"
	"sync"
)

// Completion is one finished bulk-in transfer waiting to be copied into a
// caller's buffer: the data actually received, any error attached to it,
// and whether it ends the message (a short packet, with fewer bytes than
// the buffer it was submitted with, or a header chunk carrying EOM).
type Completion struct {
	Data  []byte
	Err   error
	Short bool
}

// CompletionQueue is the "in_anchor" of completed, not-yet-consumed
// bulk-in transfers: a FIFO queue with blocking Pop and a Scuttle operation
// that discards everything queued, used on cancellation/flush.
type CompletionQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []Completion
}

// NewCompletionQueue returns an empty CompletionQueue.
func NewCompletionQueue() *CompletionQueue {
	q := &CompletionQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a completed transfer to the queue and wakes any waiter.
func (q *CompletionQueue) Push(c Completion) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pop removes and returns the oldest completion, blocking until one is
// available or ctx is done.
func (q *CompletionQueue) Pop(ctx context.Context) (Completion, error) {
	type result struct {
		c  Completion
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		q.mu.Lock()
		for len(q.items) == 0 {
			q.cond.Wait()
		}
		c := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		done <- result{c, true}
	}()
	select {
	case r := <-done:
		return r.c, nil
	case <-ctx.Done():
		q.cond.Broadcast()
		return Completion{}, ctx.Err()
	}
}

// TryPop removes and returns the oldest completion without blocking,
// reporting whether one was available.
func (q *CompletionQueue) TryPop() (Completion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Completion{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	return c, true
}

// Len reports the number of queued completions.
func (q *CompletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Scuttle discards every queued completion, used on cancel/flush.
func (q *CompletionQueue) Scuttle() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
