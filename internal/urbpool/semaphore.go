// Package urbpool provides the small concurrency primitives the async I/O
// engines are built on: a counting semaphore bounding in-flight transfers,
// an anchor tracking the set of currently-submitted transfers (with
// generation-token cancellation so a killed transfer's late completion
// can be told apart from a live one), and a completion queue standing in
// for the "in_anchor" of completed, not-yet-consumed bulk-in buffers.
package urbpool

import "context"

// Semaphore is a counting semaphore with context-aware acquisition, used
// to bound the number of in-flight write transfers.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore creates a Semaphore with the given number of permits.
func NewSemaphore(n int) *Semaphore {
	s := &Semaphore{tokens: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// TryAcquire acquires a permit without blocking, reporting whether it
// succeeded.
func (s *Semaphore) TryAcquire() bool {
	select {
	case <-s.tokens:
		return true
	default:
		return false
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool.
func (s *Semaphore) Release() {
	select {
	case s.tokens <- struct{}{}:
	default:
		// Release without a matching Acquire is a programmer error; drop
		// rather than block or panic in callback-adjacent code.
	}
}

// Available reports the number of free permits.
func (s *Semaphore) Available() int {
	return len(s.tokens)
}
