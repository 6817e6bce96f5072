package urbpool

import (
	"context"
	"testing"
	"time"
)

func TestSemaphoreTryAcquireExhausts(t *testing.T) {
	s := NewSemaphore(2)
	if !s.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	if !s.TryAcquire() {
		t.Fatal("second TryAcquire should succeed")
	}
	if s.TryAcquire() {
		t.Fatal("third TryAcquire should fail, pool exhausted")
	}
}

func TestSemaphoreReleaseRestoresPermit(t *testing.T) {
	s := NewSemaphore(1)
	s.TryAcquire()
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("TryAcquire should succeed after Release")
	}
}

func TestSemaphoreAcquireBlocksUntilContextDone(t *testing.T) {
	s := NewSemaphore(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); err == nil {
		t.Fatal("Acquire on an exhausted semaphore should fail once ctx is done")
	}
}

func TestSemaphoreReleaseWithoutAcquireDoesNotBlock(t *testing.T) {
	s := NewSemaphore(1)
	done := make(chan struct{})
	go func() {
		s.Release() // pool already full; must not block
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Release blocked with a full pool")
	}
}
