package usbtmc

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// notifySRQ and notifyStatus are bNotify1 values seen on the interrupt-in
// pipe: 0x81 marks an SRQ assertion, and values above 0x81 mark a bare
// status-byte notification. notifyStatus (0x80) is treated as reserved:
// dispatch logs and drops it, as it does every value below 0x81.
const (
	notifySRQ    byte = 0x81
	notifyStatus byte = 0x80
)

// interruptDispatcher continuously resubmits reads on the interrupt-in
// pipe (spec.md §4.6), classifies each packet as a bare status-byte
// notification or an SRQ assertion, and fans SRQ assertions out to every
// open Handle. A rate.Limiter is waited on before every read, successful
// or not (50 reads per second after a burst of 10), mirroring the original
// driver's interrupt URB resubmission loop without busy-looping on a
// wedged pipe.
type interruptDispatcher struct {
	dev *Device
	in  InterruptSource

	limiter *rate.Limiter

	mu       sync.Mutex
	lastByte byte
	waiters  []chan byte

	cancel context.CancelFunc
	done   chan struct{}
}

func newInterruptDispatcher(d *Device, in InterruptSource) *interruptDispatcher {
	return &interruptDispatcher{
		dev:     d,
		in:      in,
		limiter: rate.NewLimiter(rate.Limit(50), 10),
		done:    make(chan struct{}),
	}
}

func (id *interruptDispatcher) start() {
	ctx, cancel := context.WithCancel(context.Background())
	id.cancel = cancel
	go id.run(ctx)
}

func (id *interruptDispatcher) stop() {
	if id.cancel != nil {
		id.cancel()
	}
	<-id.done
}

func (id *interruptDispatcher) run(ctx context.Context) {
	defer close(id.done)
	for {
		if err := id.limiter.Wait(ctx); err != nil {
			return
		}
		packet, err := id.in.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			id.dev.log.Warn("interrupt-in read failed, resubmitting", "err", err)
			continue
		}
		if len(packet) == 0 {
			continue
		}
		id.dispatch(packet)
	}
}

// dispatch classifies one interrupt-in packet and fans it out. Byte 0 of a
// USB488 notification carries bNotify1: exactly 0x81 marks an SRQ
// assertion, anything greater marks a bare status-byte-changed
// notification; anything else (including the reserved 0x80 itself) is not
// a value this subclass defines and is logged and dropped rather than
// guessed at via a bitmask test. Byte 1, when present, carries the status
// byte.
func (id *interruptDispatcher) dispatch(packet []byte) {
	notify1 := packet[0]
	var statusByte byte
	if len(packet) > 1 {
		statusByte = packet[1]
	}

	switch {
	case notify1 == notifySRQ:
		id.latchStatus(statusByte)
		id.dev.handlesMu.Lock()
		handles := make([]*Handle, 0, len(id.dev.handles))
		for h := range id.dev.handles {
			handles = append(handles, h)
		}
		id.dev.handlesMu.Unlock()
		for _, h := range handles {
			h.latchSRQ(statusByte)
		}
	case notify1 > notifySRQ:
		id.latchStatus(statusByte)
	case notify1 == notifyStatus:
		id.dev.log.Warn("dropping reserved bNotify1 0x80", "notify1", notify1)
	default:
		id.dev.log.Warn("dropping interrupt-in packet with unrecognized bNotify1", "notify1", notify1)
	}
}

// latchStatus records statusByte as the dispatcher's last-seen value and
// wakes every pending waitStatus call.
func (id *interruptDispatcher) latchStatus(statusByte byte) {
	id.mu.Lock()
	id.lastByte = statusByte
	waiters := id.waiters
	id.waiters = nil
	id.mu.Unlock()

	for _, w := range waiters {
		w <- statusByte
		close(w)
	}
}

// waitStatus blocks for the next interrupt-in notification, up to timeout,
// used by READ_STATUS_BYTE when no SRQ is already latched.
func (id *interruptDispatcher) waitStatus(ctx context.Context, timeout time.Duration) (byte, error) {
	ch := make(chan byte, 1)
	id.mu.Lock()
	id.waiters = append(id.waiters, ch)
	id.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case b := <-ch:
		return b, nil
	case <-waitCtx.Done():
		return 0, newError("waitStatus", CodeTimedOut, "no interrupt-in notification arrived")
	}
}
