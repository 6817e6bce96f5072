package usbtmc

import (
	"context"
	"time"
)

// WaitSRQ blocks until an SRQ is latched for h, one already is, or timeout
// elapses. On a device with no interrupt-in endpoint SRQ delivery is
// impossible, so WaitSRQ fails immediately with invalid-argument instead
// of hanging until timeout, per spec.md's interrupt-absent degradation.
func (h *Handle) WaitSRQ(ctx context.Context, timeout time.Duration) (byte, error) {
	d := h.dev
	if err := d.checkZombie(); err != nil {
		return 0, err
	}
	if _, ok := d.transport.InterruptIn(); !ok {
		return 0, newError("WaitSRQ", CodeInvalidArgument, "device has no interrupt-in endpoint")
	}
	if b, ok := h.takeSRQ(); ok {
		return b, nil
	}

	ch, asserted := h.srqSignal()
	if asserted {
		if b, ok := h.takeSRQ(); ok {
			return b, nil
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-ch:
		if b, ok := h.takeSRQ(); ok {
			return b, nil
		}
		return 0, newError("WaitSRQ", CodeIOError, "SRQ signaled but no status byte was latched")
	case <-waitCtx.Done():
		return 0, newError("WaitSRQ", CodeTimedOut, "no SRQ arrived within timeout")
	}
}

// GetCaps returns the device's coalesced capability set without reissuing
// GET_CAPABILITIES; callers that need a fresh read should call
// Device.fetchCapabilities indirectly by reopening, since the device's
// capabilities cannot meaningfully change while attached.
func (h *Handle) GetCaps() Capabilities {
	return h.dev.Capabilities()
}

// GetTimeout and SetTimeout expose the device's default blocking-operation
// timeout at the handle level, per spec.md §6's GET_TIMEOUT/SET_TIMEOUT.
func (h *Handle) GetTimeout() time.Duration  { return h.dev.Timeout() }
func (h *Handle) SetTimeout(d time.Duration) { h.dev.SetTimeout(d) }

// CleanupIO quiesces the handle exactly as Flush does; it is the
// IOCTL_CLEANUP_IO alias spec.md's external interface table lists
// alongside Flush for symmetry with CancelIO.
func (h *Handle) CleanupIO() {
	h.Flush()
}

// Status reports the first error recorded against the most recent classic
// or async write/read on the device, plus the cumulative byte counts, for
// callers implementing their own GET_STATUS-style polling.
type Status struct {
	OutTransferSize uint64
	OutError        error
	InTransferSize  uint64
	InError         error
	Zombie          bool
}

// GetStatus returns a snapshot of the device's aggregate transfer status.
func (h *Handle) GetStatus() Status {
	d := h.dev
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return Status{
		OutTransferSize: d.outTransferSize,
		OutError:        d.outStatus,
		InTransferSize:  d.inTransferSize,
		InError:         d.inStatus,
		Zombie:          d.zombie,
	}
}
