package usbtmc

import (
	"context"

	"github.com/GuidoKiener/linux-usbtmc/internal/urbpool"
)

// bufCount computes how many bulkSize-sized buffers are needed to cover
// maxLen, capped at maxInFlight, matching the original driver's
// DIV_ROUND_UP(transfer_size, bulk_size) clamp.
func bufCount(maxLen int) int {
	if maxLen <= 0 {
		return 1
	}
	n := (maxLen + bulkSize - 1) / bulkSize
	if n > maxInFlight {
		n = maxInFlight
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ReadAsyncStart implements the submission half of the asynchronous read
// engine (spec.md §4.4): it issues a single REQUEST_DEV_DEP_MSG_IN for up
// to maxLen bytes, then starts a background loop reading bufCount(maxLen)
// bulkSize buffers from bulk-in, one at a time (the endpoint is a single
// physical pipe; concurrency here is about cancelability, not parallel
// hardware access), pushing each onto the device's read completion queue
// and stopping at the first short packet or the EOM bit on the header
// chunk. With FlagAsync unset the caller should follow with
// ReadAsyncResult to drain it synchronously; the only I/O ReadAsyncStart
// itself waits on is the bulk-out write of the request header.
func (h *Handle) ReadAsyncStart(ctx context.Context, maxLen int, flags AsyncFlags) error {
	d := h.dev
	if err := d.checkZombie(); err != nil {
		return err
	}
	if maxLen <= 0 {
		return newError("ReadAsyncStart", CodeInvalidArgument, "maxLen must be positive")
	}

	d.errMu.Lock()
	d.inTransferSize = 0
	d.inStatus = nil
	d.errMu.Unlock()

	termChar, termEnabled := d.TermChar()
	tag := d.bulkTags.next()
	d.tagMu.Lock()
	d.lastReadTag = tag
	d.tagMu.Unlock()

	reqHdr := bulkInRequestHeader(tag, maxLen+headerLen, termChar, termEnabled)
	if err := d.writeFrame(ctx, reqHdr[:]); err != nil {
		d.recordInError(err)
		return err
	}

	n := bufCount(maxLen)
	go d.runAsyncRead(ctx, tag, maxLen, n, flags)
	return nil
}

func (d *Device) runAsyncRead(ctx context.Context, tag byte, maxLen, buffers int, flags AsyncFlags) {
	remaining := maxLen
	first := true
	for i := 0; i < buffers && remaining > 0; i++ {
		if stop := d.runAsyncReadBuffer(ctx, tag, &remaining, &first, flags); stop {
			return
		}
	}
}

// runAsyncReadBuffer submits and collects a single bulk-in buffer under the
// read semaphore, reporting whether the caller should stop the loop
// (terminal error, EOM, short packet, or cancellation).
func (d *Device) runAsyncReadBuffer(ctx context.Context, tag byte, remaining *int, first *bool, flags AsyncFlags) (stop bool) {
	// down_trylock semantics, mirroring the write engine: with FlagAsync
	// set, a full in-flight pool fails the buffer fast instead of
	// blocking this background loop.
	if flags&FlagAsync != 0 {
		if !d.readSem.TryAcquire() {
			d.recordInError(ErrWouldBlock)
			d.readComplete.Push(urbpool.Completion{Err: newError("ReadAsyncStart", CodeWouldBlock, "read queue is full")})
			return true
		}
	} else if err := d.readSem.Acquire(ctx); err != nil {
		d.recordInError(err)
		d.readComplete.Push(urbpool.Completion{Err: err})
		return true
	}
	defer d.readSem.Release()

	id, generation := d.readSubmit.Submit()

	want := bulkSize
	if want > *remaining+headerLen {
		want = *remaining + headerLen
	}
	buf := make([]byte, want)
	got, err := d.transport.ReadBulkIn(ctx, buf)

	if !d.readSubmit.Complete(id, generation) {
		return true // canceled; stop the loop, drop this completion
	}

	if err != nil {
		d.recordInError(err)
		d.readComplete.Push(urbpool.Completion{Err: err})
		return true
	}
	buf = buf[:got]

	var payload []byte
	var eom, short bool
	if *first {
		dh, derr := decodeInHeader(buf)
		if derr != nil {
			d.recordInError(derr)
			d.readComplete.Push(urbpool.Completion{Err: derr})
			return true
		}
		if verr := validateResponse(dh, tag); verr != nil {
			d.recordInError(verr)
			d.readComplete.Push(urbpool.Completion{Err: verr})
			return true
		}
		payload = buf[headerLen:]
		if dh.payload < len(payload) {
			payload = payload[:dh.payload]
		}
		eom = dh.eom
		*first = false
	} else {
		payload = buf
		short = got < bulkSize
	}

	if len(payload) > *remaining {
		payload = payload[:*remaining]
	}
	*remaining -= len(payload)

	d.errMu.Lock()
	d.inTransferSize += uint64(len(payload))
	d.errMu.Unlock()

	d.readComplete.Push(urbpool.Completion{Data: payload, Short: short || eom})

	if eom || short {
		return true
	}
	return false
}

// ReadAsyncResult drains the device's read completion queue into p,
// blocking until len(p) bytes have been collected, a short/EOM packet
// terminates the message early, or ctx is done. It is the second half of
// spec.md §4.4's two-phase async read API.
func (h *Handle) ReadAsyncResult(ctx context.Context, p []byte) (int, error) {
	d := h.dev
	n := 0
	for n < len(p) {
		c, err := d.readComplete.Pop(ctx)
		if err != nil {
			return n, err
		}
		if c.Err != nil {
			return n, c.Err
		}
		copied := copy(p[n:], c.Data)
		n += copied
		if c.Short || copied < len(c.Data) {
			break
		}
	}
	return n, nil
}

// AsyncRead is the convenience form of the async read engine: it starts
// the submission and, with FlagAsync unset, blocks draining the completion
// queue into p until the message is complete or p is full. With FlagAsync
// set it returns 0 immediately after starting, leaving the caller to
// collect the result later with ReadAsyncResult; the background loop then
// takes its read permits with TryAcquire, so a full pool shows up there as
// a would-block completion.
func (h *Handle) AsyncRead(ctx context.Context, p []byte, flags AsyncFlags) (int, error) {
	if err := h.ReadAsyncStart(ctx, len(p), flags); err != nil {
		return 0, err
	}
	if flags&FlagAsync != 0 {
		return 0, nil
	}
	return h.ReadAsyncResult(ctx, p)
}
