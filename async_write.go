package usbtmc

import (
	"context"
	"sync"
)

// AsyncFlags modify AsyncWrite/AsyncRead behavior, mirroring the original
// driver's USBTMC_FLAG_* ioctl flags.
type AsyncFlags uint32

const (
	// FlagAsync makes the call return immediately after submission instead
	// of blocking for completion; the result is collected later with
	// WriteResult/ReadAsyncResult.
	FlagAsync AsyncFlags = 1 << iota

	// FlagAppend marks a write as a non-final fragment of a larger
	// message: EOM is withheld even on the last chunk of this call, and
	// outTransferSize keeps accumulating instead of being reset.
	FlagAppend
)

// AsyncWrite implements the asynchronous, bounded-concurrency write engine
// (spec.md §4.3): payload is split into bulkSize chunks, each framed with
// its own DEV_DEP_MSG_OUT header and a fresh tag, and submitted under the
// device's writeSem/writeAnchor so at most maxInFlight chunks are ever
// in flight. EOM is set on the final chunk when EOM is enabled on the
// device and FlagAppend is absent.
// With FlagAsync unset, it blocks acquiring a writeSem permit for each
// chunk and until every submitted chunk completes, returning the first
// error encountered. With FlagAsync set, it mirrors usbtmc.c's
// down_trylock-on-a-full-pool behavior: each chunk's permit is acquired
// with TryAcquire, and the first chunk that finds the pool full stops
// submission and returns ErrWouldBlock, leaving whatever was already
// submitted to complete in the background and be observed later through
// WriteResult/OutTransferSize/OutError.
func (h *Handle) AsyncWrite(ctx context.Context, payload []byte, flags AsyncFlags) error {
	d := h.dev
	if err := d.checkZombie(); err != nil {
		return err
	}

	if flags&FlagAppend == 0 {
		d.errMu.Lock()
		d.outTransferSize = 0
		d.outStatus = nil
		d.errMu.Unlock()
	}

	chunks := chunkPayload(payload, bulkSize)
	if len(chunks) == 0 {
		chunks = [][]byte{nil}
	}

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		last := i == len(chunks)-1
		eom := last && flags&FlagAppend == 0 && d.EOMEnable()

		if flags&FlagAsync != 0 {
			// down_trylock semantics: a full in-flight pool fails fast
			// instead of blocking the caller. Chunks already submitted
			// keep running; the caller sees what was done so far via
			// WriteResult/OutTransferSize.
			if !d.writeSem.TryAcquire() {
				return newError("AsyncWrite", CodeWouldBlock, "write queue is full")
			}
		} else if err := d.writeSem.Acquire(ctx); err != nil {
			return err
		}
		id, generation := d.writeAnchor.Submit()

		wg.Add(1)
		go d.submitWriteChunk(ctx, chunk, eom, id, generation, &wg)

		if flags&FlagAsync == 0 {
			// Classic blocking semantics: throttle submission to one in
			// flight at a time so errors surface promptly and in order.
			wg.Wait()
		}
	}

	if flags&FlagAsync == 0 {
		d.errMu.Lock()
		err := d.outStatus
		d.errMu.Unlock()
		return err
	}
	return nil
}

func (d *Device) submitWriteChunk(ctx context.Context, chunk []byte, eom bool, id, generation uint64, wg *sync.WaitGroup) {
	defer wg.Done()
	defer d.writeSem.Release()

	tag := d.bulkTags.next()
	d.tagMu.Lock()
	d.lastWriteTag = tag
	d.tagMu.Unlock()

	hdr := bulkOutHeader(tag, len(chunk), eom)
	frame := padded(append(hdr[:], chunk...))

	err := d.writeFrame(ctx, frame)

	if !d.writeAnchor.Complete(id, generation) {
		return // canceled; drop the completion silently
	}

	if err != nil {
		d.recordOutError(err)
		if d.AutoAbort() && autoAbortEligible(err) {
			_ = d.AbortBulkOut(ctx)
		}
		return
	}
	d.errMu.Lock()
	d.outTransferSize += uint64(len(chunk))
	d.errMu.Unlock()
}

// WriteResult blocks until every chunk submitted by the most recent
// FlagAsync AsyncWrite has completed, then returns the cumulative byte
// count and first error observed, per spec.md §4.3's two-phase API.
func (h *Handle) WriteResult(ctx context.Context) (uint64, error) {
	d := h.dev
	if err := d.writeAnchor.Wait(ctx); err != nil {
		return d.OutTransferSize(), err
	}
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.outTransferSize, d.outStatus
}

// CancelIO aborts every in-flight asynchronous write and read submitted by
// this device: it kills the write and read anchors (so racing completions
// are dropped as stale by generation), scuttles the read completion queue,
// and runs the matching USB488 abort sequences to unwedge the hardware
// pipes, per spec.md §4.3/§4.4's cancellation design.
func (h *Handle) CancelIO(ctx context.Context) error {
	d := h.dev
	d.writeAnchor.Kill()
	d.readSubmit.Kill()
	d.readComplete.Scuttle()

	var outErr, inErr error
	outErr = d.AbortBulkOut(ctx)
	inErr = d.AbortBulkIn(ctx)
	if outErr != nil {
		return outErr
	}
	return inErr
}

func chunkPayload(p []byte, size int) [][]byte {
	if len(p) == 0 {
		return nil
	}
	var chunks [][]byte
	for len(p) > 0 {
		n := size
		if n > len(p) {
			n = len(p)
		}
		chunks = append(chunks, p[:n])
		p = p[n:]
	}
	return chunks
}
