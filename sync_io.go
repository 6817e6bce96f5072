package usbtmc

import "context"

// Write implements the classic byte-stream write path (spec.md §4.2): the
// payload is chunked into io_buffer_size-12 byte pieces, each framed with
// a fresh DEV_DEP_MSG_OUT header, EOM set on the final chunk only (when
// EOM is enabled), padded to a 4-byte boundary, and written to bulk-out.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	d := h.dev
	if err := d.checkZombie(); err != nil {
		return 0, err
	}
	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	chunkLen := d.IOBufferSize() - headerLen
	if chunkLen <= 0 {
		return 0, newError("Write", CodeInvalidArgument, "io buffer size too small to carry a header")
	}
	eomEnabled := d.EOMEnable()

	written := 0
	for written < len(p) || (len(p) == 0 && written == 0) {
		end := written + chunkLen
		last := end >= len(p)
		if last {
			end = len(p)
		}
		chunk := p[written:end]

		tag := d.bulkTags.next()
		d.tagMu.Lock()
		d.lastWriteTag = tag
		d.tagMu.Unlock()

		hdr := bulkOutHeader(tag, len(chunk), last && eomEnabled)
		frame := padded(append(hdr[:], chunk...))

		if err := d.writeFrame(ctx, frame); err != nil {
			d.recordOutError(err)
			if d.AutoAbort() && autoAbortEligible(err) {
				_ = d.AbortBulkOut(ctx)
			}
			return written, err
		}

		written = end
		d.errMu.Lock()
		d.outTransferSize += uint64(len(chunk))
		d.errMu.Unlock()

		if len(p) == 0 {
			break
		}
	}
	return written, nil
}

// writeFrame writes frame to bulk-out, looping on partial writes exactly as
// nasa-jpl-golaborate/usbtmc/usbtmc.go's Write does for the 12-byte header.
func (d *Device) writeFrame(ctx context.Context, frame []byte) error {
	for len(frame) > 0 {
		n, err := d.transport.WriteBulkOut(ctx, frame)
		if err != nil {
			return err
		}
		if n <= 0 {
			return newError("writeFrame", CodeIOError, "transport made no progress")
		}
		frame = frame[n:]
	}
	return nil
}

func (d *Device) recordOutError(err error) {
	d.errMu.Lock()
	if d.outStatus == nil {
		d.outStatus = err
	}
	d.errMu.Unlock()
}

func (d *Device) recordInError(err error) {
	d.errMu.Lock()
	if d.inStatus == nil {
		d.inStatus = err
	}
	d.errMu.Unlock()
}

// Read implements the classic byte-stream read path (spec.md §4.2). For
// quirk devices it sends a single REQUEST_DEV_DEP_MSG_IN up front and
// strips the header only from the first bulk-in response; otherwise it
// issues a fresh REQUEST_DEV_DEP_MSG_IN per chunk and validates each
// response's header before copying its payload.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	d := h.dev
	if err := d.checkZombie(); err != nil {
		return 0, err
	}
	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if d.quirk(d.vid, d.pid) {
		return d.readQuirk(ctx, p)
	}
	return d.readStandard(ctx, p)
}

func (d *Device) readStandard(ctx context.Context, p []byte) (int, error) {
	termChar, termEnabled := d.TermChar()
	ioBuf := d.IOBufferSize()
	reqCap := ioBuf - headerLen - 3

	n := 0
	for n < len(p) {
		want := len(p) - n
		if want > reqCap {
			want = reqCap
		}

		tag := d.bulkTags.next()
		d.tagMu.Lock()
		d.lastReadTag = tag
		d.tagMu.Unlock()

		reqHdr := bulkInRequestHeader(tag, want+headerLen, termChar, termEnabled)
		if err := d.writeFrame(ctx, reqHdr[:]); err != nil {
			d.recordInError(err)
			return n, err
		}

		buf := make([]byte, ioBuf)
		got, err := d.transport.ReadBulkIn(ctx, buf)
		if err != nil {
			d.recordInError(err)
			return n, err
		}
		buf = buf[:got]

		dh, err := decodeInHeader(buf)
		if err != nil {
			d.recordInError(err)
			return n, err
		}
		if err := validateResponse(dh, tag); err != nil {
			d.recordInError(err)
			return n, err
		}
		payload := buf[headerLen:]
		if dh.payload > len(payload) {
			err := newErrorf("readStandard", CodeProtocolError,
				"device declared %d payload bytes but only sent %d", dh.payload, len(payload))
			d.recordInError(err)
			return n, err
		}
		if dh.payload > want {
			err := newErrorf("readStandard", CodeProtocolError,
				"device returned %d bytes, more than the %d requested", dh.payload, want)
			d.recordInError(err)
			return n, err
		}
		payload = payload[:dh.payload]
		copy(p[n:], payload)
		n += len(payload)

		d.errMu.Lock()
		d.inTransferSize += uint64(len(payload))
		d.errMu.Unlock()

		if dh.eom {
			break
		}
	}
	return n, nil
}

func (d *Device) readQuirk(ctx context.Context, p []byte) (int, error) {
	termChar, termEnabled := d.TermChar()
	tag := d.bulkTags.next()
	d.tagMu.Lock()
	d.lastReadTag = tag
	d.tagMu.Unlock()

	reqHdr := bulkInRequestHeader(tag, len(p)+headerLen, termChar, termEnabled)
	if err := d.writeFrame(ctx, reqHdr[:]); err != nil {
		d.recordInError(err)
		return 0, err
	}

	ioBuf := d.IOBufferSize()
	n := 0
	first := true
	for n < len(p) {
		buf := make([]byte, ioBuf)
		got, err := d.transport.ReadBulkIn(ctx, buf)
		if err != nil {
			d.recordInError(err)
			return n, err
		}
		buf = buf[:got]

		var payload []byte
		var eom bool
		if first {
			dh, err := decodeInHeader(buf)
			if err != nil {
				d.recordInError(err)
				return n, err
			}
			if err := validateResponse(dh, tag); err != nil {
				d.recordInError(err)
				return n, err
			}
			payload = buf[headerLen:]
			eom = dh.eom
			first = false
		} else {
			payload = buf
			eom = got < ioBuf
		}

		remaining := len(p) - n
		if len(payload) > remaining {
			payload = payload[:remaining]
		}
		copy(p[n:], payload)
		n += len(payload)

		d.errMu.Lock()
		d.inTransferSize += uint64(len(payload))
		d.errMu.Unlock()

		if eom {
			break
		}
	}
	return n, nil
}
