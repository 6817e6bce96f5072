package usbtmc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// USBTMC class-specific and USB488 subclass-specific control request
// codes (tmc.h's USBTMC_REQUEST_*/USBTMC488_REQUEST_*).
const (
	reqInitiateAbortBulkOut     byte = 1
	reqCheckAbortBulkOutStatus  byte = 2
	reqInitiateAbortBulkIn      byte = 3
	reqCheckAbortBulkInStatus   byte = 4
	reqInitiateClear            byte = 5
	reqCheckClearStatus         byte = 6
	reqGetCapabilities          byte = 7
	reqIndicatorPulse           byte = 64

	req488ReadStatusByte byte = 128
	req488RenControl     byte = 160
	req488GotoLocal      byte = 161
	req488LocalLockout   byte = 162
)

// Status codes carried in byte 0 of every class-request reply (tmc.h's
// USBTMC_STATUS_*).
const (
	statusSuccess byte = 0x01
	statusPending byte = 0x02
	statusFailed  byte = 0x80
)

const (
	bmReqClassInterfaceIn  byte = 0xA1 // IN | CLASS | INTERFACE
	bmReqClassInterfaceOut byte = 0x21 // OUT | CLASS | INTERFACE
)

// maxAbortDrainIterations bounds the abort/clear bulk-in drain loops, per
// USBTMC_MAX_READS_TO_CLEAR_BULK_IN in the original driver.
const maxAbortDrainIterations = 100

// pollBackoff builds the bounded constant-interval retry policy used for
// the abort/clear status-polling loops, replacing the original driver's
// bare 100-iteration for loop with an explicit, testable policy object.
func pollBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), maxAbortDrainIterations)
}

// fetchCapabilities issues GET_CAPABILITIES and populates d.caps, mirroring
// usbtmc.c's get_capabilities(): a single 24-byte class-interface read with
// interface capabilities at offset 4, device capabilities at offset 5, and
// the USB488-specific pair at offsets 14/15, coalesced per Coalesce.
func (d *Device) fetchCapabilities(ctx context.Context) error {
	reply, err := d.transport.Control(ctx, ControlRequest{
		RequestType: bmReqClassInterfaceIn,
		Request:     reqGetCapabilities,
		Length:      24,
	})
	if err != nil {
		return err
	}
	if len(reply) < 16 || reply[0] != statusSuccess {
		return newError("fetchCapabilities", CodeDenied, "GET_CAPABILITIES did not report success")
	}
	caps := Capabilities{
		InterfaceCapabilities: reply[4],
		DeviceCapabilities:    reply[5],
		USB488Interface:       reply[14],
		USB488Device:          reply[15],
	}
	caps.Coalesced = Coalesce(caps.USB488Interface, caps.USB488Device)

	d.errMu.Lock()
	d.caps = caps
	d.errMu.Unlock()
	return nil
}

// AbortBulkOut runs the INITIATE_ABORT_BULK_OUT sequence (spec.md §4.5)
// against the most recent bulk-out write tag.
func (d *Device) AbortBulkOut(ctx context.Context) error {
	d.tagMu.Lock()
	tag := d.lastWriteTag
	d.tagMu.Unlock()
	return d.abortBulkOutTag(ctx, tag)
}

// AbortBulkOutTag runs INITIATE_ABORT_BULK_OUT against a specific tag,
// failing fast if it does not match the transaction the device is
// currently tracking.
func (d *Device) AbortBulkOutTag(ctx context.Context, tag byte) error {
	d.tagMu.Lock()
	current := d.lastWriteTag
	d.tagMu.Unlock()
	if tag != current {
		return newErrorf("AbortBulkOutTag", CodeInvalidArgument, "tag %d is not the current bulk-out transaction (%d)", tag, current)
	}
	return d.abortBulkOutTag(ctx, tag)
}

func (d *Device) abortBulkOutTag(ctx context.Context, tag byte) error {
	reply, err := d.transport.Control(ctx, ControlRequest{
		RequestType: bmReqClassInterfaceIn,
		Request:     reqInitiateAbortBulkOut,
		Value:       uint16(tag),
		Index:       uint16(d.transport.BulkOutAddress()),
		Length:      2,
	})
	if err != nil {
		return err
	}
	if len(reply) < 1 {
		return newError("abortBulkOutTag", CodeProtocolError, "short INITIATE_ABORT_BULK_OUT reply")
	}
	if reply[0] == statusFailed {
		return nil // nothing in progress
	}
	if reply[0] != statusSuccess {
		return newError("abortBulkOutTag", CodeDenied, "INITIATE_ABORT_BULK_OUT was not accepted")
	}

	return backoff.Retry(func() error {
		reply, err := d.transport.Control(ctx, ControlRequest{
			RequestType: bmReqClassInterfaceIn,
			Request:     reqCheckAbortBulkOutStatus,
			Index:       uint16(d.transport.BulkOutAddress()),
			Length:      8,
		})
		if err != nil {
			return err
		}
		if len(reply) < 1 {
			return newError("abortBulkOutTag", CodeProtocolError, "short CHECK_ABORT_BULK_OUT_STATUS reply")
		}
		switch reply[0] {
		case statusSuccess:
			return d.transport.ClearHalt(d.transport.BulkOutAddress())
		case statusPending:
			return newError("abortBulkOutTag", CodeTimedOut, "abort still pending")
		default:
			return backoff.Permanent(newError("abortBulkOutTag", CodeDenied, "CHECK_ABORT_BULK_OUT_STATUS failed"))
		}
	}, pollBackoff())
}

// AbortBulkIn runs the INITIATE_ABORT_BULK_IN sequence (spec.md §4.5)
// against the most recent bulk-in read tag.
func (d *Device) AbortBulkIn(ctx context.Context) error {
	d.tagMu.Lock()
	tag := d.lastReadTag
	d.tagMu.Unlock()
	return d.abortBulkInTag(ctx, tag)
}

// AbortBulkInTag runs INITIATE_ABORT_BULK_IN against a specific tag.
func (d *Device) AbortBulkInTag(ctx context.Context, tag byte) error {
	d.tagMu.Lock()
	current := d.lastReadTag
	d.tagMu.Unlock()
	if tag != current {
		return newErrorf("AbortBulkInTag", CodeInvalidArgument, "tag %d is not the current bulk-in transaction (%d)", tag, current)
	}
	return d.abortBulkInTag(ctx, tag)
}

func (d *Device) abortBulkInTag(ctx context.Context, tag byte) error {
	reply, err := d.transport.Control(ctx, ControlRequest{
		RequestType: bmReqClassInterfaceIn,
		Request:     reqInitiateAbortBulkIn,
		Value:       uint16(tag),
		Index:       uint16(d.transport.BulkInAddress()),
		Length:      2,
	})
	if err != nil {
		return err
	}
	if len(reply) < 1 {
		return newError("abortBulkInTag", CodeProtocolError, "short INITIATE_ABORT_BULK_IN reply")
	}
	if reply[0] == statusFailed {
		return nil
	}
	if reply[0] != statusSuccess {
		return newError("abortBulkInTag", CodeDenied, "INITIATE_ABORT_BULK_IN was not accepted")
	}

	if err := d.drainBulkIn(ctx); err != nil {
		return err
	}

	return backoff.Retry(func() error {
		reply, err := d.transport.Control(ctx, ControlRequest{
			RequestType: bmReqClassInterfaceIn,
			Request:     reqCheckAbortBulkInStatus,
			Index:       uint16(d.transport.BulkInAddress()),
			Length:      8,
		})
		if err != nil {
			return err
		}
		if len(reply) < 2 {
			return newError("abortBulkInTag", CodeProtocolError, "short CHECK_ABORT_BULK_IN_STATUS reply")
		}
		switch reply[0] {
		case statusSuccess:
			return nil
		case statusPending:
			if reply[1]&0x01 != 0 {
				if err := d.drainBulkIn(ctx); err != nil {
					return err
				}
			}
			return newError("abortBulkInTag", CodeTimedOut, "abort still pending")
		default:
			return backoff.Permanent(newError("abortBulkInTag", CodeDenied, "CHECK_ABORT_BULK_IN_STATUS failed"))
		}
	}, pollBackoff())
}

// drainBulkIn reads max-packet-size buffers from bulk-in until a short
// packet arrives or maxAbortDrainIterations is exhausted, per usbtmc.c's
// abort-bulk-in drain loop.
func (d *Device) drainBulkIn(ctx context.Context) error {
	mps := d.transport.BulkInMaxPacketSize()
	if mps <= 0 {
		mps = bulkSize
	}
	buf := make([]byte, mps)
	for i := 0; i < maxAbortDrainIterations; i++ {
		n, err := d.transport.ReadBulkIn(ctx, buf)
		if err != nil {
			return err
		}
		if n < mps {
			return nil
		}
	}
	return newError("drainBulkIn", CodeTimedOut, "bulk-in did not drain within the iteration bound")
}

// Clear runs the INITIATE_CLEAR + CHECK_CLEAR_STATUS sequence (spec.md
// §4.5): drain bulk-in while the device is still emitting, then clear the
// bulk-out halt on success.
func (d *Device) Clear(ctx context.Context) error {
	reply, err := d.transport.Control(ctx, ControlRequest{
		RequestType: bmReqClassInterfaceIn,
		Request:     reqInitiateClear,
		Length:      1,
	})
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != statusSuccess {
		return newError("Clear", CodeDenied, "INITIATE_CLEAR was not accepted")
	}

	err = backoff.Retry(func() error {
		reply, err := d.transport.Control(ctx, ControlRequest{
			RequestType: bmReqClassInterfaceIn,
			Request:     reqCheckClearStatus,
			Length:      2,
		})
		if err != nil {
			return err
		}
		if len(reply) < 1 {
			return newError("Clear", CodeProtocolError, "short CHECK_CLEAR_STATUS reply")
		}
		switch reply[0] {
		case statusSuccess:
			return nil
		case statusPending:
			if len(reply) > 1 && reply[1] != 0 {
				if _, err := d.transport.ReadBulkIn(ctx, make([]byte, d.transport.BulkInMaxPacketSize())); err != nil {
					return err
				}
			}
			return newError("Clear", CodeTimedOut, "clear still pending")
		default:
			return backoff.Permanent(newError("Clear", CodeDenied, "CHECK_CLEAR_STATUS failed"))
		}
	}, pollBackoff())
	if err != nil {
		return err
	}
	return d.transport.ClearHalt(d.transport.BulkOutAddress())
}

// ReadStatusByte implements READ_STATUS_BYTE (spec.md §4.5): if h already
// has a latched SRQ byte it is returned and cleared; otherwise the
// interrupt tag is advanced and READ_STATUS_BYTE is sent over the control
// pipe. When an interrupt-in endpoint is present, the byte then delivered
// on it is returned; if none arrives within the timeout, or there is no
// interrupt-in endpoint, byte 2 of the control reply is returned.
func (h *Handle) ReadStatusByte(ctx context.Context) (byte, error) {
	d := h.dev
	if err := d.checkZombie(); err != nil {
		return 0, err
	}
	if b, ok := h.takeSRQ(); ok {
		return b, nil
	}

	tag := d.intTags.next()
	reply, err := d.transport.Control(ctx, ControlRequest{
		RequestType: bmReqClassInterfaceIn,
		Request:     req488ReadStatusByte,
		Value:       uint16(tag),
		Length:      3,
	})
	if err != nil {
		return 0, err
	}
	if len(reply) < 3 || reply[0] != statusSuccess {
		return 0, newError("ReadStatusByte", CodeDenied, "READ_STATUS_BYTE was not accepted")
	}

	if _, ok := d.transport.InterruptIn(); ok {
		if d.interrupt != nil {
			notify, err := d.interrupt.waitStatus(ctx, d.Timeout())
			if err == nil {
				return notify, nil
			}
		}
	}
	return reply[2], nil
}

// RENControl implements REN_CONTROL; it requires the USB488 "simple"
// capability.
func (d *Device) RENControl(ctx context.Context, enable bool) error {
	if !d.Capabilities().HasSimple() {
		return newError("RENControl", CodeInvalidArgument, "device does not advertise the USB488 simple capability")
	}
	var v uint16
	if enable {
		v = 1
	}
	return d.simpleRequest(ctx, "RENControl", req488RenControl, v)
}

// GotoLocal implements GOTO_LOCAL; it requires the USB488 "simple"
// capability.
func (d *Device) GotoLocal(ctx context.Context) error {
	if !d.Capabilities().HasSimple() {
		return newError("GotoLocal", CodeInvalidArgument, "device does not advertise the USB488 simple capability")
	}
	return d.simpleRequest(ctx, "GotoLocal", req488GotoLocal, 0)
}

// LocalLockout implements LOCAL_LOCKOUT; it requires the USB488 "simple"
// capability.
func (d *Device) LocalLockout(ctx context.Context) error {
	if !d.Capabilities().HasSimple() {
		return newError("LocalLockout", CodeInvalidArgument, "device does not advertise the USB488 simple capability")
	}
	return d.simpleRequest(ctx, "LocalLockout", req488LocalLockout, 0)
}

func (d *Device) simpleRequest(ctx context.Context, op string, request byte, value uint16) error {
	reply, err := d.transport.Control(ctx, ControlRequest{
		RequestType: bmReqClassInterfaceIn,
		Request:     request,
		Value:       value,
		Length:      1,
	})
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != statusSuccess {
		return newErrorf(op, CodeDenied, "%s was not accepted", op)
	}
	return nil
}

// Trigger implements the USB488 TRIGGER message: a bulk-out frame with
// MsgID=128 and a fresh tag.
func (d *Device) Trigger(ctx context.Context) error {
	if !d.Capabilities().HasTrigger() {
		return newError("Trigger", CodeInvalidArgument, "device does not advertise the USB488 trigger capability")
	}
	tag := d.bulkTags.next()
	hdr := triggerHeader(tag)
	return d.writeFrame(ctx, padded(hdr[:]))
}

// IndicatorPulse makes the device flash its status indicator.
func (d *Device) IndicatorPulse(ctx context.Context) error {
	reply, err := d.transport.Control(ctx, ControlRequest{
		RequestType: bmReqClassInterfaceIn,
		Request:     reqIndicatorPulse,
		Length:      1,
	})
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != statusSuccess {
		return newError("IndicatorPulse", CodeDenied, "INDICATOR_PULSE was not accepted")
	}
	return nil
}

// Control issues a raw control request directly against the transport, the
// CTRL_REQUEST escape hatch (spec.md §6 / original driver's
// USBTMC_IOCTL_CTRL_REQUEST) for class/vendor requests this package does
// not otherwise model.
func (d *Device) Control(ctx context.Context, req ControlRequest) ([]byte, error) {
	if err := d.checkZombie(); err != nil {
		return nil, err
	}
	return d.transport.Control(ctx, req)
}

// ClearOutHalt and ClearInHalt clear a pipe-halt condition without running
// the full CLEAR sequence.
func (d *Device) ClearOutHalt() error { return d.transport.ClearHalt(d.transport.BulkOutAddress()) }
func (d *Device) ClearInHalt() error  { return d.transport.ClearHalt(d.transport.BulkInAddress()) }

// SetOutHalt and SetInHalt force a pipe-halt condition, for exercising
// halt-recovery (spec.md scenario 5); they have no use outside tests.
func (d *Device) SetOutHalt() error { return d.transport.SetHalt(d.transport.BulkOutAddress()) }
func (d *Device) SetInHalt() error  { return d.transport.SetHalt(d.transport.BulkInAddress()) }
