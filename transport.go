package usbtmc

import "context"

// ControlRequest is a raw USB control transfer, mirroring the CTRL_REQUEST
// escape-hatch operation: bmRequestType/bRequest/wValue/wIndex address the
// request, Data carries an outgoing payload (host-to-device) and is ignored
// for device-to-host requests, where the response is returned separately.
type ControlRequest struct {
	RequestType byte
	Request     byte
	Value       uint16
	Index       uint16
	Length      uint16
	Data        []byte
}

// InterruptSource is the interrupt-in pipe, read continuously by the
// interrupt/SRQ dispatcher. Each call blocks until one interrupt-in packet
// arrives, the context is canceled, or the pipe errors (e.g. device gone).
type InterruptSource interface {
	Read(ctx context.Context) ([]byte, error)
}

// Transport is the thin interface the endpoint facade is built on: the
// physical submission of bulk and control transfers to the three USBTMC
// endpoints (bulk-in, bulk-out, interrupt-in) and the default control pipe.
// Device enumeration/probing, sysfs plumbing, and the actual URB submission
// primitive live on the other side of this interface and are out of scope
// for this package; gousbTransport (transport_gousb.go) is the one shipped
// implementation that reaches real hardware.
type Transport interface {
	// WriteBulkOut writes p to the bulk-out endpoint, looping internally on
	// partial writes, and returns the number of bytes actually written.
	WriteBulkOut(ctx context.Context, p []byte) (int, error)

	// ReadBulkIn reads up to len(p) bytes from the bulk-in endpoint into p.
	ReadBulkIn(ctx context.Context, p []byte) (int, error)

	// Control issues a control transfer on the default pipe. For
	// device-to-host requests the returned slice holds up to req.Length
	// bytes of response; for host-to-device requests it is empty.
	Control(ctx context.Context, req ControlRequest) ([]byte, error)

	// BulkOutMaxPacketSize and BulkInMaxPacketSize report the wMaxPacketSize
	// of the respective endpoints. BulkInMaxPacketSize sizes the abort and
	// clear drain reads; the write paths do not consult BulkOutMaxPacketSize.
	BulkOutMaxPacketSize() int
	BulkInMaxPacketSize() int

	// InterruptIn returns the interrupt-in source and whether one is
	// present; per the USB488 subclass spec it is optional.
	InterruptIn() (InterruptSource, bool)

	// BulkOutAddress and BulkInAddress report the endpoint addresses used
	// to address ABORT/CLEAR_FEATURE control requests at a specific pipe.
	BulkOutAddress() byte
	BulkInAddress() byte

	// ClearHalt and SetHalt issue CLEAR_FEATURE/SET_FEATURE(ENDPOINT_HALT)
	// standard requests against the given endpoint address. SetHalt exists
	// to drive halt-recovery testing (spec.md scenario 5).
	ClearHalt(endpointAddr byte) error
	SetHalt(endpointAddr byte) error

	// Close releases the interface and device handle.
	Close() error
}

// Enumerator opens a Transport for a given VID/PID pair. Device
// enumeration/probing by the host USB stack is explicitly out of scope for
// this package's core; Enumerator is the seam a caller supplies to plug in
// whatever probing mechanism it has (gousb's, or a fake for tests).
type Enumerator interface {
	Open(vid, pid uint16) (Transport, error)
}
