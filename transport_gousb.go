package usbtmc

import (
	"context"
	"strings"

	"github.com/google/gousb"
)

// Standard USB requests used to drive pipe-halt recovery (scenario 5) and
// ClearHalt as part of the abort/clear control sequences.
const (
	stdRequestClearFeature = 1
	stdRequestSetFeature   = 3
	stdFeatureEndpointHalt = 0

	bmRequestTypeStdEndpointOut = 0x02 // host-to-device, standard, endpoint recipient
)

// gousbTransport is the Transport implementation that talks to real
// hardware through github.com/google/gousb, grounded directly on
// nasa-jpl-golaborate/usbtmc/usbtmc.go's NewUSBDevice and
// cmd/ldctest/main.go's endpoint-acquisition sequence.
type gousbTransport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	iface  *gousb.Interface
	closer func()

	bulkIn  *gousb.InEndpoint
	bulkOut *gousb.OutEndpoint
	intIn   *gousb.InEndpoint

	bulkInAddr  byte
	bulkOutAddr byte
}

// GousbEnumerator is the Enumerator backed by github.com/google/gousb.
// Device enumeration beyond "open this VID/PID and claim its default
// interface" stays out of scope: this type does not probe the bus for
// TMC-class devices, it only opens the one the caller names.
type GousbEnumerator struct{}

// Open opens the device at vid/pid, claims its default interface, and
// discovers its bulk-in/bulk-out/interrupt-in endpoints by transfer type
// and direction, mirroring usbtmc_probe's endpoint-discovery loop.
func (GousbEnumerator) Open(vid, pid uint16) (Transport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, wrapError("Open", CodeNoDevice, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, newErrorf("Open", CodeNoDevice, "no device matching vid=0x%04x pid=0x%04x", vid, pid)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, wrapError("Open", CodeIOError, err)
	}
	iface, closer, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, wrapError("Open", CodeIOError, err)
	}

	t := &gousbTransport{ctx: ctx, dev: dev, iface: iface, closer: closer}
	if err := t.discoverEndpoints(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *gousbTransport) discoverEndpoints() error {
	var bulkInNum, bulkOutNum, intInNum int
	haveBulkIn, haveBulkOut, haveIntIn := false, false, false

	for addr, desc := range t.iface.Setting.Endpoints {
		switch {
		case desc.TransferType == gousb.TransferTypeBulk && desc.Direction == gousb.EndpointDirectionIn:
			bulkInNum, haveBulkIn = desc.Number, true
			t.bulkInAddr = byte(addr)
		case desc.TransferType == gousb.TransferTypeBulk && desc.Direction == gousb.EndpointDirectionOut:
			bulkOutNum, haveBulkOut = desc.Number, true
			t.bulkOutAddr = byte(addr)
		case desc.TransferType == gousb.TransferTypeInterrupt && desc.Direction == gousb.EndpointDirectionIn:
			intInNum, haveIntIn = desc.Number, true
		}
	}
	if !haveBulkIn || !haveBulkOut {
		return newError("discoverEndpoints", CodeNoDevice, "TMC interface is missing a bulk-in or bulk-out endpoint")
	}

	in, err := t.iface.InEndpoint(bulkInNum)
	if err != nil {
		return wrapError("discoverEndpoints", CodeIOError, err)
	}
	out, err := t.iface.OutEndpoint(bulkOutNum)
	if err != nil {
		return wrapError("discoverEndpoints", CodeIOError, err)
	}
	t.bulkIn, t.bulkOut = in, out

	if haveIntIn {
		intIn, err := t.iface.InEndpoint(intInNum)
		if err != nil {
			return wrapError("discoverEndpoints", CodeIOError, err)
		}
		t.intIn = intIn
	}
	return nil
}

func (t *gousbTransport) WriteBulkOut(ctx context.Context, p []byte) (int, error) {
	n, err := t.bulkOut.WriteContext(ctx, p)
	if err != nil {
		return n, wrapError("WriteBulkOut", classifyTransportError(err), err)
	}
	return n, nil
}

func (t *gousbTransport) ReadBulkIn(ctx context.Context, p []byte) (int, error) {
	n, err := t.bulkIn.ReadContext(ctx, p)
	if err != nil {
		return n, wrapError("ReadBulkIn", classifyTransportError(err), err)
	}
	return n, nil
}

func (t *gousbTransport) Control(ctx context.Context, req ControlRequest) ([]byte, error) {
	if req.RequestType&0x80 != 0 {
		buf := make([]byte, req.Length)
		n, err := t.dev.Control(req.RequestType, req.Request, req.Value, req.Index, buf)
		if err != nil {
			return nil, wrapError("Control", classifyTransportError(err), err)
		}
		return buf[:n], nil
	}
	_, err := t.dev.Control(req.RequestType, req.Request, req.Value, req.Index, req.Data)
	if err != nil {
		return nil, wrapError("Control", classifyTransportError(err), err)
	}
	return nil, nil
}

func (t *gousbTransport) BulkOutMaxPacketSize() int { return t.bulkOut.Desc.MaxPacketSize }
func (t *gousbTransport) BulkInMaxPacketSize() int  { return t.bulkIn.Desc.MaxPacketSize }
func (t *gousbTransport) BulkOutAddress() byte      { return t.bulkOutAddr }
func (t *gousbTransport) BulkInAddress() byte       { return t.bulkInAddr }

func (t *gousbTransport) InterruptIn() (InterruptSource, bool) {
	if t.intIn == nil {
		return nil, false
	}
	return &gousbInterruptSource{ep: t.intIn}, true
}

func (t *gousbTransport) ClearHalt(endpointAddr byte) error {
	_, err := t.dev.Control(bmRequestTypeStdEndpointOut, stdRequestClearFeature, stdFeatureEndpointHalt, uint16(endpointAddr), nil)
	if err != nil {
		return wrapError("ClearHalt", CodeIOError, err)
	}
	return nil
}

func (t *gousbTransport) SetHalt(endpointAddr byte) error {
	_, err := t.dev.Control(bmRequestTypeStdEndpointOut, stdRequestSetFeature, stdFeatureEndpointHalt, uint16(endpointAddr), nil)
	if err != nil {
		return wrapError("SetHalt", CodeIOError, err)
	}
	return nil
}

func (t *gousbTransport) Close() error {
	if t.closer != nil {
		t.closer()
	}
	var err error
	if t.dev != nil {
		err = t.dev.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return err
}

// gousbInterruptSource adapts a gousb InEndpoint to InterruptSource.
type gousbInterruptSource struct {
	ep *gousb.InEndpoint
}

func (s *gousbInterruptSource) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, s.ep.Desc.MaxPacketSize)
	n, err := s.ep.ReadContext(ctx, buf)
	if err != nil {
		return nil, wrapError("InterruptIn.Read", classifyTransportError(err), err)
	}
	return buf[:n], nil
}

// classifyTransportError maps a gousb-level transfer error to one of this
// package's error codes so upstream engines do not need to know about
// libusb status strings.
func classifyTransportError(err error) ErrorCode {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "pipe", "stall", "halt"):
		return CodePipeHalted
	case containsAny(msg, "no device", "disconnected", "not found"):
		return CodeNoDevice
	case containsAny(msg, "timeout", "timed out"):
		return CodeTimedOut
	case containsAny(msg, "cancel", "interrupted"):
		return CodeCanceled
	default:
		return CodeIOError
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
