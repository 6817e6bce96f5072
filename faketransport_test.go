package usbtmc

import (
	"context"
	"sync"
)

// fakeTransport is a hand-written Transport stand-in for engine tests, in
// the spirit of comm_test.go's hand-rolled fakes: no generated mocks.
type fakeTransport struct {
	mu sync.Mutex

	outFrames [][]byte
	writeErr  error

	inQueue []fakeInPacket
	readErr error

	controlFunc func(ControlRequest) ([]byte, error)

	bulkOutMPS, bulkInMPS   int
	bulkOutAddr, bulkInAddr byte

	intSrc  InterruptSource
	haveInt bool

	clearedHalts []byte
	setHalts     []byte

	closed bool
}

type fakeInPacket struct {
	data []byte
	err  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{bulkOutMPS: 64, bulkInMPS: 64}
}

func (f *fakeTransport) WriteBulkOut(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.outFrames = append(f.outFrames, cp)
	return len(p), nil
}

func (f *fakeTransport) queueRead(data []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inQueue = append(f.inQueue, fakeInPacket{data: data, err: err})
}

func (f *fakeTransport) ReadBulkIn(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inQueue) == 0 {
		if f.readErr != nil {
			return 0, f.readErr
		}
		return 0, newError("fakeTransport.ReadBulkIn", CodeTimedOut, "no queued packet")
	}
	pkt := f.inQueue[0]
	f.inQueue = f.inQueue[1:]
	if pkt.err != nil {
		return 0, pkt.err
	}
	n := copy(p, pkt.data)
	return n, nil
}

func (f *fakeTransport) Control(ctx context.Context, req ControlRequest) ([]byte, error) {
	if f.controlFunc != nil {
		return f.controlFunc(req)
	}
	return nil, nil
}

func (f *fakeTransport) BulkOutMaxPacketSize() int { return f.bulkOutMPS }
func (f *fakeTransport) BulkInMaxPacketSize() int  { return f.bulkInMPS }
func (f *fakeTransport) BulkOutAddress() byte      { return f.bulkOutAddr }
func (f *fakeTransport) BulkInAddress() byte       { return f.bulkInAddr }

func (f *fakeTransport) InterruptIn() (InterruptSource, bool) {
	return f.intSrc, f.haveInt
}

func (f *fakeTransport) ClearHalt(addr byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedHalts = append(f.clearedHalts, addr)
	return nil
}

func (f *fakeTransport) SetHalt(addr byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setHalts = append(f.setHalts, addr)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
