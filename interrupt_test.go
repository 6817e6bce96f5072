package usbtmc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeInterruptSource delivers a fixed sequence of packets then blocks
// until ctx is done, mimicking a quiet interrupt-in pipe.
type fakeInterruptSource struct {
	packets [][]byte
	idx     int
}

func (f *fakeInterruptSource) Read(ctx context.Context) ([]byte, error) {
	if f.idx < len(f.packets) {
		p := f.packets[f.idx]
		f.idx++
		return p, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInterruptDispatcherLatchesSRQ(t *testing.T) {
	ft := newFakeTransport()
	src := &fakeInterruptSource{packets: [][]byte{{0x81, 0x55}}}
	ft.intSrc, ft.haveInt = src, true

	d := newTestDevice(t, ft)
	d.interrupt = newInterruptDispatcher(d, src)
	d.interrupt.start()
	defer d.interrupt.stop()

	h := d.Open()

	deadline := time.After(time.Second)
	for {
		if b, ok := h.takeSRQ(); ok {
			require.Equal(t, byte(0x55), b)
			return
		}
		select {
		case <-deadline:
			t.Fatal("SRQ was never latched")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestInterruptDispatcherPlainStatusDoesNotLatchSRQ(t *testing.T) {
	ft := newFakeTransport()
	src := &fakeInterruptSource{packets: [][]byte{{0x82, 0x10}}}
	ft.intSrc, ft.haveInt = src, true

	d := newTestDevice(t, ft)
	d.interrupt = newInterruptDispatcher(d, src)
	d.interrupt.start()
	defer d.interrupt.stop()

	h := d.Open()
	time.Sleep(20 * time.Millisecond)
	_, ok := h.takeSRQ()
	require.False(t, ok, "plain status notification must not latch SRQ")
}
