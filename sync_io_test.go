package usbtmc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, ft *fakeTransport) *Device {
	t.Helper()
	d := NewDevice(ft, 0x1234, 0x5678, Config{IOBufferSize: minIOBufferSize})
	return d
}

func TestHandleWriteChunksAndSetsEOM(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	h := d.Open()

	payload := make([]byte, 600) // chunkLen = 512-12 = 500, so 2 chunks
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := h.Write(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Len(t, ft.outFrames, 2)

	last := ft.outFrames[len(ft.outFrames)-1]
	require.NotZero(t, last[8]&attrEOM, "EOM must be set on the final chunk")

	first := ft.outFrames[0]
	require.Zero(t, first[8]&attrEOM, "EOM must not be set on a non-final chunk")
}

func TestHandleWriteNoEOMWhenDisabled(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	d.SetEOMEnable(false)
	h := d.Open()

	_, err := h.Write(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.Len(t, ft.outFrames, 1)
	require.Zero(t, ft.outFrames[0][8]&attrEOM)
}

func TestHandleWriteZombieFailsFast(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	d.markZombie()
	h := d.Open()

	_, err := h.Write(context.Background(), []byte("hi"))
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestHandleWriteAutoAbortSkipsCanceledAndNoDevice(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = ErrNoDevice
	d := newTestDevice(t, ft)
	d.SetAutoAbort(true)
	h := d.Open()

	var abortCalled bool
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		if req.Request == reqInitiateAbortBulkOut {
			abortCalled = true
			return []byte{statusFailed}, nil
		}
		return []byte{statusSuccess}, nil
	}

	_, err := h.Write(context.Background(), []byte("hi"))
	require.ErrorIs(t, err, ErrNoDevice)
	require.False(t, abortCalled, "AutoAbort must not fire when the device is gone")

	ft.writeErr = ErrCanceled
	_, err = h.Write(context.Background(), []byte("hi"))
	require.ErrorIs(t, err, ErrCanceled)
	require.False(t, abortCalled, "AutoAbort must not fire for a canceled write")
}

func TestHandleWriteAutoAbortFiresOnOtherErrors(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = ErrIOError
	d := newTestDevice(t, ft)
	d.SetAutoAbort(true)
	h := d.Open()

	var abortCalled bool
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		if req.Request == reqInitiateAbortBulkOut {
			abortCalled = true
			return []byte{statusFailed}, nil
		}
		return []byte{statusSuccess}, nil
	}

	_, err := h.Write(context.Background(), []byte("hi"))
	require.ErrorIs(t, err, ErrIOError)
	require.True(t, abortCalled, "AutoAbort must fire for a non-canceled, non-no-device error")
}

func TestHandleReadStandardSingleChunk(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	h := d.Open()

	// The device will issue a REQUEST_DEV_DEP_MSG_IN with tag 1 (first
	// allocated tag); queue a matching DEV_DEP_MSG_IN response with EOM set.
	resp := append(bulkOutHeaderFor(msgDevDepMsgIn, 1, 5, true), []byte("hello")...)
	ft.queueRead(resp, nil)

	buf := make([]byte, 5)
	n, err := h.Read(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

// bulkOutHeaderFor builds a raw 12-byte header for an arbitrary msgID,
// used to construct synthetic bulk-in responses in tests.
func bulkOutHeaderFor(msgID, tag byte, payloadLen int, eom bool) []byte {
	h := bulkOutHeader(tag, payloadLen, eom)
	h[0] = msgID
	out := make([]byte, headerLen)
	copy(out, h[:])
	return out
}
