package usbtmc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsyncWriteBlockingAccumulatesTransferSize(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	h := d.Open()

	payload := make([]byte, bulkSize*2+10)
	err := h.AsyncWrite(context.Background(), payload, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(len(payload)), d.OutTransferSize())
}

func TestAsyncWriteAppendDoesNotResetCounter(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	h := d.Open()

	require.NoError(t, h.AsyncWrite(context.Background(), []byte("abc"), FlagAppend))
	require.NoError(t, h.AsyncWrite(context.Background(), []byte("defgh"), FlagAppend))
	require.Equal(t, uint64(8), d.OutTransferSize())
}

func TestAsyncWriteZombieFailsFast(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	d.markZombie()
	h := d.Open()

	err := h.AsyncWrite(context.Background(), []byte("x"), 0)
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestAsyncWriteAsyncReturnsWouldBlockWhenPoolFull(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	h := d.Open()

	for i := 0; i < maxInFlight; i++ {
		require.NoError(t, d.writeSem.Acquire(context.Background()))
	}

	err := h.AsyncWrite(context.Background(), []byte("x"), FlagAsync)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestAsyncWriteBlockingWaitsInsteadOfFailing(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	h := d.Open()

	for i := 0; i < maxInFlight; i++ {
		require.NoError(t, d.writeSem.Acquire(context.Background()))
	}
	go func() {
		d.writeSem.Release()
	}()

	err := h.AsyncWrite(context.Background(), []byte("x"), 0)
	require.NoError(t, err)
}

func TestAsyncWriteAutoAbortSkipsCanceledAndNoDevice(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = ErrCanceled
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

	err := h.AsyncWrite(context.Background(), []byte("x"), 0)
	require.ErrorIs(t, err, ErrCanceled)
	require.False(t, abortCalled, "AutoAbort must not fire for a canceled write")

	ft.writeErr = ErrNoDevice
	err = h.AsyncWrite(context.Background(), []byte("x"), 0)
	require.ErrorIs(t, err, ErrNoDevice)
	require.False(t, abortCalled, "AutoAbort must not fire when the device is gone")
}

func TestAsyncWriteAutoAbortFiresOnOtherErrors(t *testing.T) {
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

	err := h.AsyncWrite(context.Background(), []byte("x"), 0)
	require.ErrorIs(t, err, ErrIOError)
	require.True(t, abortCalled, "AutoAbort must fire for a non-canceled, non-no-device error")
}

func TestCancelIORunsAbortSequences(t *testing.T) {
	ft := newFakeTransport()
	var outAborted, inAborted bool
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		switch req.Request {
		case reqInitiateAbortBulkOut:
			outAborted = true
			return []byte{statusFailed}, nil
		case reqInitiateAbortBulkIn:
			inAborted = true
			return []byte{statusFailed}, nil
		}
		return []byte{statusSuccess}, nil
	}
	d := newTestDevice(t, ft)
	h := d.Open()

	require.NoError(t, h.CancelIO(context.Background()))
	require.True(t, outAborted)
	require.True(t, inAborted)
}
