package usbtmc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchCapabilities(t *testing.T) {
	ft := newFakeTransport()
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		require.Equal(t, reqGetCapabilities, req.Request)
		buf := make([]byte, 24)
		buf[0] = statusSuccess
		buf[4] = 0x03        // interface capabilities
		buf[5] = 0x01        // device capabilities
		buf[14] = CapTrigger | CapSimple
		buf[15] = CapSR1
		return buf, nil
	}
	d := newTestDevice(t, ft)

	require.NoError(t, d.fetchCapabilities(context.Background()))
	caps := d.Capabilities()
	require.True(t, caps.HasTrigger())
	require.True(t, caps.HasSimple())
	require.True(t, caps.HasSR1())
	require.Equal(t, Coalesce(CapTrigger|CapSimple, CapSR1), caps.Coalesced)
}

func TestFetchCapabilitiesDenied(t *testing.T) {
	ft := newFakeTransport()
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		buf := make([]byte, 24)
		buf[0] = statusFailed
		return buf, nil
	}
	d := newTestDevice(t, ft)
	err := d.fetchCapabilities(context.Background())
	require.ErrorIs(t, err, ErrDenied)
}

func TestAbortBulkOutNothingInProgress(t *testing.T) {
	ft := newFakeTransport()
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		require.Equal(t, reqInitiateAbortBulkOut, req.Request)
		return []byte{statusFailed}, nil
	}
	d := newTestDevice(t, ft)
	require.NoError(t, d.AbortBulkOut(context.Background()))
}

func TestAbortBulkOutSucceedsAfterPending(t *testing.T) {
	ft := newFakeTransport()
	checkCalls := 0
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		switch req.Request {
		case reqInitiateAbortBulkOut:
			return []byte{statusSuccess}, nil
		case reqCheckAbortBulkOutStatus:
			checkCalls++
			if checkCalls < 2 {
				return []byte{statusPending}, nil
			}
			return []byte{statusSuccess}, nil
		}
		t.Fatalf("unexpected request %d", req.Request)
		return nil, nil
	}
	d := newTestDevice(t, ft)
	require.NoError(t, d.AbortBulkOut(context.Background()))
	require.Equal(t, 2, checkCalls)
	require.Contains(t, ft.clearedHalts, d.transport.BulkOutAddress())
}

func TestAbortBulkOutTagMismatchRejected(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	d.lastWriteTag = 5
	err := d.AbortBulkOutTag(context.Background(), 9)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRENControlRequiresSimple(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	err := d.RENControl(context.Background(), true)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRENControlWithSimpleCapability(t *testing.T) {
	ft := newFakeTransport()
	ft.controlFunc = func(req ControlRequest) ([]byte, error) {
		require.Equal(t, req488RenControl, req.Request)
		return []byte{statusSuccess}, nil
	}
	d := newTestDevice(t, ft)
	d.errMu.Lock()
	d.caps.USB488Interface = CapSimple
	d.errMu.Unlock()

	require.NoError(t, d.RENControl(context.Background(), true))
}

func TestTriggerRequiresCapability(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	err := d.Trigger(context.Background())
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTriggerWritesHeader(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(t, ft)
	d.errMu.Lock()
	d.caps.USB488Interface = CapTrigger
	d.errMu.Unlock()

	require.NoError(t, d.Trigger(context.Background()))
	require.Len(t, ft.outFrames, 1)
	require.Equal(t, msgTrigger, ft.outFrames[0][0])
}
