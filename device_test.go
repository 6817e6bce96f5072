package usbtmc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClampIOBufferSize(t *testing.T) {
	require.Equal(t, defaultIOBufferSize, clampIOBufferSize(0))
	require.Equal(t, minIOBufferSize, clampIOBufferSize(10))
	require.Equal(t, maxIOBufferSize, clampIOBufferSize(maxIOBufferSize*2))
	require.Equal(t, 1024, clampIOBufferSize(1027)) // rounds down to multiple of 4
}

func TestClampTimeout(t *testing.T) {
	require.Equal(t, defaultTimeout, clampTimeout(0))
	require.Equal(t, minTimeout, clampTimeout(time.Millisecond))
	require.Equal(t, maxTimeout, clampTimeout(time.Hour))
}

func TestDeviceDefaultsEOMEnabled(t *testing.T) {
	d := newTestDevice(t, newFakeTransport())
	require.True(t, d.EOMEnable())
}

func TestMarkZombieWakesWaiters(t *testing.T) {
	d := newTestDevice(t, newFakeTransport())
	sig := d.bulkInSignal()
	d.markZombie()
	select {
	case <-sig:
	default:
		t.Fatal("markZombie did not close the bulk-in signal channel")
	}
	require.True(t, d.Zombie())
}

func TestOpenHandleCount(t *testing.T) {
	d := newTestDevice(t, newFakeTransport())
	require.Equal(t, 0, d.OpenHandleCount())
	h1 := d.Open()
	h2 := d.Open()
	require.Equal(t, 2, d.OpenHandleCount())
	h1.Close()
	require.Equal(t, 1, d.OpenHandleCount())
	h2.Close()
	require.Equal(t, 0, d.OpenHandleCount())
}

func TestHandleFlushClearsStatus(t *testing.T) {
	d := newTestDevice(t, newFakeTransport())
	h := d.Open()
	d.errMu.Lock()
	d.outTransferSize = 42
	d.outStatus = ErrIOError
	d.errMu.Unlock()

	h.Flush()
	require.Equal(t, uint64(0), d.OutTransferSize())
	require.True(t, h.Closing())
}
