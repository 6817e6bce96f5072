// Package usbtmc implements the host side of a USB Test & Measurement
// Class (USBTMC 1.0 / USB488 subclass) driver: bulk message framing, tag
// management, a synchronous byte-stream I/O path, an asynchronous
// buffered I/O engine with cancellation, and the USB488 control
// sub-protocol (abort, clear, status byte, SRQ, trigger, REN/GTL/LLO).
//
// Device enumeration, sysfs-style attribute plumbing, char-device minor
// allocation, and the raw URB submission primitive are not this package's
// concern; they are reached through the Transport and Enumerator
// interfaces (transport.go), which transport_gousb.go implements against
// github.com/google/gousb for real hardware.
package usbtmc

import (
	"context"
	"sync"
	"time"

	"github.com/GuidoKiener/linux-usbtmc/internal/logging"
	"github.com/GuidoKiener/linux-usbtmc/internal/urbpool"
)

// Resource bounds shared by the async write and read engines: at most this
// many bulk transfers may be in flight, per direction, at once.
const maxInFlight = 16

// bulkSize is the size of each async engine transfer buffer, matching the
// original driver's BULKSIZE.
const bulkSize = 4096

// Defaults and clamps for the mutable device parameters (spec.md §3's
// "Mutable parameters" and usbtmc_probe's clamping of them).
const (
	defaultIOBufferSize = 4096
	minIOBufferSize     = 512
	maxIOBufferSize     = 256 * 1024

	defaultTimeout = 5 * time.Second
	minTimeout     = 500 * time.Millisecond
	maxTimeout     = 5 * time.Minute
)

// Device is the per-attached-instrument context: spec.md §3's "Device
// context". One Device multiplexes any number of Handles.
type Device struct {
	transport Transport
	log       *logging.Logger

	vid, pid uint16

	caps Capabilities

	paramMu         sync.RWMutex
	ioBufferSize    int
	timeout         time.Duration
	eomEnable       bool
	termChar        byte
	termCharEnabled bool
	autoAbort       bool
	quirk           QuirkPredicate

	bulkTags *bulkTagAllocator
	intTags  *interruptTagAllocator

	tagMu        sync.Mutex
	lastWriteTag byte
	lastReadTag  byte

	// ioMu is io_mutex: serializes user-initiated operations on the device.
	ioMu sync.Mutex

	// errMu is err_lock: protects the aggregate counters below, zombie,
	// and the handle list. Safe to take from a callback/goroutine context
	// — it is never held across a blocking wait.
	errMu           sync.Mutex
	outTransferSize uint64
	outStatus       error
	inTransferSize  uint64
	inStatus        error
	zombie          bool

	handlesMu sync.Mutex
	handles   map[*Handle]struct{}

	writeSem     *urbpool.Semaphore
	writeAnchor  *urbpool.Anchor
	readSem      *urbpool.Semaphore
	readSubmit   *urbpool.Anchor
	readComplete *urbpool.CompletionQueue
	waitBulkIn   chan struct{} // closed and replaced by signalBulkIn, which only markZombie calls

	waitBulkInMu sync.Mutex

	interrupt *interruptDispatcher

	closeOnce sync.Once
}

// Config configures a new Device at construction time; all fields are
// optional and fall back to the documented defaults.
type Config struct {
	// IOBufferSize is the classic-path chunk size, clamped to
	// [minIOBufferSize,maxIOBufferSize] and rounded down to a multiple of 4.
	IOBufferSize int

	// Timeout is the default blocking-operation timeout, clamped to
	// [minTimeout,maxTimeout].
	Timeout time.Duration

	// AutoAbort, when true, runs AbortBulkOut after a failed bulk-out
	// write in Write or AsyncWrite. Read failures do not trigger an abort.
	AutoAbort bool

	// Quirk decides whether the classic read path should use the
	// single-REQUEST multi-buffer behavior. Defaults to NoQuirk.
	Quirk QuirkPredicate

	// Logger overrides the package default logger.
	Logger *logging.Logger
}

// Open opens a device by VID/PID through enum and wraps it as a Device,
// issuing GET_CAPABILITIES to populate its capability bytes.
func Open(ctx context.Context, enum Enumerator, vid, pid uint16, cfg Config) (*Device, error) {
	t, err := enum.Open(vid, pid)
	if err != nil {
		return nil, err
	}
	d := newDevice(t, vid, pid, cfg)
	if err := d.fetchCapabilities(ctx); err != nil {
		d.log.Warn("GET_CAPABILITIES failed at open, continuing with zero capabilities", "err", err)
	}
	if in, ok := t.InterruptIn(); ok {
		d.interrupt = newInterruptDispatcher(d, in)
		d.interrupt.start()
	}
	return d, nil
}

// NewDevice wraps an already-open Transport as a Device without issuing
// any I/O, primarily for tests that supply a fake Transport.
func NewDevice(t Transport, vid, pid uint16, cfg Config) *Device {
	d := newDevice(t, vid, pid, cfg)
	if in, ok := t.InterruptIn(); ok {
		d.interrupt = newInterruptDispatcher(d, in)
		d.interrupt.start()
	}
	return d
}

func newDevice(t Transport, vid, pid uint16, cfg Config) *Device {
	quirk := cfg.Quirk
	if quirk == nil {
		quirk = NoQuirk
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	d := &Device{
		transport:    t,
		log:          logger,
		vid:          vid,
		pid:          pid,
		ioBufferSize: clampIOBufferSize(cfg.IOBufferSize),
		timeout:      clampTimeout(cfg.Timeout),
		eomEnable:    true,
		autoAbort:    cfg.AutoAbort,
		quirk:        quirk,
		bulkTags:     &bulkTagAllocator{},
		intTags:      newInterruptTagAllocator(),
		handles:      make(map[*Handle]struct{}),
		writeSem:     urbpool.NewSemaphore(maxInFlight),
		writeAnchor:  urbpool.NewAnchor(),
		readSem:      urbpool.NewSemaphore(maxInFlight),
		readSubmit:   urbpool.NewAnchor(),
		readComplete: urbpool.NewCompletionQueue(),
		waitBulkIn:   make(chan struct{}),
	}
	return d
}

func clampIOBufferSize(n int) int {
	if n <= 0 {
		n = defaultIOBufferSize
	}
	if n < minIOBufferSize {
		n = minIOBufferSize
	}
	if n > maxIOBufferSize {
		n = maxIOBufferSize
	}
	return n - (n % 4)
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = defaultTimeout
	}
	if d < minTimeout {
		d = minTimeout
	}
	if d > maxTimeout {
		d = maxTimeout
	}
	return d
}

// IOBufferSize returns the current classic-path chunk size.
func (d *Device) IOBufferSize() int {
	d.paramMu.RLock()
	defer d.paramMu.RUnlock()
	return d.ioBufferSize
}

// SetIOBufferSize updates the classic-path chunk size, clamping it per
// usbtmc_probe's rules.
func (d *Device) SetIOBufferSize(n int) {
	d.paramMu.Lock()
	defer d.paramMu.Unlock()
	d.ioBufferSize = clampIOBufferSize(n)
}

// Timeout returns the current default blocking-operation timeout.
func (d *Device) Timeout() time.Duration {
	d.paramMu.RLock()
	defer d.paramMu.RUnlock()
	return d.timeout
}

// SetTimeout updates the default blocking-operation timeout, clamping it
// to at least minTimeout per spec.md's GET_TIMEOUT/SET_TIMEOUT contract.
func (d *Device) SetTimeout(t time.Duration) {
	d.paramMu.Lock()
	defer d.paramMu.Unlock()
	d.timeout = clampTimeout(t)
}

// EOMEnable reports whether EOM is set on the final chunk of classic writes.
func (d *Device) EOMEnable() bool {
	d.paramMu.RLock()
	defer d.paramMu.RUnlock()
	return d.eomEnable
}

// SetEOMEnable toggles EOM on the final chunk of classic writes.
func (d *Device) SetEOMEnable(v bool) {
	d.paramMu.Lock()
	defer d.paramMu.Unlock()
	d.eomEnable = v
}

// TermChar returns the current termination character and whether it is
// enabled for classic reads.
func (d *Device) TermChar() (c byte, enabled bool) {
	d.paramMu.RLock()
	defer d.paramMu.RUnlock()
	return d.termChar, d.termCharEnabled
}

// SetTermChar configures the termination character used by classic reads.
func (d *Device) SetTermChar(c byte, enabled bool) {
	d.paramMu.Lock()
	defer d.paramMu.Unlock()
	d.termChar, d.termCharEnabled = c, enabled
}

// AutoAbort reports whether a failed bulk-out write triggers AbortBulkOut
// automatically; read failures never trigger an abort.
func (d *Device) AutoAbort() bool {
	d.paramMu.RLock()
	defer d.paramMu.RUnlock()
	return d.autoAbort
}

// SetAutoAbort toggles automatic abort-on-failure for bulk-out writes.
func (d *Device) SetAutoAbort(v bool) {
	d.paramMu.Lock()
	defer d.paramMu.Unlock()
	d.autoAbort = v
}

// Capabilities returns the device's coalesced USB488 capability set, as
// last fetched by GET_CAPABILITIES.
func (d *Device) Capabilities() Capabilities {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.caps
}

// Zombie reports whether the device has been marked gone. Write, Read,
// AsyncWrite, ReadAsyncStart, ReadStatusByte, WaitSRQ and Control fail
// immediately with no-device on a zombie device; the abort, clear, halt,
// REN/GTL/LLO, trigger and indicator-pulse operations do not check it.
func (d *Device) Zombie() bool {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.zombie
}

// markZombie sets the zombie flag, kills the write and read anchors (which
// wakes Anchor.Wait callers), scuttles the read completion queue and
// closes the bulk-in signal channel. Calls that check the flag afterwards
// fail with no-device; a ReadAsyncResult already blocked on the completion
// queue stays blocked until its context is done.
func (d *Device) markZombie() {
	d.errMu.Lock()
	d.zombie = true
	d.errMu.Unlock()
	d.writeAnchor.Kill()
	d.readSubmit.Kill()
	d.readComplete.Scuttle()
	d.signalBulkIn()
}

func (d *Device) checkZombie() error {
	if d.Zombie() {
		return newError("checkZombie", CodeNoDevice, "device is gone")
	}
	return nil
}

func (d *Device) signalBulkIn() {
	d.waitBulkInMu.Lock()
	close(d.waitBulkIn)
	d.waitBulkIn = make(chan struct{})
	d.waitBulkInMu.Unlock()
}

func (d *Device) bulkInSignal() <-chan struct{} {
	d.waitBulkInMu.Lock()
	defer d.waitBulkInMu.Unlock()
	return d.waitBulkIn
}

// OutTransferSize returns the cumulative bytes transferred by the async
// write engine in the current (non-APPEND) transfer.
func (d *Device) OutTransferSize() uint64 {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.outTransferSize
}

// InTransferSize returns the cumulative bytes transferred by the async
// read engine in the current transfer.
func (d *Device) InTransferSize() uint64 {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.inTransferSize
}

// OpenHandleCount returns the number of currently open Handles.
func (d *Device) OpenHandleCount() int {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	return len(d.handles)
}

// Close releases the device: it stops the interrupt dispatcher and closes
// the underlying transport. Callers must close every open Handle first.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.interrupt != nil {
			d.interrupt.stop()
		}
		err = d.transport.Close()
	})
	return err
}
