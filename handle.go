package usbtmc

import "sync"

// Handle is the per-open-file state multiplexed over a single Device:
// spec.md §3's "Per-handle state" — a latched SRQ byte, an SRQ-asserted
// flag, and a closing flag, guarded by the handle's own mutex.
type Handle struct {
	dev *Device

	mu          sync.Mutex
	srqByte     byte
	srqAsserted bool
	closing     bool

	srqCh chan struct{} // replaced on every SRQ assertion to wake WaitSRQ
}

// Open creates a new Handle on dev, registering it so the interrupt
// dispatcher will fan SRQ notifications out to it.
func (d *Device) Open() *Handle {
	h := &Handle{dev: d, srqCh: make(chan struct{})}
	d.handlesMu.Lock()
	d.handles[h] = struct{}{}
	d.handlesMu.Unlock()
	return h
}

// latchSRQ records an SRQ byte for this handle and wakes any WaitSRQ call.
// Called from the interrupt dispatcher after it has released the device's
// handle-list lock; only h.mu is held while the latch is updated.
func (h *Handle) latchSRQ(b byte) {
	h.mu.Lock()
	h.srqByte = b
	h.srqAsserted = true
	old := h.srqCh
	h.srqCh = make(chan struct{})
	h.mu.Unlock()
	close(old)
}

// takeSRQ returns the latched SRQ byte and clears the latch, reporting
// whether one was present. Used by READ_STATUS_BYTE (spec.md §4.5).
func (h *Handle) takeSRQ() (byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.srqAsserted {
		return 0, false
	}
	b := h.srqByte
	h.srqAsserted = false
	return b, true
}

func (h *Handle) srqSignal() (ch <-chan struct{}, alreadyAsserted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.srqCh, h.srqAsserted
}

// Flush marks the handle closing, quiesces in-flight I/O belonging to the
// device (kills submitted URBs, scuttles the read completion queue, clears
// aggregate status), and wakes SRQ waiters — spec.md §4.7's Flush state
// machine. It must be called before Close.
func (h *Handle) Flush() {
	h.mu.Lock()
	h.closing = true
	old := h.srqCh
	h.srqCh = make(chan struct{})
	h.mu.Unlock()
	close(old)

	h.dev.writeAnchor.Kill()
	h.dev.readSubmit.Kill()
	h.dev.readComplete.Scuttle()

	h.dev.errMu.Lock()
	h.dev.outTransferSize = 0
	h.dev.outStatus = nil
	h.dev.inTransferSize = 0
	h.dev.inStatus = nil
	h.dev.errMu.Unlock()
}

// Close removes the handle from its device's handle list. Callers should
// call Flush first to quiesce in-flight I/O.
func (h *Handle) Close() error {
	h.dev.handlesMu.Lock()
	delete(h.dev.handles, h)
	h.dev.handlesMu.Unlock()
	return nil
}

// Closing reports whether Flush has been called on this handle.
func (h *Handle) Closing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Device returns the Handle's parent Device.
func (h *Handle) Device() *Device {
	return h.dev
}
