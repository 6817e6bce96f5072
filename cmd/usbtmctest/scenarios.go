package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fatih/color"

	"github.com/GuidoKiener/linux-usbtmc"
)

type scenario struct {
	name string
	run  func(ctx context.Context, d *usbtmc.Device) error
}

var allScenarios = []scenario{
	{"latency", scenarioLatency},
	{"loopback", scenarioLoopback},
	{"srq", scenarioSRQ},
	{"cancel", scenarioCancel},
	{"halt-recovery", scenarioHaltRecovery},
	{"timeout-precision", scenarioTimeoutPrecision},
}

func runScenarios(c Config) error {
	ctx := context.Background()
	d, err := usbtmc.Open(ctx, usbtmc.GousbEnumerator{}, c.VID, c.PID, usbtmc.Config{
		Timeout: c.timeout(),
	})
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer d.Close()

	selected := allScenarios
	if c.Scenario != "" && c.Scenario != "all" {
		selected = nil
		for _, s := range allScenarios {
			if s.name == c.Scenario {
				selected = append(selected, s)
			}
		}
		if len(selected) == 0 {
			return fmt.Errorf("unknown scenario %q", c.Scenario)
		}
	}

	failures := 0
	for _, s := range selected {
		runCtx, cancel := context.WithTimeout(ctx, c.timeout()*4)
		err := s.run(runCtx, d)
		cancel()
		if err != nil {
			color.Red("FAIL  %-20s %v", s.name, err)
			failures++
		} else {
			color.Green("PASS  %-20s", s.name)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failures, len(selected))
	}
	return nil
}

// scenarioLatency measures round-trip time for a short *IDN? query.
func scenarioLatency(ctx context.Context, d *usbtmc.Device) error {
	h := d.Open()
	defer h.Close()

	start := time.Now()
	if _, err := h.Write(ctx, []byte("*IDN?\n")); err != nil {
		return err
	}
	buf := make([]byte, 256)
	if _, err := h.Read(ctx, buf); err != nil {
		return err
	}
	elapsed := time.Since(start)
	if elapsed > d.Timeout() {
		return fmt.Errorf("round trip took %s, exceeding the configured timeout", elapsed)
	}
	return nil
}

// scenarioLoopback writes a large random payload to a loop-capable
// instrument (or a device running in self-test mode) and verifies the
// echoed bytes match, exercising chunking on both the write and read path.
func scenarioLoopback(ctx context.Context, d *usbtmc.Device) error {
	h := d.Open()
	defer h.Close()

	payload := make([]byte, 3*1024*1024)
	rand.New(rand.NewSource(1)).Read(payload)

	if err := h.AsyncWrite(ctx, payload, 0); err != nil {
		return err
	}
	got := make([]byte, len(payload))
	n, err := h.AsyncRead(ctx, got, 0)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return fmt.Errorf("read back %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(payload, got) {
		return fmt.Errorf("loopback payload mismatch")
	}
	return nil
}

// scenarioSRQ arms a service request and waits for it over the
// interrupt-in pipe.
func scenarioSRQ(ctx context.Context, d *usbtmc.Device) error {
	h := d.Open()
	defer h.Close()

	if _, err := h.Write(ctx, []byte("*SRE 255\n*OPC\n")); err != nil {
		return err
	}
	_, err := h.WaitSRQ(ctx, d.Timeout())
	return err
}

// scenarioCancel starts a large async write, cancels it mid-flight, and
// checks the device survives the cancellation cleanly.
func scenarioCancel(ctx context.Context, d *usbtmc.Device) error {
	h := d.Open()
	defer h.Close()

	payload := make([]byte, 8*1024*1024)
	go h.AsyncWrite(ctx, payload, usbtmc.FlagAsync)
	time.Sleep(5 * time.Millisecond)
	if err := h.CancelIO(ctx); err != nil {
		return err
	}
	if d.Zombie() {
		return fmt.Errorf("device went zombie after a plain cancel")
	}
	return nil
}

// scenarioHaltRecovery forces a bulk-out halt and verifies ClearOutHalt
// restores normal operation.
func scenarioHaltRecovery(ctx context.Context, d *usbtmc.Device) error {
	h := d.Open()
	defer h.Close()

	if err := d.SetOutHalt(); err != nil {
		return err
	}
	if err := d.ClearOutHalt(); err != nil {
		return err
	}
	_, err := h.Write(ctx, []byte("*CLS\n"))
	return err
}

// scenarioTimeoutPrecision checks that a read against an instrument with
// nothing to say times out close to the configured timeout, not
// immediately and not much later.
func scenarioTimeoutPrecision(ctx context.Context, d *usbtmc.Device) error {
	h := d.Open()
	defer h.Close()

	timeout := 200 * time.Millisecond
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := h.Read(readCtx, make([]byte, 16))
	elapsed := time.Since(start)
	if err == nil {
		return fmt.Errorf("expected a timeout, read succeeded")
	}
	if elapsed < timeout/2 {
		return fmt.Errorf("timed out too early: %s", elapsed)
	}
	if elapsed > 5*timeout {
		return fmt.Errorf("timed out too late: %s", elapsed)
	}
	return nil
}
