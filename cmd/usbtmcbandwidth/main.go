// Command usbtmcbandwidth drives sustained bulk writes through the
// asynchronous write engine and reports throughput. Opening the device is
// retried a bounded number of times; a device lost mid-run ends the run
// with an error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/theckman/yacspin"

	"github.com/GuidoKiener/linux-usbtmc"
)

func main() {
	vid := flag.Uint("vid", 0x1AB1, "instrument vendor ID")
	pid := flag.Uint("pid", 0x04CE, "instrument product ID")
	duration := flag.Duration("duration", 10*time.Second, "how long to sustain the transfer")
	chunk := flag.Int("chunk", 1024*1024, "bytes written per async write burst")
	flag.Parse()

	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " measuring USBTMC bulk throughput",
		SuffixAutoColon: true,
		ColorAll:        true,
		Colors:          []string{"fgYellow"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatalf("spinner: %v", err)
	}
	spinner.Start()
	defer spinner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), *duration+30*time.Second)
	defer cancel()

	d, err := openWithRetry(ctx, uint16(*vid), uint16(*pid))
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		log.Fatal(err)
	}
	defer d.Close()

	result, err := sustain(ctx, d, *duration, *chunk, spinner)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		log.Fatal(err)
	}

	spinner.StopMessage(fmt.Sprintf("%d bytes in %s (%.2f MB/s)",
		result.bytes, result.elapsed, result.megabytesPerSecond()))
	spinner.Stop()
}

type result struct {
	bytes   uint64
	elapsed time.Duration
}

func (r result) megabytesPerSecond() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.bytes) / (1024 * 1024) / r.elapsed.Seconds()
}

// openWithRetry retries opening the instrument against a transient
// enumeration failure (device still settling after a prior run's abort),
// bounded so a genuinely absent device fails promptly.
func openWithRetry(ctx context.Context, vid, pid uint16) (*usbtmc.Device, error) {
	var d *usbtmc.Device
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 20)
	err := backoff.Retry(func() error {
		dev, err := usbtmc.Open(ctx, usbtmc.GousbEnumerator{}, vid, pid, usbtmc.Config{})
		if err != nil {
			return err
		}
		d = dev
		return nil
	}, policy)
	return d, err
}

// sustain writes chunk-sized bursts through the async write engine for
// duration and returns the cumulative byte count actually transferred. It
// does not reconnect: if the device goes zombie mid-run, it stops and
// returns an error along with the count so far.
func sustain(ctx context.Context, d *usbtmc.Device, duration time.Duration, chunk int, spinner *yacspin.Spinner) (result, error) {
	deadline := time.Now().Add(duration)
	payload := make([]byte, chunk)

	var total uint64
	start := time.Now()
	h := d.Open()
	defer h.Close()

	for time.Now().Before(deadline) {
		if d.Zombie() {
			return result{bytes: total, elapsed: time.Since(start)},
				fmt.Errorf("device went zombie after %d bytes", total)
		}
		if err := h.AsyncWrite(ctx, payload, 0); err != nil {
			return result{bytes: total, elapsed: time.Since(start)}, err
		}
		total += uint64(len(payload))
		spinner.Message(fmt.Sprintf("%.1f MB sent", float64(total)/(1024*1024)))
	}
	return result{bytes: total, elapsed: time.Since(start)}, nil
}
