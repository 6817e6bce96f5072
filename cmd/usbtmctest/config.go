package main

import "time"

// Config is the usbtmctest harness configuration, loaded the way
// multiserver.go loads its own: a struct default layer plus an optional
// YAML file layer.
type Config struct {
	VID uint16 `koanf:"vid"`
	PID uint16 `koanf:"pid"`

	// Scenario selects one of the named end-to-end scenarios, or "all".
	Scenario string `koanf:"scenario"`

	// TimeoutSeconds overrides the device's default operation timeout.
	TimeoutSeconds int `koanf:"timeoutseconds"`

	// LoopbackSizeBytes is loaded and written out with the rest of the
	// config; the loopback scenario does not read it and always uses a
	// 3 MiB payload.
	LoopbackSizeBytes int `koanf:"loopbacksizebytes"`
}

// DefaultConfig mirrors a typical bench instrument and the 3 MiB loopback
// size called out in the end-to-end scenario list.
func DefaultConfig() Config {
	return Config{
		VID:               0x1AB1,
		PID:               0x04CE,
		Scenario:          "all",
		TimeoutSeconds:    5,
		LoopbackSizeBytes: 3 * 1024 * 1024,
	}
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
