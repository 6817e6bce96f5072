package usbtmc

import "github.com/GuidoKiener/linux-usbtmc/internal/bitutil"

// Capability bits, as returned by GET_CAPABILITIES and coalesced into a
// single USB488 capability byte. Bit numbering follows the USBTMC/USB488
// class specifications (and tmc.h's USBTMC488_CAPABILITY_* constants).
const (
	CapTrigger       byte = 1 << 0 // USB488 interface capability byte
	CapSimple        byte = 1 << 1 // REN_CONTROL/GOTO_LOCAL/LOCAL_LOCKOUT allowed
	CapRemLocLockout byte = 1 << 2

	CapDT1       byte = 1 << 0 // USB488 device capability byte
	CapRL1       byte = 1 << 1
	CapSR1       byte = 1 << 2
	Cap488DotTwo byte = 1 << 3
)

// Capabilities holds the four raw capability bytes returned by
// GET_CAPABILITIES plus the coalesced USB488 byte derived from them.
type Capabilities struct {
	InterfaceCapabilities byte // GET_CAPABILITIES reply byte 4 (USBTMC interface)
	DeviceCapabilities    byte // GET_CAPABILITIES reply byte 5 (USBTMC device)
	USB488Interface       byte // GET_CAPABILITIES reply byte 14 (USB488 interface)
	USB488Device          byte // GET_CAPABILITIES reply byte 15 (USB488 device)

	// Coalesced is the single USB488 capability byte other components test
	// bits against, computed by Coalesce.
	Coalesced byte
}

// Coalesce computes the coalesced USB488 capability byte from the
// interface- and device-level USB488 capability bytes:
// usb488_caps = (iface_caps[14] & 0x07) | ((dev_caps[15] & 0x0F) << 4).
func Coalesce(ifaceCaps14, devCaps15 byte) byte {
	return (ifaceCaps14 & 0x07) | ((devCaps15 & 0x0F) << 4)
}

// HasSimple reports whether the device advertises the USB488 "simple"
// capability, gating REN_CONTROL/GOTO_LOCAL/LOCAL_LOCKOUT.
func (c Capabilities) HasSimple() bool {
	return bitutil.GetBit(c.USB488Interface, 1)
}

// HasTrigger reports whether the device accepts the USB488 TRIGGER message.
func (c Capabilities) HasTrigger() bool {
	return bitutil.GetBit(c.USB488Interface, 0)
}

// HasSR1 reports whether the device supports READ_STATUS_BYTE /
// service-request notification (SR1, per IEEE-488.2).
func (c Capabilities) HasSR1() bool {
	return bitutil.GetBit(c.USB488Device, 2)
}

// HasRL1 reports whether the device supports remote/local capability (RL1).
func (c Capabilities) HasRL1() bool {
	return bitutil.GetBit(c.USB488Device, 1)
}
