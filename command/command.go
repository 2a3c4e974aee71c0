// Package command builds the two outbound message shapes the engine ever
// emits: the raw status-request poll and the framed write-values request
// (spec.md §4.4), plus per-module-kind value helpers (OnValue, DimmerValue)
// that map "on" and a percentage to the wire value for a module kind. The
// helpers only compute values; they do not send anything, and callers pass
// the result to the engine's SetOutput themselves.
package command

import (
	"blitter.com/go/ipcomgw/cipher"
	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/frame"
)

// StatusRequest is the fixed plaintext of the raw status-poll message:
// command-id 0x05, version 0x01. It is sent unframed, encrypted with the
// session's current cipher state.
var StatusRequest = []byte{0x05, 0x01}

// DefaultAddressBase is the module-to-bus-address offset: wire address
// base+(module-1). The reference hard-codes 60; this module treats it as
// configurable (spec.md §9, "Open question — `to` address base").
const DefaultAddressBase = 60

// Write is a fully built write-values frame ready to prepend a bus-number
// byte (if any) and send.
type Write struct {
	Frame *frame.Frame
}

// Marshal returns the on-wire bytes for w, optionally prefixed with a
// single bus-number byte (bus==0 means no prefix, matching the live bus's
// convention).
func (w *Write) Marshal(bus byte) []byte {
	wire := w.Frame.Marshal()
	if bus == 0 {
		return wire
	}
	out := make([]byte, 0, len(wire)+1)
	out = append(out, bus)
	out = append(out, wire...)
	return out
}

// BuildWrite constructs a write-values frame targeting module (1..16),
// carrying the full 8-byte row for that module. Callers MUST always supply
// all 8 current values — sending fewer zeroes the rest on the physical
// module (spec.md §4.4); the shadow writer in the engine package is the
// only sanctioned caller.
func BuildWrite(c *cipher.State, addressBase byte, module byte, row [8]byte) (*Write, error) {
	if module < 1 || module > 16 {
		return nil, errs.New(errs.OutOfRange, "module %d out of range [1,16]", module)
	}
	plaintext := make([]byte, 0, 9)
	plaintext = append(plaintext, 0x01)
	plaintext = append(plaintext, row[:]...)

	to := addressBase + (module - 1)
	f, err := frame.Build(c, to, 0x00, plaintext)
	if err != nil {
		return nil, err
	}
	return &Write{Frame: f}, nil
}

// BuildStatusRequest encrypts the fixed status-request plaintext with c,
// ready to send as a raw (unframed) message.
func BuildStatusRequest(c *cipher.State) []byte {
	return c.Encrypt(StatusRequest)
}

// BuildKeepAlive encrypts a single-byte keep-alive response payload
// (0x03), wrapped in a frame, per the reference client's quiet-path
// heartbeat (spec.md's distilled §4.7 describes only the cadence; the
// payload shape is supplemented from the reference).
func BuildKeepAlive(c *cipher.State, addressBase byte) (*Write, error) {
	f, err := frame.Build(c, addressBase, 0x00, []byte{0x03})
	if err != nil {
		return nil, err
	}
	return &Write{Frame: f}, nil
}

// BuildDisconnect encrypts the graceful-shutdown response byte (0x02),
// sent best-effort before a deliberate session close.
func BuildDisconnect(c *cipher.State, addressBase byte) (*Write, error) {
	f, err := frame.Build(c, addressBase, 0x00, []byte{0x02})
	if err != nil {
		return nil, err
	}
	return &Write{Frame: f}, nil
}

// ModuleKind distinguishes the dimmer module's percent-scaled range from
// the on/off/PWM range every other module uses (spec.md §9, "Dimmer-module
// asymmetry"). It is supplied by the caller, never inferred from the
// module number alone, so a device map can override it per deployment.
type ModuleKind int

const (
	// KindSwitched covers switches, lights, and cover relay halves: 0 is
	// OFF, 255 is ON, intermediate values are a linearly scaled PWM level.
	KindSwitched ModuleKind = iota
	// KindPercent is the 0..100 percent-scaled dimmer range (module 6 in
	// the live deployment, but modeled here as a property of the module,
	// not a hard-coded module number).
	KindPercent
)

// OnValue returns the wire value representing "fully on" for kind.
func OnValue(kind ModuleKind) byte {
	if kind == KindPercent {
		return 100
	}
	return 255
}

// DimmerValue converts a 0..100 percentage into the wire value for kind,
// scaling linearly into 0..255 for switched-range modules and passing
// percent through unchanged for percent-range modules.
func DimmerValue(kind ModuleKind, percent int) (byte, error) {
	if percent < 0 || percent > 100 {
		return 0, errs.New(errs.OutOfRange, "percentage %d out of range [0,100]", percent)
	}
	if kind == KindPercent {
		return byte(percent), nil
	}
	return byte((percent * 255) / 100), nil
}
