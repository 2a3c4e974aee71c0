// Package devicemap models the logical device table a deployment
// supplies to name and classify the raw {module, output} wire addresses
// (spec.md §3, §6). It is a data model only: loading a device map from
// YAML or any other configuration format is an external collaborator,
// out of scope here.
package devicemap

import "blitter.com/go/ipcomgw/command"

// Kind classifies what a logical device does with its output(s).
type Kind int

const (
	Switch Kind = iota
	Light
	Dimmer
	CoverUpHalf
	CoverDownHalf
)

func (k Kind) String() string {
	switch k {
	case Switch:
		return "switch"
	case Light:
		return "light"
	case Dimmer:
		return "dimmer"
	case CoverUpHalf:
		return "cover-up-half"
	case CoverDownHalf:
		return "cover-down-half"
	default:
		return "unknown"
	}
}

// ModuleKind reports the command.ModuleKind this device's output should
// be scaled as: percent range for dimmers, on/off/PWM range for
// everything else (spec.md §9, "Dimmer-module asymmetry").
func (k Kind) ModuleKind() command.ModuleKind {
	if k == Dimmer {
		return command.KindPercent
	}
	return command.KindSwitched
}

// Device is one entry in a DeviceMap: a logical key bound to a wire
// address and a kind. PairedKey names the other half of a cover's relay
// pair when Kind is CoverUpHalf or CoverDownHalf; it is empty otherwise.
type Device struct {
	Key       string
	Module    byte
	Output    byte
	Kind      Kind
	PairedKey string
}

// DeviceMap is a logical-key -> Device table. The zero value is a nil map:
// it can be read and ranged over, but Add on it panics, so use New to get
// one ready to populate.
type DeviceMap map[string]Device

// New returns an empty DeviceMap.
func New() DeviceMap {
	return make(DeviceMap)
}

// Add inserts or replaces d under d.Key.
func (m DeviceMap) Add(d Device) {
	m[d.Key] = d
}

// Pair returns the Device named by d.PairedKey and whether it was found.
// It is the caller's responsibility to call this only on cover halves.
func (m DeviceMap) Pair(d Device) (Device, bool) {
	if d.PairedKey == "" {
		return Device{}, false
	}
	other, ok := m[d.PairedKey]
	return other, ok
}
