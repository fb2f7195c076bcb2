// Package insulin holds the pod's delivery geometry and the insulin types a
// dose can be tagged with.
package insulin

import (
	"fmt"
	"math"
	"strings"
)

const (
	// PulseSize is the volume of one pump pulse in units.
	PulseSize = 0.05
	// PulsesPerUnit is 1/PulseSize.
	PulsesPerUnit = 20
	// MaxReservoirReading is the highest reservoir level the pod reports;
	// anything above reads as the sentinel.
	MaxReservoirReading = 50.0
	// ReservoirSentinel is the 10 bit reservoir value meaning "above 50 U".
	ReservoirSentinel = 0x3ff
	// MaxBasalRate is the highest scheduled or temporary rate in U/h.
	MaxBasalRate = 30.0
	// MaxBolus is the largest single bolus in units.
	MaxBolus = 30.0
)

// Pulses converts units to the nearest whole number of pulses.
func Pulses(units float64) int {
	return int(math.Round(units * PulsesPerUnit))
}

// Units converts a pulse count to units.
func Units(pulses int) float64 {
	return float64(pulses) / PulsesPerUnit
}

// Round rounds units to the nearest deliverable amount.
func Round(units float64) float64 {
	return Units(Pulses(units))
}

// Type identifies the insulin loaded in the pod.
type Type int

const (
	Unknown Type = iota
	Novolog
	Humalog
	Apidra
	Fiasp
	Lyumjev
	Afrezza
)

var typeNames = map[Type]string{
	Unknown: "unknown",
	Novolog: "novolog",
	Humalog: "humalog",
	Apidra:  "apidra",
	Fiasp:   "fiasp",
	Lyumjev: "lyumjev",
	Afrezza: "afrezza",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("insulin(%d)", int(t))
}

// ParseType maps a configuration string to a Type.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Unknown, nil
	}
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("unknown insulin type %q", s)
}
