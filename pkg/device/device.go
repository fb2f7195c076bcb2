// Package device describes the behavioural differences between pod
// generations. Codecs take a Generation instead of branching on firmware
// version strings.
package device

import (
	"fmt"
	"strings"
)

// Generation is a pod hardware/firmware family.
type Generation int

const (
	// Eros pods talk through a radio bridge and predate zero basal support.
	Eros Generation = iota
	// Dash pods talk BLE directly.
	Dash
)

// minimumErosRate is the lowest scheduled rate Eros firmware accepts.
const minimumErosRate = 0.05

func (g Generation) String() string {
	switch g {
	case Eros:
		return "eros"
	case Dash:
		return "dash"
	}
	return fmt.Sprintf("generation(%d)", int(g))
}

// ParseGeneration maps a configuration string to a Generation.
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eros":
		return Eros, nil
	case "", "dash":
		return Dash, nil
	}
	return Dash, fmt.Errorf("unknown pod generation %q", s)
}

// SupportsZeroBasal reports whether a scheduled basal segment may carry no
// pulses at all.
func (g Generation) SupportsZeroBasal() bool {
	return g == Dash
}

// ScheduledRate returns the rate actually programmed for a requested
// scheduled basal rate.
func (g Generation) ScheduledRate(rate float64) float64 {
	if rate <= 0 && !g.SupportsZeroBasal() {
		return minimumErosRate
	}
	return rate
}

// ReportsFaultCallingAddress reports whether the last word of a detailed
// status carries the firmware address that raised the fault.
// TODO: confirm the Eros meaning of this word against a faulted pod.
func (g Generation) ReportsFaultCallingAddress() bool {
	return g == Dash
}
