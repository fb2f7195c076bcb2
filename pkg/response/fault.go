package response

import (
	"fmt"
	"time"
)

// FaultEventCode is the pod's fault code. Zero means no fault.
type FaultEventCode uint8

const (
	FaultNone                        FaultEventCode = 0x00
	FaultOccluded                    FaultEventCode = 0x14
	FaultReservoirEmpty              FaultEventCode = 0x18
	FaultExceededMaximumPodLife80Hrs FaultEventCode = 0x1c
)

var faultNames = map[FaultEventCode]string{
	FaultNone:                        "noFaults",
	FaultOccluded:                    "occluded",
	FaultReservoirEmpty:              "reservoirEmpty",
	FaultExceededMaximumPodLife80Hrs: "exceededMaximumPodLife80Hrs",
}

func (c FaultEventCode) String() string {
	if s, ok := faultNames[c]; ok {
		return s
	}
	return fmt.Sprintf("fault(0x%02x)", uint8(c))
}

// FaultTimeUnknown marks a fault time the pod did not record.
const FaultTimeUnknown = 0xffff

// NoPreviousProgress marks an unset previous progress byte.
const NoPreviousProgress = 0xff

// Fault describes a pod fault as reported by a detailed status.
type Fault struct {
	Code FaultEventCode
	// Time is the pod age when the fault occurred; nil if the pod did not
	// record it.
	Time                     *time.Duration
	TableAccessFault         bool
	TableCorruption          bool
	OcclusionType            uint8
	ImmediateBolusInProgress bool
	ProgressAtFault          PodProgress
	// PreviousProgress is nil when the pod reports none.
	PreviousProgress *PodProgress
	// CallingAddress is the firmware address that raised the fault, only
	// reported by generations that support it.
	CallingAddress *uint16
}

func (f *Fault) String() string {
	if f.Time == nil {
		return fmt.Sprintf("%s at unknown time", f.Code)
	}
	return fmt.Sprintf("%s at %s", f.Code, *f.Time)
}
