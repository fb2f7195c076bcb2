// Package response encodes and decodes the blocks the pod sends back to the
// controller, together with the progress, delivery and fault enumerations
// they carry.
package response

import (
	"fmt"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/insulin"
)

type PodProgress uint8

const (
	PodProgressInitial                PodProgress = 0
	PodProgressMemoryInitialized      PodProgress = 1
	PodProgressReminderInitialized    PodProgress = 2
	PodProgressPairingCompleted       PodProgress = 3
	PodProgressPriming                PodProgress = 4
	PodProgressPrimingCompleted       PodProgress = 5
	PodProgressBasalInitialized       PodProgress = 6
	PodProgressInsertingCannula       PodProgress = 7
	PodProgressRunningAbove50U        PodProgress = 8
	PodProgressRunningBelow50U        PodProgress = 9
	PodProgressNotUsed10              PodProgress = 10
	PodProgressNotUsed11              PodProgress = 11
	PodProgressNotUsed12              PodProgress = 12
	PodProgressFault                  PodProgress = 13
	PodProgressActivationTimeExceeded PodProgress = 14
	PodProgressPodInactive            PodProgress = 15
)

var progressNames = [...]string{
	"initial",
	"memoryInitialized",
	"reminderInitialized",
	"pairingCompleted",
	"priming",
	"primingCompleted",
	"basalInitialized",
	"insertingCannula",
	"runningAbove50U",
	"runningBelow50U",
	"notUsed10",
	"notUsed11",
	"notUsed12",
	"fault",
	"activationTimeExceeded",
	"inactive",
}

func (p PodProgress) String() string {
	if int(p) < len(progressNames) {
		return progressNames[p]
	}
	return fmt.Sprintf("progress(%d)", uint8(p))
}

// ReadyForDelivery reports whether the pod is running: cannula inserted and
// not faulted or expired.
func (p PodProgress) ReadyForDelivery() bool {
	return p == PodProgressRunningAbove50U || p == PodProgressRunningBelow50U
}

// Faulted reports whether p is one of the terminal fault states.
func (p PodProgress) Faulted() bool {
	return p == PodProgressFault || p == PodProgressActivationTimeExceeded
}

func parseProgress(t block.Type, v byte) (PodProgress, error) {
	if v > byte(PodProgressPodInactive) {
		return 0, &block.ParseError{Block: t, Field: "pod progress", Value: int(v)}
	}
	return PodProgress(v), nil
}

// DeliveryStatus is the set of deliveries currently running.
type DeliveryStatus uint8

const (
	DeliverySuspended         DeliveryStatus = 0
	DeliveryScheduledBasal    DeliveryStatus = 1
	DeliveryTempBasal         DeliveryStatus = 2
	DeliveryPriming           DeliveryStatus = 4
	DeliveryBolusAndBasal     DeliveryStatus = 5
	DeliveryBolusAndTempBasal DeliveryStatus = 6
	DeliveryExtendedAndBasal  DeliveryStatus = 9
	DeliveryExtendedAndTemp   DeliveryStatus = 10
)

const (
	deliveryBitBasal         = 1 << 0
	deliveryBitTempBasal     = 1 << 1
	deliveryBitBolus         = 1 << 2
	deliveryBitExtendedBolus = 1 << 3
)

var deliveryNames = map[DeliveryStatus]string{
	DeliverySuspended:         "suspended",
	DeliveryScheduledBasal:    "scheduledBasal",
	DeliveryTempBasal:         "tempBasal",
	DeliveryPriming:           "priming",
	DeliveryBolusAndBasal:     "bolusAndBasal",
	DeliveryBolusAndTempBasal: "bolusAndTempBasal",
	DeliveryExtendedAndBasal:  "extendedBolusAndBasal",
	DeliveryExtendedAndTemp:   "extendedBolusAndTempBasal",
}

func (d DeliveryStatus) String() string {
	if s, ok := deliveryNames[d]; ok {
		return s
	}
	return fmt.Sprintf("delivery(%d)", uint8(d))
}

func parseDelivery(t block.Type, v byte) (DeliveryStatus, error) {
	d := DeliveryStatus(v)
	if _, ok := deliveryNames[d]; !ok {
		return 0, &block.ParseError{Block: t, Field: "delivery status", Value: int(v)}
	}
	return d, nil
}

func (d DeliveryStatus) Suspended() bool        { return d == DeliverySuspended }
func (d DeliveryStatus) BasalRunning() bool     { return d&deliveryBitBasal != 0 }
func (d DeliveryStatus) TempBasalRunning() bool { return d&deliveryBitTempBasal != 0 }
func (d DeliveryStatus) BolusRunning() bool     { return d&deliveryBitBolus != 0 }
func (d DeliveryStatus) ExtendedBolusRunning() bool {
	return d&deliveryBitExtendedBolus != 0
}

// reservoirUnits converts a 10 bit reservoir reading. The sentinel means
// more than MaxReservoirReading is left.
func reservoirUnits(pulses uint16) (float64, bool) {
	if pulses >= insulin.ReservoirSentinel {
		return insulin.MaxReservoirReading, false
	}
	return insulin.Units(int(pulses)), true
}
