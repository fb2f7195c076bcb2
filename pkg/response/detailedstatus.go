package response

import (
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/wire"
)

// detailed status page size after the sub-type byte
const detailedStatusSize = 21

// tableAccessFaulted is the value of the table access byte after a fault
// reading the delivery tables.
const tableAccessFaulted = 2

// DetailedStatus is pod info page 0x02. Fields keep the raw encoding; Fault
// and Status interpret them.
type DetailedStatus struct {
	PodProgress       PodProgress
	DeliveryStatus    DeliveryStatus
	BolusNotDelivered uint16 // pulses, 10 bits
	LastProgSeqNum    uint8
	Delivered         uint16 // pulses
	FaultCode         FaultEventCode
	FaultMinutes      uint16 // FaultTimeUnknown if not recorded
	Reservoir         uint16 // pulses, 10 bits
	MinutesActive     uint16
	Alerts            alert.Set
	TableAccess       uint8
	// ErrorEventInfo packs table corruption (bit 7), occlusion type (bits
	// 5-6), immediate bolus in progress (bit 4) and the progress at fault
	// (bits 0-3).
	ErrorEventInfo   uint8
	ReceiverGain     uint8
	RSSI             uint8
	PreviousProgress uint8 // NoPreviousProgress if unset
	// Trailer is the fault calling address on generations that report it.
	Trailer uint16
}

func unmarshalDetailedStatus(b []byte) (*DetailedStatus, error) {
	t := block.PodInfoDetailedStatus
	if len(b) != detailedStatusSize {
		return nil, pageLength(t, len(b)+1)
	}
	w, _ := wire.NewWindow(b, detailedStatusSize)
	progress, err := parseProgress(block.POD_INFO_RESPONSE, w.Byte(0))
	if err != nil {
		return nil, err
	}
	delivery, err := parseDelivery(block.POD_INFO_RESPONSE, w.Bits(1, 0, 4))
	if err != nil {
		return nil, err
	}
	return &DetailedStatus{
		PodProgress:       progress,
		DeliveryStatus:    delivery,
		BolusNotDelivered: w.Uint16(2) & 0x3ff,
		LastProgSeqNum:    w.Byte(4),
		Delivered:         w.Uint16(5),
		FaultCode:         FaultEventCode(w.Byte(7)),
		FaultMinutes:      w.Uint16(8),
		Reservoir:         w.Uint16(10) & 0x3ff,
		MinutesActive:     w.Uint16(12),
		Alerts:            alert.Set(w.Byte(14)),
		TableAccess:       w.Byte(15),
		ErrorEventInfo:    w.Byte(16),
		ReceiverGain:      w.Bits(17, 6, 2),
		RSSI:              w.Bits(17, 0, 6),
		PreviousProgress:  w.Byte(18),
		Trailer:           w.Uint16(19),
	}, nil
}

func (d *DetailedStatus) InfoType() block.PodInfoType {
	return block.PodInfoDetailedStatus
}

func (d *DetailedStatus) marshalInfo() ([]byte, error) {
	if d.PodProgress > PodProgressPodInactive {
		return nil, &block.ParseError{Block: block.POD_INFO_RESPONSE, Field: "pod progress", Value: int(d.PodProgress)}
	}
	b := []byte{byte(d.PodProgress), byte(d.DeliveryStatus) & 0x0f}
	b = wire.AppendUint16(b, d.BolusNotDelivered&0x3ff)
	b = append(b, d.LastProgSeqNum)
	b = wire.AppendUint16(b, d.Delivered)
	b = append(b, byte(d.FaultCode))
	b = wire.AppendUint16(b, d.FaultMinutes)
	b = wire.AppendUint16(b, d.Reservoir&0x3ff)
	b = wire.AppendUint16(b, d.MinutesActive)
	b = append(b,
		byte(d.Alerts),
		d.TableAccess,
		d.ErrorEventInfo,
		d.ReceiverGain<<6|d.RSSI&0x3f,
		d.PreviousProgress,
	)
	return wire.AppendUint16(b, d.Trailer), nil
}

// Fault returns the fault record, or nil when the pod has not faulted.
func (d *DetailedStatus) Fault(gen device.Generation) *Fault {
	if d.FaultCode == FaultNone {
		return nil
	}
	ret := &Fault{
		Code:                     d.FaultCode,
		TableAccessFault:         d.TableAccess == tableAccessFaulted,
		TableCorruption:          wire.Flag(d.ErrorEventInfo, 7),
		OcclusionType:            wire.Bits(d.ErrorEventInfo, 5, 2),
		ImmediateBolusInProgress: wire.Flag(d.ErrorEventInfo, 4),
		ProgressAtFault:          PodProgress(wire.Bits(d.ErrorEventInfo, 0, 4)),
	}
	if d.FaultMinutes != FaultTimeUnknown {
		t := time.Duration(d.FaultMinutes) * time.Minute
		ret.Time = &t
	}
	if d.PreviousProgress != NoPreviousProgress {
		p := PodProgress(d.PreviousProgress & 0x0f)
		ret.PreviousProgress = &p
	}
	if gen.ReportsFaultCallingAddress() {
		addr := d.Trailer
		ret.CallingAddress = &addr
	}
	return ret
}

// Status returns the page as a StatusResponse, masked to its field widths.
func (d *DetailedStatus) Status() *StatusResponse {
	return &StatusResponse{
		DeliveryStatus:    d.DeliveryStatus,
		PodProgress:       d.PodProgress,
		Delivered:         d.Delivered & 0x1fff,
		LastProgSeqNum:    d.LastProgSeqNum & 0x0f,
		BolusNotDelivered: d.BolusNotDelivered,
		Alerts:            d.Alerts,
		MinutesActive:     d.MinutesActive & 0x1fff,
		Reservoir:         d.Reservoir,
	}
}

func (d *DetailedStatus) ReservoirUnits() (float64, bool) {
	return reservoirUnits(d.Reservoir)
}

func (d *DetailedStatus) DeliveredUnits() float64 {
	return insulin.Units(int(d.Delivered))
}
