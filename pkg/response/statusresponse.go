package response

import (
	"fmt"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// StatusResponseSize is the full encoded size of a StatusResponse. Unlike
// every other block it has no length byte.
const StatusResponseSize = 10

// StatusResponse is the pod's short status, sent in reply to most commands.
type StatusResponse struct {
	DeliveryStatus    DeliveryStatus
	PodProgress       PodProgress
	Delivered         uint16 // pulses, 13 bits
	LastProgSeqNum    uint8  // 4 bits
	BolusNotDelivered uint16 // pulses, 11 bits
	Alerts            alert.Set
	MinutesActive     uint16 // 13 bits
	Reservoir         uint16 // pulses, 10 bits, ReservoirSentinel above 50 U
}

func UnmarshalStatusResponse(data []byte) (*StatusResponse, error) {
	w, err := wire.NewWindow(data, StatusResponseSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %x", block.STATUS_RESPONSE, block.ErrNotEnoughData, data)
	}
	if block.Type(w.Byte(0)) != block.STATUS_RESPONSE {
		return nil, &block.ParseError{Block: block.STATUS_RESPONSE, Field: "type", Value: int(w.Byte(0))}
	}
	delivery, err := parseDelivery(block.STATUS_RESPONSE, w.Bits(1, 4, 4))
	if err != nil {
		return nil, err
	}
	b2, b3, b4, b5 := w.Byte(2), w.Byte(3), w.Byte(4), w.Byte(5)
	b6, b7, b8, b9 := w.Byte(6), w.Byte(7), w.Byte(8), w.Byte(9)

	ret := &StatusResponse{
		DeliveryStatus:    delivery,
		PodProgress:       PodProgress(w.Bits(1, 0, 4)),
		Delivered:         uint16(b2&0x0f)<<9 | uint16(b3)<<1 | uint16(b4>>7),
		LastProgSeqNum:    wire.Bits(b4, 3, 4),
		BolusNotDelivered: uint16(b4&0x07)<<8 | uint16(b5),
		Alerts:            alert.Set(b6<<1 | b7>>7),
		MinutesActive:     uint16(b7&0x7f)<<6 | uint16(b8>>2),
		Reservoir:         uint16(b8&0x03)<<8 | uint16(b9),
	}
	log.Debugf("StatusResponse, 0x1d, received, data %x", w.Slice(0, StatusResponseSize))
	return ret, nil
}

func (r *StatusResponse) GetType() block.Type {
	return block.STATUS_RESPONSE
}

func (r *StatusResponse) Marshal() ([]byte, error) {
	if r.PodProgress > PodProgressPodInactive {
		return nil, &block.ParseError{Block: block.STATUS_RESPONSE, Field: "pod progress", Value: int(r.PodProgress)}
	}
	ret := make([]byte, StatusResponseSize)
	ret[0] = byte(block.STATUS_RESPONSE)
	ret[1] = byte(r.DeliveryStatus)<<4 | byte(r.PodProgress)
	ret[2] = byte(r.Delivered>>9) & 0x0f
	ret[3] = byte(r.Delivered >> 1)
	ret[4] = byte(r.Delivered&1)<<7 | (r.LastProgSeqNum&0x0f)<<3 | byte(r.BolusNotDelivered>>8)&0x07
	ret[5] = byte(r.BolusNotDelivered)
	ret[6] = byte(r.Alerts) >> 1
	ret[7] = byte(r.Alerts)<<7 | byte(r.MinutesActive>>6)&0x7f
	ret[8] = byte(r.MinutesActive<<2) | byte(r.Reservoir>>8)&0x03
	ret[9] = byte(r.Reservoir)
	log.Tracef("StatusResponse, 0x1d, sending, data %x", ret)
	return ret, nil
}

// DeliveredUnits is the insulin delivered since activation.
func (r *StatusResponse) DeliveredUnits() float64 {
	return insulin.Units(int(r.Delivered))
}

// BolusNotDeliveredUnits is what was left of a cancelled bolus.
func (r *StatusResponse) BolusNotDeliveredUnits() float64 {
	return insulin.Units(int(r.BolusNotDelivered))
}

// ReservoirUnits returns the reservoir level and false when the pod only
// reports "more than 50 U".
func (r *StatusResponse) ReservoirUnits() (float64, bool) {
	return reservoirUnits(r.Reservoir)
}

func (r *StatusResponse) TimeActive() time.Duration {
	return time.Duration(r.MinutesActive) * time.Minute
}
