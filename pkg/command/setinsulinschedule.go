package command

import (
	"fmt"
	"math"
	"time"

	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// ScheduleType is the delivery kind of a SetInsulinSchedule.
type ScheduleType uint8

const (
	ScheduleBasal     ScheduleType = 0
	ScheduleTempBasal ScheduleType = 1
	ScheduleBolus     ScheduleType = 2
)

func (t ScheduleType) String() string {
	switch t {
	case ScheduleBasal:
		return "basal"
	case ScheduleTempBasal:
		return "tempBasal"
	case ScheduleBolus:
		return "bolus"
	}
	return fmt.Sprintf("schedule(%d)", uint8(t))
}

// bolus field A counts eighths of a second per pulse
const bolusPulseMultiplier = 8

// DeliverySchedule is the type specific part of a SetInsulinSchedule. It is
// one of *BasalDelivery, *TempBasalDelivery or *BolusDelivery.
type DeliverySchedule interface {
	ScheduleType() ScheduleType
	// header returns the fields between the checksum and the table.
	header() []byte
	table() basal.DeliveryTable
}

// BasalDelivery starts a basal schedule part way through its current
// segment.
type BasalDelivery struct {
	CurrentSegment   uint8
	SecondsRemaining uint16
	PulsesRemaining  uint16
	Table            basal.DeliveryTable
}

func (d *BasalDelivery) ScheduleType() ScheduleType { return ScheduleBasal }
func (d *BasalDelivery) table() basal.DeliveryTable { return d.Table }
func (d *BasalDelivery) header() []byte {
	b := []byte{d.CurrentSegment}
	b = wire.AppendUint16(b, d.SecondsRemaining<<3)
	return wire.AppendUint16(b, d.PulsesRemaining)
}

// TempBasalDelivery runs a temp basal from the start of its first segment.
type TempBasalDelivery struct {
	SecondsRemaining   uint16
	FirstSegmentPulses uint16
	Table              basal.DeliveryTable
}

func (d *TempBasalDelivery) ScheduleType() ScheduleType { return ScheduleTempBasal }
func (d *TempBasalDelivery) table() basal.DeliveryTable { return d.Table }
func (d *TempBasalDelivery) header() []byte {
	b := []byte{byte(d.Table.NumSegments())}
	b = wire.AppendUint16(b, d.SecondsRemaining<<3)
	return wire.AppendUint16(b, d.FirstSegmentPulses)
}

// BolusDelivery is an immediate bolus.
type BolusDelivery struct {
	Pulses     uint16
	Multiplier uint16
	Table      basal.DeliveryTable
}

func (d *BolusDelivery) ScheduleType() ScheduleType { return ScheduleBolus }
func (d *BolusDelivery) table() basal.DeliveryTable { return d.Table }
func (d *BolusDelivery) header() []byte {
	b := []byte{byte(d.Table.NumSegments())}
	b = wire.AppendUint16(b, d.Pulses*d.Multiplier)
	return wire.AppendUint16(b, d.Pulses)
}

// Units is the bolus size.
func (d *BolusDelivery) Units() float64 {
	return insulin.Units(int(d.Pulses))
}

// SetInsulinSchedule programs a delivery table. It is always followed in
// the same message by the matching extra block.
type SetInsulinSchedule struct {
	Nonce    uint32
	Schedule DeliverySchedule
}

// NewBasalSchedule programs s, starting offset into the day.
func NewBasalSchedule(nonce uint32, s basal.Schedule, offset time.Duration, gen device.Generation) (*SetInsulinSchedule, error) {
	table, err := basal.NewDeliveryTable(s, gen)
	if err != nil {
		return nil, err
	}
	offset = offset.Round(time.Second)
	segment, remaining := basal.SegmentPosition(offset)
	rate := gen.ScheduledRate(s.RateAt(offset))

	var pulses uint16
	if pph := math.Round(rate / insulin.PulseSize); pph > 0 {
		between := 3600 / pph
		rem := remaining.Seconds()
		toNextTenth := math.Mod(rem, between/10)
		pulses = uint16((rem + between/10 - toNextTenth) / between)
	}
	return &SetInsulinSchedule{
		Nonce: nonce,
		Schedule: &BasalDelivery{
			CurrentSegment:   uint8(segment),
			SecondsRemaining: uint16(remaining / time.Second),
			PulsesRemaining:  pulses,
			Table:            table,
		},
	}, nil
}

// NewTempBasal programs a temp basal of rate for duration.
func NewTempBasal(nonce uint32, rate float64, duration time.Duration) (*SetInsulinSchedule, error) {
	if rate < 0 || rate > insulin.MaxBasalRate {
		return nil, fmt.Errorf("temp basal rate %.2f U/h out of range", rate)
	}
	if duration < basal.SegmentDuration || duration > 12*time.Hour {
		return nil, fmt.Errorf("temp basal duration %s out of range", duration)
	}
	pph := math.Round(rate / insulin.PulseSize)
	return &SetInsulinSchedule{
		Nonce: nonce,
		Schedule: &TempBasalDelivery{
			SecondsRemaining:   uint16(basal.SegmentDuration / time.Second),
			FirstSegmentPulses: uint16(pph / 2),
			Table:              basal.NewTempBasalTable(rate, duration),
		},
	}, nil
}

// NewBolus programs an immediate bolus of units.
func NewBolus(nonce uint32, units float64) (*SetInsulinSchedule, error) {
	if units <= 0 || units > insulin.MaxBolus {
		return nil, fmt.Errorf("bolus %.2f U out of range", units)
	}
	return &SetInsulinSchedule{
		Nonce: nonce,
		Schedule: &BolusDelivery{
			Pulses:     uint16(insulin.Pulses(units)),
			Multiplier: bolusPulseMultiplier,
			Table:      basal.NewBolusTable(units),
		},
	}, nil
}

func checksum(header []byte, table basal.DeliveryTable) uint16 {
	var sum uint16
	for _, b := range header {
		sum += uint16(b)
	}
	return sum + table.Checksum()
}

func UnmarshalSetInsulinSchedule(data []byte) (*SetInsulinSchedule, error) {
	n, err := block.Header(data, block.SET_INSULIN_SCHEDULE, 12)
	if err != nil {
		return nil, err
	}
	if n%2 != 0 {
		return nil, &block.ParseError{Block: block.SET_INSULIN_SCHEDULE, Field: "length", Value: n - 2}
	}
	log.Debugf("SetInsulinSchedule, 0x1a, received, data %x", data[:n])

	var table basal.DeliveryTable
	for off := 14; off < n; off += 2 {
		e, err := basal.UnmarshalInsulinTableEntry(data[off:n])
		if err != nil {
			return nil, err
		}
		table.Entries = append(table.Entries, e)
	}

	ret := &SetInsulinSchedule{Nonce: wire.Uint32(data, 2)}
	h := data[9:14]
	switch t := ScheduleType(data[6]); t {
	case ScheduleBasal:
		ret.Schedule = &BasalDelivery{
			CurrentSegment:   h[0],
			SecondsRemaining: wire.Uint16(h, 1) >> 3,
			PulsesRemaining:  wire.Uint16(h, 3),
			Table:            table,
		}
	case ScheduleTempBasal:
		ret.Schedule = &TempBasalDelivery{
			SecondsRemaining:   wire.Uint16(h, 1) >> 3,
			FirstSegmentPulses: wire.Uint16(h, 3),
			Table:              table,
		}
	case ScheduleBolus:
		pulses := wire.Uint16(h, 3)
		var mult uint16
		if pulses > 0 {
			mult = wire.Uint16(h, 1) / pulses
		}
		ret.Schedule = &BolusDelivery{Pulses: pulses, Multiplier: mult, Table: table}
	default:
		return nil, &block.ParseError{Block: block.SET_INSULIN_SCHEDULE, Field: "schedule type", Value: int(t)}
	}
	if t := ret.Schedule.ScheduleType(); t != ScheduleBasal && int(h[0]) != table.NumSegments() {
		return nil, &block.ParseError{Block: block.SET_INSULIN_SCHEDULE, Field: "segments", Value: int(h[0])}
	}
	if want, got := checksum(h, table), wire.Uint16(data, 7); want != got {
		return nil, &block.ParseError{Block: block.SET_INSULIN_SCHEDULE, Field: "checksum", Value: int(got)}
	}
	return ret, nil
}

func (c *SetInsulinSchedule) GetType() block.Type {
	return block.SET_INSULIN_SCHEDULE
}

func (c *SetInsulinSchedule) GetNonce() uint32 {
	return c.Nonce
}

func (c *SetInsulinSchedule) WithNonce(nonce uint32) block.NonceBlock {
	ret := *c
	ret.Nonce = nonce
	return &ret
}

// Marshal encodes [nonce] [type] [checksum] [type header] [table].
func (c *SetInsulinSchedule) Marshal() ([]byte, error) {
	if c.Schedule == nil {
		return nil, fmt.Errorf("%s: no delivery schedule", block.SET_INSULIN_SCHEDULE)
	}
	table, err := c.Schedule.table().Marshal()
	if err != nil {
		return nil, err
	}
	h := c.Schedule.header()
	b := wire.AppendUint32(nil, c.Nonce)
	b = append(b, byte(c.Schedule.ScheduleType()))
	b = wire.AppendUint16(b, checksum(h, c.Schedule.table()))
	b = append(b, h...)
	return encode(block.SET_INSULIN_SCHEDULE, append(b, table...)), nil
}
