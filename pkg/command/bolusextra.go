package command

import (
	"math"
	"time"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeBetweenBolusPulses is the pulse spacing of an immediate bolus.
const DefaultTimeBetweenBolusPulses = 2 * time.Second

const bolusExtraLength = 0x0d

// BolusExtra follows a bolus SetInsulinSchedule with the pulse timing and
// the optional extended ("square wave") part.
type BolusExtra struct {
	Beep                      BeepOptions
	Units                     float64
	TimeBetweenPulses         time.Duration
	ExtendedUnits             float64
	TimeBetweenExtendedPulses time.Duration
}

// NewBolusExtra builds the extra block for units now plus extendedUnits
// spread over extendedDuration.
func NewBolusExtra(units, extendedUnits float64, extendedDuration time.Duration, beep BeepOptions) *BolusExtra {
	ret := &BolusExtra{
		Beep:          beep,
		Units:         units,
		ExtendedUnits: extendedUnits,
	}
	if units > 0 {
		ret.TimeBetweenPulses = DefaultTimeBetweenBolusPulses
	}
	if pulses := pulsesX10(extendedUnits); pulses > 0 {
		d := float64(extendedDuration) / (float64(pulses) / 10)
		ret.TimeBetweenExtendedPulses = time.Duration(math.Round(d/float64(delayUnit))) * delayUnit
	}
	return ret
}

// ExtendedDuration is how long the extended part runs.
func (c *BolusExtra) ExtendedDuration() time.Duration {
	return time.Duration(float64(pulsesX10(c.ExtendedUnits)) / 10 * float64(c.TimeBetweenExtendedPulses))
}

func pulsesX10(units float64) uint16 {
	return uint16(math.Round(units * insulin.PulsesPerUnit * 10))
}

func UnmarshalBolusExtra(data []byte) (*BolusExtra, error) {
	if err := block.FixedHeader(data, block.BOLUS_EXTRA, bolusExtraLength); err != nil {
		return nil, err
	}
	log.Debugf("BolusExtra, 0x17, received, data %x", data[:bolusExtraLength+2])
	return &BolusExtra{
		Beep:                      unmarshalBeepOptions(data[2]),
		Units:                     float64(wire.Uint16(data, 3)) / 10 / insulin.PulsesPerUnit,
		TimeBetweenPulses:         decodeDelay(wire.Uint32(data, 5)),
		ExtendedUnits:             float64(wire.Uint16(data, 9)) / 10 / insulin.PulsesPerUnit,
		TimeBetweenExtendedPulses: decodeDelay(wire.Uint32(data, 11)),
	}, nil
}

func (c *BolusExtra) GetType() block.Type {
	return block.BOLUS_EXTRA
}

func (c *BolusExtra) Marshal() ([]byte, error) {
	b := []byte{c.Beep.marshal()}
	b = wire.AppendUint16(b, pulsesX10(c.Units))
	b = encodeDelay(b, c.TimeBetweenPulses)
	b = wire.AppendUint16(b, pulsesX10(c.ExtendedUnits))
	b = encodeDelay(b, c.TimeBetweenExtendedPulses)
	return encode(block.BOLUS_EXTRA, b), nil
}
