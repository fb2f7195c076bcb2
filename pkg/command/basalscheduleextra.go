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

// BasalScheduleExtra follows a basal SetInsulinSchedule with the rate
// entries and where in them delivery resumes.
type BasalScheduleExtra struct {
	Beep                       BeepOptions
	CurrentEntryIndex          uint8
	RemainingPulses            float64
	DelayUntilNextTenthOfPulse time.Duration
	RateEntries                []basal.RateEntry
}

// NewBasalScheduleExtra builds the extra block for s starting offset into
// the day.
func NewBasalScheduleExtra(s basal.Schedule, offset time.Duration, gen device.Generation, beep BeepOptions) *BasalScheduleExtra {
	entries := basal.NewScheduleRateEntries(s, gen)
	offset = offset.Round(time.Second)
	idx, remaining := basal.LocateRateEntry(entries, offset)

	ret := &BasalScheduleExtra{
		Beep:              beep,
		CurrentEntryIndex: uint8(idx),
		RateEntries:       entries,
	}
	pph := math.Round(gen.ScheduledRate(s.RateAt(offset)) / insulin.PulseSize)
	if pph == 0 {
		ret.DelayUntilNextTenthOfPulse = remaining
		return ret
	}
	tenth := time.Duration(float64(time.Hour) / pph / 10)
	delay := remaining % tenth
	pulses := pph*(remaining-delay).Hours() + 0.1
	ret.RemainingPulses = math.Round(pulses*10) / 10
	ret.DelayUntilNextTenthOfPulse = delay.Round(delayUnit)
	return ret
}

func UnmarshalBasalScheduleExtra(data []byte) (*BasalScheduleExtra, error) {
	n, err := block.Header(data, block.BASAL_SCHEDULE_EXTRA, 8)
	if err != nil {
		return nil, err
	}
	log.Debugf("BasalScheduleExtra, 0x13, received, data %x", data[:n])
	if (n-10)%basal.RateEntrySize != 0 {
		return nil, &block.ParseError{Block: block.BASAL_SCHEDULE_EXTRA, Field: "length", Value: n - 2}
	}
	entries, err := unmarshalRateEntries(data[10:n])
	if err != nil {
		return nil, err
	}
	ret := &BasalScheduleExtra{
		Beep:                       unmarshalBeepOptions(data[2]),
		CurrentEntryIndex:          data[3],
		RemainingPulses:            float64(wire.Uint16(data, 4)) / 10,
		DelayUntilNextTenthOfPulse: decodeDelay(wire.Uint32(data, 6)),
		RateEntries:                entries,
	}
	if int(ret.CurrentEntryIndex) >= len(entries) {
		return nil, &block.ParseError{Block: block.BASAL_SCHEDULE_EXTRA, Field: "entry index", Value: int(ret.CurrentEntryIndex)}
	}
	return ret, nil
}

func (c *BasalScheduleExtra) GetType() block.Type {
	return block.BASAL_SCHEDULE_EXTRA
}

func (c *BasalScheduleExtra) Marshal() ([]byte, error) {
	if n := 8 + len(c.RateEntries)*basal.RateEntrySize; n > 0xff {
		return nil, fmt.Errorf("%s: %d rate entries do not fit one block", block.BASAL_SCHEDULE_EXTRA, len(c.RateEntries))
	}
	b := []byte{c.Beep.marshal(), c.CurrentEntryIndex}
	b = wire.AppendUint16(b, uint16(math.Round(c.RemainingPulses*10)))
	b = encodeDelay(b, c.DelayUntilNextTenthOfPulse)
	for _, e := range c.RateEntries {
		b = append(b, e.Marshal()...)
	}
	return encode(block.BASAL_SCHEDULE_EXTRA, b), nil
}
