package command

import (
	"math"
	"time"

	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// TempBasalExtra follows a temp basal SetInsulinSchedule with the pulse
// rate entries.
type TempBasalExtra struct {
	Beep                 BeepOptions
	RemainingPulses      float64
	DelayUntilFirstPulse time.Duration
	RateEntries          []basal.RateEntry
}

// NewTempBasalExtra builds the extra block for rate over duration.
func NewTempBasalExtra(rate float64, duration time.Duration, beep BeepOptions) *TempBasalExtra {
	entries := basal.NewRateEntries(rate, duration)
	ret := &TempBasalExtra{Beep: beep, RateEntries: entries}
	if len(entries) > 0 {
		ret.RemainingPulses = entries[0].TotalPulses
		ret.DelayUntilFirstPulse = entries[0].DelayBetweenPulses
	}
	return ret
}

func UnmarshalTempBasalExtra(data []byte) (*TempBasalExtra, error) {
	n, err := block.Header(data, block.TEMP_BASAL_EXTRA, 8)
	if err != nil {
		return nil, err
	}
	log.Debugf("TempBasalExtra, 0x16, received, data %x", data[:n])
	if (n-10)%basal.RateEntrySize != 0 {
		return nil, &block.ParseError{Block: block.TEMP_BASAL_EXTRA, Field: "length", Value: n - 2}
	}
	ret := &TempBasalExtra{
		Beep:            unmarshalBeepOptions(data[2]),
		RemainingPulses: float64(wire.Uint16(data, 4)) / 10,
	}
	delay := wire.Uint32(data, 6)
	if ret.RemainingPulses == 0 {
		delay /= 10
	}
	ret.DelayUntilFirstPulse = decodeDelay(delay)
	entries, err := unmarshalRateEntries(data[10:n])
	if err != nil {
		return nil, err
	}
	ret.RateEntries = entries
	return ret, nil
}

func unmarshalRateEntries(data []byte) ([]basal.RateEntry, error) {
	var ret []basal.RateEntry
	for off := 0; off < len(data); off += basal.RateEntrySize {
		e, err := basal.UnmarshalRateEntry(data[off:])
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, nil
}

func (c *TempBasalExtra) GetType() block.Type {
	return block.TEMP_BASAL_EXTRA
}

// Marshal encodes [beep] [00] [remaining pulses x10] [delay] [rate entries].
// With no pulses left the delay is scaled by ten like an idle rate entry.
func (c *TempBasalExtra) Marshal() ([]byte, error) {
	b := []byte{c.Beep.marshal(), 0}
	pulses := uint16(math.Round(c.RemainingPulses * 10))
	b = wire.AppendUint16(b, pulses)
	delay := uint32(c.DelayUntilFirstPulse / delayUnit)
	if pulses == 0 {
		delay *= 10
	}
	b = wire.AppendUint32(b, delay)
	for _, e := range c.RateEntries {
		b = append(b, e.Marshal()...)
	}
	return encode(block.TEMP_BASAL_EXTRA, b), nil
}
