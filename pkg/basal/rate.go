package basal

import (
	"fmt"
	"math"
	"time"

	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
)

const (
	// MaxPulsesPerRateEntry fits the 16 bit tenths-of-pulses field.
	MaxPulsesPerRateEntry = 6553.5
	// RateEntrySize is the encoded size of one RateEntry.
	RateEntrySize = 6
	// delay fields count hundredths of milliseconds
	delayUnit = 10 * time.Microsecond
	// a zero rate entry idles for one segment and scales its delay by ten
	zeroRateScale = 10
)

// RateEntry delivers TotalPulses spaced DelayBetweenPulses apart. A zero
// pulse entry idles for DelayBetweenPulses.
type RateEntry struct {
	TotalPulses        float64
	DelayBetweenPulses time.Duration
}

// Rate is the entry's delivery rate in U/h.
func (r RateEntry) Rate() float64 {
	if r.TotalPulses == 0 || r.DelayBetweenPulses == 0 {
		return 0
	}
	pph := float64(time.Hour) / float64(r.DelayBetweenPulses)
	return math.Round(pph*insulin.PulseSize*100) / 100
}

// Duration is how long the entry runs.
func (r RateEntry) Duration() time.Duration {
	if r.TotalPulses == 0 {
		return r.DelayBetweenPulses
	}
	return time.Duration(math.Round(float64(r.DelayBetweenPulses) * r.TotalPulses))
}

// Marshal encodes [pulses x10 u16] [delay in hundredths of ms u32].
func (r RateEntry) Marshal() []byte {
	pulses := uint16(math.Round(r.TotalPulses * 10))
	delay := uint32(r.DelayBetweenPulses / delayUnit)
	if r.TotalPulses == 0 {
		delay *= zeroRateScale
	}
	return []byte{
		byte(pulses >> 8), byte(pulses),
		byte(delay >> 24), byte(delay >> 16), byte(delay >> 8), byte(delay),
	}
}

// UnmarshalRateEntry decodes a 6 byte rate entry.
func UnmarshalRateEntry(data []byte) (RateEntry, error) {
	if len(data) < RateEntrySize {
		return RateEntry{}, fmt.Errorf("rate entry is too short: %x", data)
	}
	pulses := uint16(data[0])<<8 | uint16(data[1])
	delay := uint32(data[2])<<24 | uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])
	if pulses == 0 {
		delay /= zeroRateScale
	}
	return RateEntry{
		TotalPulses:        float64(pulses) / 10,
		DelayBetweenPulses: time.Duration(delay) * delayUnit,
	}, nil
}

// DelayBetweenPulses returns the pulse spacing for rate, rounded to the
// 10µs resolution of the wire field. rate must be positive.
func DelayBetweenPulses(rate float64) time.Duration {
	d := float64(time.Hour) / (rate / insulin.PulseSize)
	return time.Duration(math.Round(d/float64(delayUnit))) * delayUnit
}

// NewRateEntries splits rate running for duration into entries of at most
// MaxPulsesPerRateEntry pulses. A zero rate yields one idle entry per segment.
func NewRateEntries(rate float64, duration time.Duration) []RateEntry {
	rate = insulin.Round(rate)
	remainingSegments := segmentCount(duration)
	var ret []RateEntry
	if rate == 0 {
		for ; remainingSegments > 0; remainingSegments-- {
			ret = append(ret, RateEntry{DelayBetweenPulses: SegmentDuration})
		}
		return ret
	}

	pulsesPerSegment := math.Round(rate/insulin.PulseSize) / 2
	maxSegments := int(MaxPulsesPerRateEntry / pulsesPerSegment)
	delay := DelayBetweenPulses(rate)
	for remainingSegments > 0 {
		n := remainingSegments
		if n > maxSegments {
			n = maxSegments
		}
		ret = append(ret, RateEntry{
			TotalPulses:        pulsesPerSegment * float64(n),
			DelayBetweenPulses: delay,
		})
		remainingSegments -= n
	}
	return ret
}

// NewScheduleRateEntries returns the rate entries of every span of s.
func NewScheduleRateEntries(s Schedule, gen device.Generation) []RateEntry {
	var ret []RateEntry
	for _, span := range s.Spans() {
		ret = append(ret, NewRateEntries(gen.ScheduledRate(span.Rate), span.Duration)...)
	}
	return ret
}

// LocateRateEntry finds the entry running at offset from the start of
// entries and the time left in it. Offsets past the end wrap around.
func LocateRateEntry(entries []RateEntry, offset time.Duration) (int, time.Duration) {
	var total time.Duration
	for _, e := range entries {
		total += e.Duration()
	}
	if total <= 0 {
		return 0, 0
	}
	offset %= total
	var start time.Duration
	for i, e := range entries {
		end := start + e.Duration()
		if offset < end {
			return i, end - offset
		}
		start = end
	}
	return len(entries) - 1, 0
}
