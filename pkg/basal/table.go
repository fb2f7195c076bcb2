package basal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
)

const (
	// MaxSegmentsPerEntry is the most segments one table entry can cover.
	MaxSegmentsPerEntry = 16
	// MaxEntries is the most entries a delivery table can hold.
	MaxEntries = 16
	// MaxPulsesPerSegment fits the 10 bit pulse field.
	MaxPulsesPerSegment = 0x3ff
)

// ErrTooManyEntries is returned when a schedule does not compress into
// MaxEntries table entries. Tables are never truncated.
var ErrTooManyEntries = errors.New("delivery table needs more than 16 entries")

// InsulinTableEntry is a run of segments delivering the same number of
// pulses, or alternating between pulses and pulses+1 when
// AlternateSegmentPulse is set.
type InsulinTableEntry struct {
	Segments              int
	Pulses                int
	AlternateSegmentPulse bool
}

// Marshal encodes the entry as [(segments-1)<<4 | alt<<3 | pulses>>8] [pulses].
func (e InsulinTableEntry) Marshal() ([]byte, error) {
	if e.Segments < 1 || e.Segments > MaxSegmentsPerEntry {
		return nil, fmt.Errorf("table entry has %d segments", e.Segments)
	}
	if e.Pulses < 0 || e.Pulses > MaxPulsesPerSegment {
		return nil, fmt.Errorf("table entry has %d pulses", e.Pulses)
	}
	b := byte(e.Segments-1) << 4
	if e.AlternateSegmentPulse {
		b |= 1 << 3
	}
	b |= byte(e.Pulses>>8) & 0x3
	return []byte{b, byte(e.Pulses)}, nil
}

// UnmarshalInsulinTableEntry decodes a 2 byte table entry.
func UnmarshalInsulinTableEntry(data []byte) (InsulinTableEntry, error) {
	if len(data) < 2 {
		return InsulinTableEntry{}, fmt.Errorf("table entry is too short: %x", data)
	}
	return InsulinTableEntry{
		Segments:              int(data[0]>>4) + 1,
		Pulses:                int(data[0]&0x3)<<8 | int(data[1]),
		AlternateSegmentPulse: data[0]&(1<<3) != 0,
	}, nil
}

// Checksum is the entry's contribution to the schedule checksum.
func (e InsulinTableEntry) Checksum() uint16 {
	perSegment := (e.Pulses & 0xff) + (e.Pulses >> 8)
	sum := e.Segments * perSegment
	if e.AlternateSegmentPulse {
		sum += e.Segments / 2
	}
	return uint16(sum)
}

// TotalPulses is the number of pulses the entry delivers.
func (e InsulinTableEntry) TotalPulses() int {
	n := e.Segments * e.Pulses
	if e.AlternateSegmentPulse {
		n += e.Segments / 2
	}
	return n
}

// DeliveryTable is the compressed per-segment pulse table sent with
// SetInsulinSchedule.
type DeliveryTable struct {
	Entries []InsulinTableEntry
}

// NumSegments is the number of segments covered by the table.
func (t DeliveryTable) NumSegments() int {
	n := 0
	for _, e := range t.Entries {
		n += e.Segments
	}
	return n
}

// TotalPulses is the number of pulses the table delivers.
func (t DeliveryTable) TotalPulses() int {
	n := 0
	for _, e := range t.Entries {
		n += e.TotalPulses()
	}
	return n
}

// Checksum sums the entries' checksums.
func (t DeliveryTable) Checksum() uint16 {
	var sum uint16
	for _, e := range t.Entries {
		sum += e.Checksum()
	}
	return sum
}

// Marshal encodes every entry in order.
func (t DeliveryTable) Marshal() ([]byte, error) {
	ret := make([]byte, 0, 2*len(t.Entries))
	for _, e := range t.Entries {
		b, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		ret = append(ret, b...)
	}
	return ret, nil
}

// pulsesPerHour rounds a rate to whole pulses per hour.
func pulsesPerHour(rate float64) int {
	return int(math.Round(rate / insulin.PulseSize))
}

// NewDeliveryTable compresses a day's schedule into a delivery table. Each
// segment gets half the hourly pulses; an odd hourly count alternates the
// spare pulse between consecutive segments. Runs of equal or alternating
// segments are merged into entries of at most MaxSegmentsPerEntry.
func NewDeliveryTable(s Schedule, gen device.Generation) (DeliveryTable, error) {
	if len(s.Entries) == 0 {
		return DeliveryTable{}, ErrEmptySchedule
	}
	segments := make([]int, NumSegments)
	halfPulseRemainder := false
	for i := range segments {
		pph := pulsesPerHour(gen.ScheduledRate(s.RateAt(time.Duration(i) * SegmentDuration)))
		halfPulse := pph&1 != 0
		segments[i] = pph >> 1
		if halfPulseRemainder && halfPulse {
			segments[i]++
		}
		halfPulseRemainder = halfPulseRemainder != halfPulse
	}
	return compress(segments)
}

func compress(segments []int) (DeliveryTable, error) {
	var table DeliveryTable
	var cur InsulinTableEntry
	for i, pulses := range segments {
		if i == 0 {
			cur = InsulinTableEntry{Segments: 1, Pulses: pulses}
			continue
		}
		delta := pulses - cur.Pulses
		ok := false
		switch {
		case cur.Segments >= MaxSegmentsPerEntry:
		case cur.Segments == 1:
			if delta == 0 || delta == 1 {
				cur.AlternateSegmentPulse = delta == 1
				ok = true
			}
		default:
			expected := 0
			if cur.AlternateSegmentPulse {
				expected = cur.Segments % 2
			}
			ok = delta == expected
		}
		if ok {
			cur.Segments++
			continue
		}
		table.Entries = append(table.Entries, cur)
		cur = InsulinTableEntry{Segments: 1, Pulses: pulses}
	}
	table.Entries = append(table.Entries, cur)
	if len(table.Entries) > MaxEntries {
		return DeliveryTable{}, fmt.Errorf("%w: %d", ErrTooManyEntries, len(table.Entries))
	}
	for _, e := range table.Entries {
		if e.Pulses > MaxPulsesPerSegment {
			return DeliveryTable{}, fmt.Errorf("segment needs %d pulses", e.Pulses)
		}
	}
	return table, nil
}

// NewTempBasalTable builds the table for a temp basal of rate lasting
// duration, rounded to whole segments.
func NewTempBasalTable(rate float64, duration time.Duration) DeliveryTable {
	pph := pulsesPerHour(rate)
	pulses := pph >> 1
	alternate := pph&1 != 0
	var table DeliveryTable
	for remaining := segmentCount(duration); remaining > 0; {
		n := remaining
		if n > MaxSegmentsPerEntry {
			n = MaxSegmentsPerEntry
		}
		table.Entries = append(table.Entries, InsulinTableEntry{
			Segments:              n,
			Pulses:                pulses,
			AlternateSegmentPulse: n > 1 && alternate,
		})
		remaining -= n
	}
	return table
}

// NewBolusTable builds the single entry table for an immediate bolus.
func NewBolusTable(units float64) DeliveryTable {
	return DeliveryTable{Entries: []InsulinTableEntry{{Segments: 1, Pulses: insulin.Pulses(units)}}}
}

func segmentCount(d time.Duration) int {
	return int(math.Round(float64(d) / float64(SegmentDuration)))
}

// SegmentPosition returns the segment of the day containing offset and the
// time left in that segment.
func SegmentPosition(offset time.Duration) (int, time.Duration) {
	offset %= day
	if offset < 0 {
		offset += day
	}
	return int(offset / SegmentDuration), SegmentDuration - offset%SegmentDuration
}
