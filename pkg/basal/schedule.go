// Package basal converts basal schedules, temp basals and boluses into the
// pod's 30 minute segment delivery tables and pulse rate entries.
package basal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avereha/podcomm/pkg/insulin"
)

const (
	// SegmentDuration is the width of one delivery table segment.
	SegmentDuration = 30 * time.Minute
	// NumSegments is the number of segments in a day.
	NumSegments = 48
	day         = 24 * time.Hour
)

var (
	ErrEmptySchedule   = errors.New("basal schedule is empty")
	ErrInvalidSchedule = errors.New("invalid basal schedule")
)

// Entry is one rate starting at an offset from midnight.
type Entry struct {
	Start time.Duration
	Rate  float64 // U/h
}

// Schedule is a day of basal rates sorted by start, beginning at midnight.
type Schedule struct {
	Entries []Entry
}

// NewSchedule validates entries and returns them as a schedule. Entries are
// sorted by start; the first must start at midnight and every start must
// fall on a segment boundary.
func NewSchedule(entries []Entry) (Schedule, error) {
	if len(entries) == 0 {
		return Schedule{}, ErrEmptySchedule
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	if sorted[0].Start != 0 {
		return Schedule{}, fmt.Errorf("%w: first entry starts at %s", ErrInvalidSchedule, sorted[0].Start)
	}
	for i, e := range sorted {
		if e.Start < 0 || e.Start >= day {
			return Schedule{}, fmt.Errorf("%w: start %s outside the day", ErrInvalidSchedule, e.Start)
		}
		if e.Start%SegmentDuration != 0 {
			return Schedule{}, fmt.Errorf("%w: start %s not on a 30 minute boundary", ErrInvalidSchedule, e.Start)
		}
		if i > 0 && e.Start == sorted[i-1].Start {
			return Schedule{}, fmt.Errorf("%w: duplicate start %s", ErrInvalidSchedule, e.Start)
		}
		if e.Rate < 0 || e.Rate > insulin.MaxBasalRate {
			return Schedule{}, fmt.Errorf("%w: rate %.2f U/h", ErrInvalidSchedule, e.Rate)
		}
	}
	return Schedule{Entries: sorted}, nil
}

// RateAt returns the rate in effect at offset from midnight.
func (s Schedule) RateAt(offset time.Duration) float64 {
	i, _ := s.lookup(offset)
	return s.Entries[i].Rate
}

func (s Schedule) lookup(offset time.Duration) (int, Entry) {
	offset %= day
	if offset < 0 {
		offset += day
	}
	idx := 0
	for i, e := range s.Entries {
		if e.Start > offset {
			break
		}
		idx = i
	}
	return idx, s.Entries[idx]
}

// Span is a run of one rate.
type Span struct {
	Start    time.Duration
	Duration time.Duration
	Rate     float64
}

// Spans merges adjacent entries with the same rate and returns how long each
// resulting rate runs.
func (s Schedule) Spans() []Span {
	var ret []Span
	for i, e := range s.Entries {
		end := day
		if i+1 < len(s.Entries) {
			end = s.Entries[i+1].Start
		}
		if n := len(ret); n > 0 && ret[n-1].Rate == e.Rate {
			ret[n-1].Duration += end - e.Start
			continue
		}
		ret = append(ret, Span{Start: e.Start, Duration: end - e.Start, Rate: e.Rate})
	}
	return ret
}

// DailyTotal is the insulin the schedule delivers in a day.
func (s Schedule) DailyTotal() float64 {
	var total float64
	for _, span := range s.Spans() {
		total += span.Rate * span.Duration.Hours()
	}
	return total
}
