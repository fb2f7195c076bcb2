package pod

import (
	"fmt"
	"time"

	"github.com/avereha/podcomm/pkg/insulin"
)

type DoseType int

const (
	DoseBolus DoseType = iota
	DoseTempBasal
)

func (t DoseType) String() string {
	switch t {
	case DoseBolus:
		return "bolus"
	case DoseTempBasal:
		return "tempBasal"
	}
	return fmt.Sprintf("dose(%d)", int(t))
}

// Certainty tells whether the pod is known to have accepted a dose.
type Certainty int

const (
	Certain Certainty = iota
	// Uncertain doses were sent but the reply did not confirm them; the
	// next status settles them.
	Uncertain
)

func (c Certainty) String() string {
	if c == Uncertain {
		return "uncertain"
	}
	return "certain"
}

// UnfinalizedDose is a bolus or temp basal the pod may still be delivering.
// Once finalized it is moved to PodState.FinalizedDoses and never changes
// again.
type UnfinalizedDose struct {
	Type DoseType `toml:"type"`
	// Units is the bolus size, or the total a temp basal delivers over
	// Duration.
	Units     float64       `toml:"units"`
	Rate      float64       `toml:"rate"`
	Start     time.Time     `toml:"start"`
	Duration  time.Duration `toml:"duration"`
	Certainty Certainty     `toml:"certainty"`
	Insulin   insulin.Type  `toml:"insulin"`
	// ProgSeq is the sequence number of the message that programmed the
	// dose, matched against the status' last programming sequence.
	ProgSeq   uint8 `toml:"prog_seq"`
	Finalized bool  `toml:"finalized"`
}

// NewBolusDose records a bolus of units started at start.
func NewBolusDose(units float64, start time.Time, pulseInterval time.Duration, ins insulin.Type, seq uint8) *UnfinalizedDose {
	return &UnfinalizedDose{
		Type:     DoseBolus,
		Units:    units,
		Start:    start,
		Duration: time.Duration(insulin.Pulses(units)) * pulseInterval,
		Insulin:  ins,
		ProgSeq:  seq,
	}
}

// NewTempBasalDose records a temp basal of rate U/h for duration.
func NewTempBasalDose(rate float64, duration time.Duration, start time.Time, ins insulin.Type, seq uint8) *UnfinalizedDose {
	return &UnfinalizedDose{
		Type:     DoseTempBasal,
		Units:    rate * duration.Hours(),
		Rate:     rate,
		Start:    start,
		Duration: duration,
		Insulin:  ins,
		ProgSeq:  seq,
	}
}

func (d *UnfinalizedDose) FinishTime() time.Time {
	return d.Start.Add(d.Duration)
}

// IsFinished reports whether the dose is over at t.
func (d *UnfinalizedDose) IsFinished(t time.Time) bool {
	return d.Finalized || !t.Before(d.FinishTime())
}

// IsMutable reports whether the dose can still be amended or cancelled at t.
// A finished dose is never mutable.
func (d *UnfinalizedDose) IsMutable(t time.Time) bool {
	return !d.IsFinished(t)
}

// Progress is the delivered fraction at t, between 0 and 1.
func (d *UnfinalizedDose) Progress(t time.Time) float64 {
	if d.IsFinished(t) || d.Duration <= 0 {
		return 1
	}
	elapsed := t.Sub(d.Start)
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(d.Duration)
}

// DeliveredUnits estimates the insulin delivered by t.
func (d *UnfinalizedDose) DeliveredUnits(t time.Time) float64 {
	return insulin.Round(d.Units * d.Progress(t))
}

// Cut ends the dose at t. A bolus loses the notDelivered units the pod
// reported, a temp basal keeps what its rate delivered until t.
func (d *UnfinalizedDose) Cut(t time.Time, notDelivered float64) error {
	if !d.IsMutable(t) {
		return ErrDoseFinalized
	}
	elapsed := t.Sub(d.Start)
	if elapsed < 0 {
		elapsed = 0
	}
	switch d.Type {
	case DoseBolus:
		d.Units = insulin.Round(d.Units - notDelivered)
		if d.Units < 0 {
			d.Units = 0
		}
	case DoseTempBasal:
		d.Units = d.Rate * elapsed.Hours()
	}
	d.Duration = elapsed
	return nil
}

func (d *UnfinalizedDose) String() string {
	if d.Type == DoseTempBasal {
		return fmt.Sprintf("tempBasal %.2f U/h for %s at %s (%s)", d.Rate, d.Duration, d.Start.Format(time.RFC3339), d.Certainty)
	}
	return fmt.Sprintf("bolus %.2f U at %s (%s)", d.Units, d.Start.Format(time.RFC3339), d.Certainty)
}
