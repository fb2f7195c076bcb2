package pod

import (
	"errors"
	"os"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/nonce"
	"github.com/avereha/podcomm/pkg/response"

	toml "github.com/pelletier/go-toml"
	log "github.com/sirupsen/logrus"
)

// FaultRecord is the fault a pod reported in a detailed status.
type FaultRecord struct {
	Code response.FaultEventCode `toml:"code"`
	// PodAge is the pod's age at the fault, negative if it did not record
	// it.
	PodAge          time.Duration        `toml:"pod_age"`
	ProgressAtFault response.PodProgress `toml:"progress_at_fault"`
	OcclusionType   uint8                `toml:"occlusion_type"`
	CallingAddress  uint16               `toml:"calling_address"`
	ReportedAt      time.Time            `toml:"reported_at"`
}

// PodState is everything known about the paired pod. It is created when
// pairing starts and changed only by decoded replies.
type PodState struct {
	Address     uint32            `toml:"address"`
	LTK         string            `toml:"ltk"` // hex
	Lot         uint32            `toml:"lot"`
	TID         uint32            `toml:"tid"`
	Generation  device.Generation `toml:"generation"`
	InsulinType insulin.Type      `toml:"insulin_type"`
	PMVersion   string            `toml:"pm_version"`
	PIVersion   string            `toml:"pi_version"`

	Nonce          nonce.State `toml:"nonce"`
	MsgSeq         uint8       `toml:"msg_seq"`
	LastProgSeqNum uint8       `toml:"last_prog_seq"`

	PodProgress    response.PodProgress    `toml:"progress"`
	DeliveryStatus response.DeliveryStatus `toml:"delivery_status"`
	ActivationTime time.Time               `toml:"activation_time"`
	LastStatus     time.Time               `toml:"last_status"`
	MinutesActive  uint16                  `toml:"minutes_active"`

	// Reservoir is MaxReservoirReading while the pod reports more than that.
	Reservoir        float64   `toml:"reservoir"`
	Delivered        float64   `toml:"delivered"`
	ActiveAlertSlots alert.Set `toml:"alerts"`

	BasalSchedule []basal.Entry `toml:"basal_schedule"`

	Fault                *FaultRecord      `toml:"fault"`
	UnfinalizedBolus     *UnfinalizedDose  `toml:"bolus"`
	UnfinalizedTempBasal *UnfinalizedDose  `toml:"temp_basal"`
	FinalizedDoses       []UnfinalizedDose `toml:"finalized_doses"`

	Filename string `toml:"-"`
	// Log carries the fields of the session driving the pod.
	Log *log.Entry `toml:"-"`
}

// NewState starts the state of a pod being paired at address.
func NewState(filename string, address uint32, gen device.Generation, ins insulin.Type) *PodState {
	return &PodState{
		Filename:    filename,
		Address:     address,
		Generation:  gen,
		InsulinType: ins,
	}
}

// LoadState reads a state saved by Save.
func LoadState(filename string) (*PodState, error) {
	var ret PodState
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	err = toml.Unmarshal(data, &ret)
	if err != nil {
		return nil, err
	}
	ret.Filename = filename
	return &ret, nil
}

func (p *PodState) Save() error {
	if p.Filename == "" {
		return nil
	}
	log.Debugf("Saving state to file: %s", p.Filename)
	data, err := toml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(p.Filename, data, 0600)
}

// Remove deletes the saved state, once the pod is deactivated.
func (p *PodState) Remove() error {
	if p.Filename == "" {
		return nil
	}
	err := os.Remove(p.Filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Faulted reports whether the pod has faulted or run past its activation
// time. Only status, fault configuration and deactivation may be sent.
func (p *PodState) Faulted() bool {
	return p.Fault != nil || p.PodProgress.Faulted()
}

// Schedule returns the stored basal schedule.
func (p *PodState) Schedule() (basal.Schedule, error) {
	return basal.NewSchedule(p.BasalSchedule)
}

func (p *PodState) logger() *log.Entry {
	if p.Log != nil {
		return p.Log
	}
	return log.NewEntry(log.StandardLogger())
}

// Update folds a StatusResponse received at now into the state and settles
// the unfinalized doses against it.
func (p *PodState) Update(now time.Time, s *response.StatusResponse) {
	if p.PodProgress != s.PodProgress {
		p.logger().Infof("pod progress %s -> %s", p.PodProgress, s.PodProgress)
	}
	p.PodProgress = s.PodProgress
	p.DeliveryStatus = s.DeliveryStatus
	p.Delivered = s.DeliveredUnits()
	p.Reservoir, _ = s.ReservoirUnits()
	p.ActiveAlertSlots = s.Alerts
	p.LastProgSeqNum = s.LastProgSeqNum
	p.MinutesActive = s.MinutesActive
	p.LastStatus = now
	if p.ActivationTime.IsZero() && s.MinutesActive > 0 && p.PodProgress >= response.PodProgressRunningAbove50U {
		p.ActivationTime = now.Add(-s.TimeActive())
	}
	p.reconcile(now, s)
}

// UpdateDetailed is Update for a detailed status, also recording a fault.
func (p *PodState) UpdateDetailed(now time.Time, d *response.DetailedStatus) {
	p.Update(now, d.Status())
	f := d.Fault(p.Generation)
	if f == nil || p.Fault != nil {
		return
	}
	rec := &FaultRecord{
		Code:            f.Code,
		PodAge:          -1,
		ProgressAtFault: f.ProgressAtFault,
		OcclusionType:   f.OcclusionType,
		ReportedAt:      now,
	}
	if f.Time != nil {
		rec.PodAge = *f.Time
	}
	if f.CallingAddress != nil {
		rec.CallingAddress = *f.CallingAddress
	}
	p.logger().Warnf("pod fault %s", f)
	p.Fault = rec
}

func (p *PodState) reconcile(now time.Time, s *response.StatusResponse) {
	p.UnfinalizedBolus = p.settle(now, p.UnfinalizedBolus, s.DeliveryStatus.BolusRunning(), s.BolusNotDeliveredUnits(), s.LastProgSeqNum)
	p.UnfinalizedTempBasal = p.settle(now, p.UnfinalizedTempBasal, s.DeliveryStatus.TempBasalRunning(), 0, s.LastProgSeqNum)
}

// settle returns d if it is still running, otherwise finalizes it.
func (p *PodState) settle(now time.Time, d *UnfinalizedDose, running bool, notDelivered float64, seq uint8) *UnfinalizedDose {
	if d == nil {
		return nil
	}
	l := p.logger()
	if d.Certainty == Uncertain {
		if seq != d.ProgSeq && !running {
			l.Warnf("dropping unconfirmed %s", d)
			return nil
		}
		d.Certainty = Certain
	}
	if running && !d.IsFinished(now) {
		return d
	}
	if !d.IsFinished(now) {
		// stopped before its programmed end
		if err := d.Cut(now, notDelivered); err != nil {
			l.Warnf("could not cut %s: %s", d, err)
		}
	}
	p.finalize(d)
	return nil
}

func (p *PodState) finalize(d *UnfinalizedDose) {
	d.Finalized = true
	p.logger().Infof("finalized %s", d)
	p.FinalizedDoses = append(p.FinalizedDoses, *d)
}

// FinishDoses finalizes the unfinalized doses whose programmed end is past
// at now. A dose still uncertain keeps its certainty in the history.
func (p *PodState) FinishDoses(now time.Time) {
	for _, slot := range []**UnfinalizedDose{&p.UnfinalizedBolus, &p.UnfinalizedTempBasal} {
		d := *slot
		if d == nil || !d.IsFinished(now) {
			continue
		}
		if d.Certainty == Uncertain {
			p.logger().Warnf("finalizing unconfirmed %s", d)
		}
		p.finalize(d)
		*slot = nil
	}
}

// Reconcile settles the unfinalized doses against s without updating the
// rest of the state.
func (p *PodState) Reconcile(now time.Time, s *response.StatusResponse) {
	p.reconcile(now, s)
}
