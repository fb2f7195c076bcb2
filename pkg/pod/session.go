package pod

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/command"
	"github.com/avereha/podcomm/pkg/message"
	"github.com/avereha/podcomm/pkg/nonce"
	"github.com/avereha/podcomm/pkg/response"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Transport sends one encoded message to the pod and returns the encoded
// reply. It owns timeouts, retries and the link itself.
type Transport interface {
	Exchange(ctx context.Context, frame []byte) ([]byte, error)
}

const (
	// DefaultPacketTimeout is the SetupPod packet timeout.
	DefaultPacketTimeout = 4

	primeUnits             = 2.6
	cannulaInsertionUnits  = 0.5
	activationPulseSpacing = time.Second
)

// commands a faulted pod still accepts
var faultedAllowed = map[block.Type]bool{
	block.GET_STATUS:   true,
	block.FAULT_CONFIG: true,
	block.DEACTIVATE:   true,
}

// Session drives one pod. Commands are strictly sequential: a command
// started while another one waits for its reply fails with ErrSessionBusy.
type Session struct {
	transport Transport
	state     *PodState
	nonces    *nonce.Generator
	log       *log.Entry
	busy      atomic.Bool

	// Now is the session clock.
	Now func() time.Time
}

// NewSession returns a session for state, which may be nil until a pod is
// paired.
func NewSession(t Transport, state *PodState) *Session {
	s := &Session{
		transport: t,
		Now:       time.Now,
		log:       log.WithField("session", uuid.New().String()),
	}
	s.setState(state)
	return s
}

func (s *Session) setState(state *PodState) {
	s.state = state
	s.nonces = nil
	if state == nil {
		return
	}
	s.log = s.log.WithField("address", fmt.Sprintf("%08x", state.Address))
	state.Log = s.log
	if state.Nonce.Lot != 0 || state.Nonce.TID != 0 {
		s.nonces = nonce.Restore(state.Nonce)
	}
}

// State returns the pod state, nil when there is no pod.
func (s *Session) State() *PodState {
	return s.state
}

// SetState replaces the pod state, starting a new pairing.
func (s *Session) SetState(state *PodState) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrSessionBusy
	}
	defer s.busy.Store(false)
	s.setState(state)
	return nil
}

func (s *Session) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrSessionBusy
	}
	if s.state == nil {
		s.busy.Store(false)
		return ErrNoPod
	}
	return nil
}

func (s *Session) release() {
	s.busy.Store(false)
}

// stamp returns blocks with the current nonce on every nonce block.
func (s *Session) stamp(blocks []block.Block) ([]block.Block, *uint32, error) {
	var sent *uint32
	ret := make([]block.Block, len(blocks))
	for i, b := range blocks {
		nb, ok := b.(block.NonceBlock)
		if !ok {
			ret[i] = b
			continue
		}
		if s.nonces == nil {
			return nil, nil, fmt.Errorf("%w: %s needs a nonce before the pod is set up", ErrInvalidCommand, b.GetType())
		}
		n := s.nonces.Current()
		sent = &n
		ret[i] = nb.WithNonce(n)
	}
	return ret, sent, nil
}

// exchange sends blocks to address and returns the decoded reply and the
// sequence number of the message the pod accepted. A bad nonce is resynced
// and the same blocks are sent once more.
func (s *Session) exchange(ctx context.Context, address uint32, blocks ...block.Block) (*message.Message, uint8, error) {
	st := s.state
	if st.Faulted() {
		for _, b := range blocks {
			if !faultedAllowed[b.GetType()] {
				return nil, 0, fmt.Errorf("%s: %w", b.GetType(), ErrPodFaulted)
			}
		}
	}

	resynced := false
	for {
		seq := st.MsgSeq
		stamped, sent, err := s.stamp(blocks)
		if err != nil {
			return nil, 0, err
		}
		msg := &message.Message{Address: address, Sequence: seq, Blocks: stamped}
		frame, err := msg.Marshal()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		s.log.Debugf("sending %s", spew.Sdump(stamped))
		s.log.Tracef("send seq %d, HEX, %x", seq, frame)

		raw, err := s.transport.Exchange(ctx, frame)
		if err != nil {
			return nil, 0, err
		}
		s.log.Tracef("receive, HEX, %x", raw)
		rsp, err := message.Unmarshal(raw)
		if err != nil {
			return nil, 0, err
		}
		st.MsgSeq = (seq + 2) % message.SequenceModulo
		if want := (seq + 1) % message.SequenceModulo; rsp.Sequence != want {
			s.log.Warnf("reply sequence %d, expected %d", rsp.Sequence, want)
		}
		if len(rsp.Blocks) == 0 {
			return nil, 0, &UnexpectedResponseError{Want: block.STATUS_RESPONSE}
		}

		e, ok := rsp.Blocks[0].(*response.ErrorResponse)
		if !ok {
			if sent != nil {
				s.nonces.Advance()
				st.Nonce = s.nonces.State()
			}
			return rsp, seq, nil
		}
		if !e.IsBadNonce() || sent == nil {
			s.save()
			return nil, 0, &PodError{Response: e}
		}
		if resynced {
			s.save()
			return nil, 0, &NonceResyncError{SyncWord: e.SyncWord}
		}
		s.log.Warnf("nonce 0x%08x rejected, resyncing with sync word 0x%04x", *sent, e.SyncWord)
		s.nonces.Resync(e.SyncWord, *sent, seq)
		st.Nonce = s.nonces.State()
		resynced = true
	}
}

func (s *Session) save() {
	if err := s.state.Save(); err != nil {
		s.log.Errorf("could not save pod state: %s", err)
	}
}

// fold applies the status carried by rsp and returns it.
func (s *Session) fold(rsp *message.Message) (*response.StatusResponse, *response.DetailedStatus, error) {
	now := s.Now()
	for _, b := range rsp.Blocks {
		switch r := b.(type) {
		case *response.StatusResponse:
			s.state.Update(now, r)
			return r, nil, nil
		case *response.PodInfoResponse:
			if ds, ok := r.Info.(*response.DetailedStatus); ok {
				s.state.UpdateDetailed(now, ds)
				return ds.Status(), ds, nil
			}
		}
	}
	return nil, nil, &UnexpectedResponseError{Want: block.STATUS_RESPONSE, Got: rsp.Blocks[0].GetType()}
}

// command sends blocks, records dose if the pod accepted them and folds the
// status reply into the state.
func (s *Session) command(ctx context.Context, dose *UnfinalizedDose, blocks ...block.Block) (*response.StatusResponse, error) {
	rsp, seq, err := s.exchange(ctx, s.state.Address, blocks...)
	if err != nil {
		return nil, err
	}
	if dose != nil {
		dose.Start = s.Now()
		s.state.FinishDoses(dose.Start)
		dose.ProgSeq = seq
		dose.Certainty = Uncertain
		if dose.Type == DoseBolus {
			s.state.UnfinalizedBolus = dose
		} else {
			s.state.UnfinalizedTempBasal = dose
		}
	}
	status, _, err := s.fold(rsp)
	if err != nil {
		s.save()
		return nil, err
	}
	if s.state.PodProgress.Faulted() && s.state.Fault == nil {
		if err := s.fetchFault(ctx); err != nil {
			s.log.Warnf("could not read fault details: %s", err)
			s.save()
			return nil, fmt.Errorf("%w: reading fault details: %w", ErrPodFaulted, err)
		}
	}
	s.save()
	return status, nil
}

// fetchFault reads the detailed status of a pod that reported a fault
// progress without the fault details.
func (s *Session) fetchFault(ctx context.Context) error {
	rsp, _, err := s.exchange(ctx, s.state.Address, &command.GetStatus{StatusType: block.PodInfoDetailedStatus})
	if err != nil {
		return err
	}
	_, ds, err := s.fold(rsp)
	if err != nil {
		return err
	}
	if ds == nil {
		return &UnexpectedResponseError{Want: block.POD_INFO_RESPONSE, Got: rsp.Blocks[0].GetType()}
	}
	return nil
}

func (s *Session) version(ctx context.Context, b block.Block) (*response.VersionResponse, error) {
	rsp, _, err := s.exchange(ctx, message.BroadcastAddress, b)
	if err != nil {
		return nil, err
	}
	v, ok := rsp.Blocks[0].(*response.VersionResponse)
	if !ok {
		return nil, &UnexpectedResponseError{Want: block.VERSION_RESPONSE, Got: rsp.Blocks[0].GetType()}
	}
	st := s.state
	st.Lot = v.Lot
	st.TID = v.TID
	st.PMVersion = v.PMVersion.String()
	st.PIVersion = v.PIVersion.String()
	if st.PodProgress != v.PodProgress {
		s.log.Infof("pod progress %s -> %s", st.PodProgress, v.PodProgress)
	}
	st.PodProgress = v.PodProgress
	s.save()
	return v, nil
}

// AssignAddress gives the pod the state's address.
func (s *Session) AssignAddress(ctx context.Context) (*response.VersionResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.version(ctx, &command.AssignAddress{Address: s.state.Address})
}

// SetupPod binds the address to the pod and seeds the nonce generator with
// seed, derived from the pairing key material.
func (s *Session) SetupPod(ctx context.Context, seed uint16) (*response.VersionResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	now := s.Now()
	v, err := s.version(ctx, &command.SetupPod{
		Address:       s.state.Address,
		PacketTimeout: DefaultPacketTimeout,
		Date:          now,
		Lot:           s.state.Lot,
		TID:           s.state.TID,
	})
	if err != nil {
		return nil, err
	}
	s.nonces = nonce.New(v.Lot, v.TID, seed)
	s.state.Nonce = s.nonces.State()
	s.state.ActivationTime = now
	s.save()
	return v, nil
}

// ConfigureFaults sends the fault table configuration.
func (s *Session) ConfigureFaults(ctx context.Context, tab5Sub16, tab5Sub17 uint8) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.command(ctx, nil, &command.FaultConfig{Tab5Sub16: tab5Sub16, Tab5Sub17: tab5Sub17})
}

func (s *Session) ConfigureAlerts(ctx context.Context, cfgs []alert.Configuration) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.command(ctx, nil, &command.ConfigureAlerts{Configurations: cfgs})
}

func (s *Session) AcknowledgeAlerts(ctx context.Context, alerts alert.Set) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.command(ctx, nil, &command.AcknowledgeAlert{Alerts: alerts})
}

func (s *Session) BeepConfig(ctx context.Context, cfg command.BeepConfig) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.command(ctx, nil, &cfg)
}

func activationBolus(units float64) ([]block.Block, error) {
	sched, err := command.NewBolus(0, units)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	extra := command.NewBolusExtra(units, 0, 0, command.BeepOptions{})
	extra.TimeBetweenPulses = activationPulseSpacing
	return []block.Block{sched, extra}, nil
}

// Prime fills the cannula.
func (s *Session) Prime(ctx context.Context) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	blocks, err := activationBolus(primeUnits)
	if err != nil {
		return nil, err
	}
	return s.command(ctx, nil, blocks...)
}

// InsertCannula programs the basal schedule and inserts the cannula.
func (s *Session) InsertCannula(ctx context.Context, schedule basal.Schedule, offset time.Duration) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	if _, err := s.setBasalSchedule(ctx, schedule, offset); err != nil {
		return nil, err
	}
	blocks, err := activationBolus(cannulaInsertionUnits)
	if err != nil {
		return nil, err
	}
	return s.command(ctx, nil, blocks...)
}

// GetStatus reads the short status.
func (s *Session) GetStatus(ctx context.Context) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.command(ctx, nil, &command.GetStatus{StatusType: block.PodInfoNormal})
}

// GetDetailedStatus reads the detailed status, recording any fault.
func (s *Session) GetDetailedStatus(ctx context.Context) (*response.DetailedStatus, error) {
	info, err := s.GetPodInfo(ctx, block.PodInfoDetailedStatus)
	if err != nil {
		return nil, err
	}
	return info.(*response.DetailedStatus), nil
}

// GetPodInfo reads one pod info page.
func (s *Session) GetPodInfo(ctx context.Context, t block.PodInfoType) (response.PodInfo, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	rsp, _, err := s.exchange(ctx, s.state.Address, &command.GetStatus{StatusType: t})
	if err != nil {
		return nil, err
	}
	defer s.save()
	for _, b := range rsp.Blocks {
		r, ok := b.(*response.PodInfoResponse)
		if !ok || r.Info.InfoType() != t {
			continue
		}
		if ds, ok := r.Info.(*response.DetailedStatus); ok {
			s.state.UpdateDetailed(s.Now(), ds)
		}
		return r.Info, nil
	}
	// a faulted pod answers with its detailed status
	if _, _, err := s.fold(rsp); err == nil && t != block.PodInfoDetailedStatus {
		return nil, fmt.Errorf("%s: %w", t, ErrPodFaulted)
	}
	return nil, &UnexpectedResponseError{Want: block.POD_INFO_RESPONSE, Got: rsp.Blocks[0].GetType()}
}

// SetBasalSchedule programs schedule, with offset the time elapsed since
// midnight in the pod's time zone.
func (s *Session) SetBasalSchedule(ctx context.Context, schedule basal.Schedule, offset time.Duration) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.setBasalSchedule(ctx, schedule, offset)
}

func (s *Session) setBasalSchedule(ctx context.Context, schedule basal.Schedule, offset time.Duration) (*response.StatusResponse, error) {
	gen := s.state.Generation
	sched, err := command.NewBasalSchedule(0, schedule, offset, gen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	extra := command.NewBasalScheduleExtra(schedule, offset, gen, command.BeepOptions{})
	status, err := s.command(ctx, nil, sched, extra)
	if err != nil {
		return nil, err
	}
	s.state.BasalSchedule = append([]basal.Entry(nil), schedule.Entries...)
	s.save()
	return status, nil
}

// SetTempBasal runs rate U/h for duration instead of the scheduled basal.
func (s *Session) SetTempBasal(ctx context.Context, rate float64, duration time.Duration) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	if d := s.state.UnfinalizedTempBasal; d != nil && d.IsMutable(s.Now()) {
		return nil, ErrTempBasalInProgress
	}
	sched, err := command.NewTempBasal(0, rate, duration)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	extra := command.NewTempBasalExtra(rate, duration, command.BeepOptions{})
	dose := NewTempBasalDose(rate, duration, s.Now(), s.state.InsulinType, 0)
	return s.command(ctx, dose, sched, extra)
}

// Bolus delivers units now.
func (s *Session) Bolus(ctx context.Context, units float64) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	if d := s.state.UnfinalizedBolus; d != nil && d.IsMutable(s.Now()) {
		return nil, ErrBolusInProgress
	}
	sched, err := command.NewBolus(0, units)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	extra := command.NewBolusExtra(units, 0, 0, command.BeepOptions{})
	dose := NewBolusDose(units, s.Now(), extra.TimeBetweenPulses, s.state.InsulinType, 0)
	return s.command(ctx, dose, sched, extra)
}

// CancelDelivery stops the deliveries in what. Cancelled doses are cut to
// what the pod delivered.
func (s *Session) CancelDelivery(ctx context.Context, what command.DeliveryType, beep alert.BeepType) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.command(ctx, nil, &command.CancelDelivery{Delivery: what, BeepType: beep})
}

// Deactivate stops the pod for good and drops its state.
func (s *Session) Deactivate(ctx context.Context) (*response.StatusResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	status, err := s.command(ctx, nil, &command.Deactivate{})
	if err != nil {
		return nil, err
	}
	if err := s.state.Remove(); err != nil {
		s.log.Errorf("could not remove pod state: %s", err)
	}
	s.log.Infof("pod deactivated")
	s.state = nil
	s.nonces = nil
	return status, nil
}
