// Package simulator is a software pod. It decodes the controller's
// messages, runs the activation sequence and the deliveries on its own clock
// and answers the way a pod does, including nonce rejections and faults.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/command"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/message"
	"github.com/avereha/podcomm/pkg/nonce"
	"github.com/avereha/podcomm/pkg/response"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
)

// ErrCrashed is returned in place of the reply to a command the pod was told
// to drop with CrashNextCommand.
var ErrCrashed = errors.New("simulated pod crashed")

// ErrWrongAddress is returned for a message to another pod.
var ErrWrongAddress = errors.New("message addressed to another pod")

const (
	errorIllegalCommand = 0x07

	primePulseInterval  = time.Second
	maxPodLife          = 80 * time.Hour
	tempBasalSegment    = 30 * time.Minute
	maxPulseLogEntries  = 50
	defaultReservoir    = 200.0
	receiverGain        = 1
	rssi                = 0x20
	setupPulseSize      = 5000 // 1e-5 U
	setupPrimePulses    = 52
	setupCannulaPulses  = 10
	defaultPodFirmware  = 4
	defaultPodFwMinor   = 10
	defaultPodProductID = 4
	faultCallingAddress = 0x1234
)

type crashMode int

const (
	crashNone crashMode = iota
	crashBeforeProcessing
	crashAfterProcessing
)

// bolusRun is an immediate bolus being delivered.
type bolusRun struct {
	start    time.Time
	pulses   int
	interval time.Duration
}

func (r *bolusRun) deliveredAt(t time.Time) int {
	if r.interval <= 0 {
		return r.pulses
	}
	n := int(t.Sub(r.start) / r.interval)
	if n < 0 {
		return 0
	}
	if n > r.pulses {
		return r.pulses
	}
	return n
}

func (r *bolusRun) doneAt(t time.Time) bool {
	return r.deliveredAt(t) >= r.pulses
}

type tempRun struct {
	start time.Time
	end   time.Time
	rate  float64
}

func (r *tempRun) pulsesAt(t time.Time) int {
	if t.After(r.end) {
		t = r.end
	}
	return insulin.Pulses(r.rate * t.Sub(r.start).Hours())
}

// Pod is a simulated pod. It is safe for concurrent use; commands are
// handled one at a time.
type Pod struct {
	mu  sync.Mutex
	log *log.Entry

	gen     device.Generation
	address uint32
	lot     uint32
	tid     uint32
	seed    uint16
	nonces  *nonce.Generator

	progress     response.PodProgress
	basal        bool
	activated    time.Time
	filled       float64 // units, reservoir plus everything delivered
	delivered    int     // pulses, finished deliveries only
	notDelivered int     // pulses left by the last cancelled bolus
	alerts       alert.Set
	configured   map[alert.Slot]alert.Configuration
	lastProgSeq  uint8
	pulseLog     []uint32

	fault           response.FaultEventCode
	faultMinutes    uint16
	progressAtFault response.PodProgress

	bolus *bolusRun
	temp  *tempRun

	crash crashMode
	hook  func([]byte)

	// Now is the pod clock.
	Now func() time.Time
}

// New returns an unpaired pod with the given identity. seed is the pod's own
// nonce seed; a controller using another seed is resynced on its first
// nonce command.
func New(lot, tid uint32, seed uint16, gen device.Generation) *Pod {
	return &Pod{
		log:        log.WithFields(log.Fields{"pod": "simulator", "lot": lot, "tid": tid}),
		gen:        gen,
		lot:        lot,
		tid:        tid,
		seed:       seed,
		filled:     defaultReservoir,
		configured: make(map[alert.Slot]alert.Configuration),
		Now:        time.Now,
	}
}

// SetWebMessageHook registers f to receive the pod state after every command.
func (p *Pod) SetWebMessageHook(f func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = f
}

// Exchange handles one encoded message and returns the encoded reply.
func (p *Pod) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.crash == crashBeforeProcessing {
		p.crash = crashNone
		p.log.Warnf("dropping command before processing")
		return nil, ErrCrashed
	}
	msg, err := message.Unmarshal(frame)
	if err != nil {
		return nil, err
	}
	if msg.Address != p.address && msg.Address != message.BroadcastAddress {
		return nil, fmt.Errorf("%w: 0x%08x", ErrWrongAddress, msg.Address)
	}
	p.log.Debugf("received %s", spew.Sdump(msg.Blocks))

	reply := p.handle(msg, p.Now())
	out := &message.Message{
		Address:  msg.Address,
		Sequence: (msg.Sequence + 1) % message.SequenceModulo,
		Blocks:   []block.Block{reply},
	}
	data, err := out.Marshal()
	if err != nil {
		return nil, err
	}
	if p.crash == crashAfterProcessing {
		p.crash = crashNone
		p.log.Warnf("dropping reply after processing")
		return nil, ErrCrashed
	}
	p.notify()
	return data, nil
}

func (p *Pod) illegal() *response.ErrorResponse {
	return &response.ErrorResponse{Code: errorIllegalCommand, FaultCode: p.fault, PodProgress: p.progress}
}

func (p *Pod) faulted() bool {
	return p.fault != response.FaultNone
}

func (p *Pod) handle(msg *message.Message, now time.Time) block.Block {
	p.tick(now)

	for _, b := range msg.Blocks {
		nb, ok := b.(block.NonceBlock)
		if !ok {
			continue
		}
		if p.nonces == nil {
			return p.illegal()
		}
		if sent := nb.GetNonce(); sent != p.nonces.Current() {
			word := nonce.SyncWord(p.lot, p.tid, p.seed, sent, msg.Sequence)
			p.log.Warnf("bad nonce 0x%08x, sync word 0x%04x", sent, word)
			p.nonces = nonce.New(p.lot, p.tid, p.seed)
			return &response.ErrorResponse{Code: response.ErrorBadNonce, SyncWord: word}
		}
		p.nonces.Advance()
		break
	}

	var sched *command.SetInsulinSchedule
	for _, b := range msg.Blocks {
		if p.faulted() {
			switch c := b.(type) {
			case *command.Deactivate:
				p.deactivate(now)
			case *command.GetStatus:
				if c.StatusType != block.PodInfoNormal && c.StatusType != block.PodInfoDetailedStatus {
					return p.podInfo(c.StatusType, now)
				}
			}
			return &response.PodInfoResponse{Info: p.detailed(now)}
		}

		switch c := b.(type) {
		case *command.AssignAddress:
			if p.progress > response.PodProgressReminderInitialized {
				return p.illegal()
			}
			p.address = c.Address
			p.progress = response.PodProgressReminderInitialized
			return p.version(false)
		case *command.SetupPod:
			if p.progress != response.PodProgressReminderInitialized || c.Address != p.address {
				return p.illegal()
			}
			p.progress = response.PodProgressPairingCompleted
			p.nonces = nonce.New(p.lot, p.tid, p.seed)
			p.activated = now
			return p.version(true)
		case *command.GetStatus:
			if c.StatusType == block.PodInfoNormal {
				return p.status(now)
			}
			return p.podInfo(c.StatusType, now)
		case *command.FaultConfig, *command.BeepConfig:
		case *command.ConfigureAlerts:
			for _, cfg := range c.Configurations {
				p.configured[cfg.Slot] = cfg
			}
		case *command.AcknowledgeAlert:
			p.alerts &^= c.Alerts
		case *command.SetInsulinSchedule:
			sched = c
			p.lastProgSeq = msg.Sequence
		case *command.BolusExtra:
			if err := p.startBolus(now, sched, c); err != nil {
				p.log.Warnf("rejecting bolus: %s", err)
				return p.illegal()
			}
		case *command.TempBasalExtra:
			if err := p.startTemp(now, sched, c); err != nil {
				p.log.Warnf("rejecting temp basal: %s", err)
				return p.illegal()
			}
		case *command.BasalScheduleExtra:
			if sched == nil || sched.Schedule.ScheduleType() != command.ScheduleBasal {
				return p.illegal()
			}
			p.basal = true
			if p.progress == response.PodProgressPrimingCompleted {
				p.progress = response.PodProgressBasalInitialized
			}
		case *command.CancelDelivery:
			p.cancel(now, c.Delivery)
			p.lastProgSeq = msg.Sequence
		case *command.Deactivate:
			p.deactivate(now)
		default:
			p.log.Warnf("unexpected %s", b.GetType())
			return p.illegal()
		}
	}
	return p.status(now)
}

func (p *Pod) startBolus(now time.Time, sched *command.SetInsulinSchedule, extra *command.BolusExtra) error {
	if sched == nil {
		return errors.New("no schedule")
	}
	d, ok := sched.Schedule.(*command.BolusDelivery)
	if !ok {
		return fmt.Errorf("%s schedule", sched.Schedule.ScheduleType())
	}
	if p.bolus != nil {
		return errors.New("bolus in progress")
	}
	switch p.progress {
	case response.PodProgressPairingCompleted:
		p.progress = response.PodProgressPriming
	case response.PodProgressBasalInitialized:
		p.progress = response.PodProgressInsertingCannula
	case response.PodProgressRunningAbove50U, response.PodProgressRunningBelow50U:
	default:
		return fmt.Errorf("progress %s", p.progress)
	}
	interval := extra.TimeBetweenPulses
	if interval <= 0 {
		interval = command.DefaultTimeBetweenBolusPulses
	}
	p.bolus = &bolusRun{start: now, pulses: int(d.Pulses), interval: interval}
	p.notDelivered = 0
	return nil
}

func (p *Pod) startTemp(now time.Time, sched *command.SetInsulinSchedule, extra *command.TempBasalExtra) error {
	if sched == nil {
		return errors.New("no schedule")
	}
	d, ok := sched.Schedule.(*command.TempBasalDelivery)
	if !ok {
		return fmt.Errorf("%s schedule", sched.Schedule.ScheduleType())
	}
	if !p.progress.ReadyForDelivery() {
		return fmt.Errorf("progress %s", p.progress)
	}
	if p.temp != nil {
		return errors.New("temp basal in progress")
	}
	duration := time.Duration(d.Table.NumSegments()) * tempBasalSegment
	var rate float64
	if len(extra.RateEntries) > 0 {
		rate = extra.RateEntries[0].Rate()
	}
	p.temp = &tempRun{start: now, end: now.Add(duration), rate: rate}
	return nil
}

func (p *Pod) cancel(now time.Time, what command.DeliveryType) {
	if what&command.CancelBolus != 0 && p.bolus != nil {
		n := p.bolus.deliveredAt(now)
		p.notDelivered = p.bolus.pulses - n
		p.finishBolus(now, n)
	}
	if what&command.CancelTempBasal != 0 && p.temp != nil {
		p.delivered += p.temp.pulsesAt(now)
		p.temp = nil
	}
	if what&command.CancelBasal != 0 {
		p.basal = false
	}
}

func (p *Pod) finishBolus(now time.Time, pulses int) {
	p.delivered += pulses
	p.pulseLog = append(p.pulseLog, uint32(p.minutesActive(now))<<16|uint32(pulses))
	if len(p.pulseLog) > maxPulseLogEntries {
		p.pulseLog = p.pulseLog[1:]
	}
	p.bolus = nil
}

func (p *Pod) deactivate(now time.Time) {
	p.cancel(now, command.CancelAll)
	p.progress = response.PodProgressPodInactive
}

// tick moves the deliveries and the activation sequence forward to now.
func (p *Pod) tick(now time.Time) {
	if p.bolus != nil && p.bolus.doneAt(now) {
		p.finishBolus(now, p.bolus.pulses)
		switch p.progress {
		case response.PodProgressPriming:
			p.progress = response.PodProgressPrimingCompleted
		case response.PodProgressInsertingCannula:
			p.progress = response.PodProgressRunningAbove50U
		}
	}
	if p.temp != nil && !now.Before(p.temp.end) {
		p.delivered += p.temp.pulsesAt(now)
		p.temp = nil
	}
	if p.progress == response.PodProgressRunningAbove50U && p.reservoirAt(now) < insulin.MaxReservoirReading {
		p.progress = response.PodProgressRunningBelow50U
	}
	if p.progress.ReadyForDelivery() && !p.faulted() && p.timeActive(now) >= maxPodLife {
		p.setFault(now, response.FaultExceededMaximumPodLife80Hrs)
	}
}

func (p *Pod) setFault(now time.Time, code response.FaultEventCode) {
	p.log.Warnf("fault %s", code)
	p.progressAtFault = p.progress
	p.faultMinutes = p.minutesActive(now)
	p.cancel(now, command.CancelAll)
	p.fault = code
	p.progress = response.PodProgressFault
}

func (p *Pod) timeActive(now time.Time) time.Duration {
	if p.activated.IsZero() {
		return 0
	}
	return now.Sub(p.activated)
}

func (p *Pod) minutesActive(now time.Time) uint16 {
	return uint16(p.timeActive(now) / time.Minute)
}

func (p *Pod) deliveredAt(now time.Time) int {
	n := p.delivered
	if p.bolus != nil {
		n += p.bolus.deliveredAt(now)
	}
	if p.temp != nil {
		n += p.temp.pulsesAt(now)
	}
	return n
}

func (p *Pod) reservoirAt(now time.Time) float64 {
	return p.filled - insulin.Units(p.deliveredAt(now))
}

func (p *Pod) deliveryStatus() response.DeliveryStatus {
	var d response.DeliveryStatus
	if p.temp != nil {
		d |= response.DeliveryTempBasal
	} else if p.basal {
		d |= response.DeliveryScheduledBasal
	}
	if p.bolus != nil {
		d |= response.DeliveryPriming
	}
	return d
}

func (p *Pod) status(now time.Time) *response.StatusResponse {
	notDelivered := p.notDelivered
	if p.bolus != nil {
		notDelivered = p.bolus.pulses - p.bolus.deliveredAt(now)
	}
	reservoir := uint16(insulin.ReservoirSentinel)
	if r := p.reservoirAt(now); r < insulin.MaxReservoirReading {
		reservoir = uint16(insulin.Pulses(r))
	}
	return &response.StatusResponse{
		DeliveryStatus:    p.deliveryStatus(),
		PodProgress:       p.progress,
		Delivered:         uint16(p.deliveredAt(now)) & 0x1fff,
		LastProgSeqNum:    p.lastProgSeq & 0x0f,
		BolusNotDelivered: uint16(notDelivered) & 0x7ff,
		Alerts:            p.alerts,
		MinutesActive:     p.minutesActive(now) & 0x1fff,
		Reservoir:         reservoir,
	}
}

func (p *Pod) detailed(now time.Time) *response.DetailedStatus {
	s := p.status(now)
	d := &response.DetailedStatus{
		PodProgress:       s.PodProgress,
		DeliveryStatus:    s.DeliveryStatus,
		BolusNotDelivered: s.BolusNotDelivered & 0x3ff,
		LastProgSeqNum:    p.lastProgSeq,
		Delivered:         uint16(p.deliveredAt(now)),
		FaultCode:         p.fault,
		Reservoir:         s.Reservoir,
		MinutesActive:     p.minutesActive(now),
		Alerts:            p.alerts,
		ReceiverGain:      receiverGain,
		RSSI:              rssi,
		PreviousProgress:  response.NoPreviousProgress,
	}
	if p.faulted() {
		d.FaultMinutes = p.faultMinutes
		d.ErrorEventInfo = byte(p.progressAtFault) & 0x0f
		if p.gen.ReportsFaultCallingAddress() {
			d.Trailer = faultCallingAddress
		}
	}
	return d
}

func (p *Pod) podInfo(t block.PodInfoType, now time.Time) block.Block {
	var info response.PodInfo
	switch t {
	case block.PodInfoDetailedStatus:
		info = p.detailed(now)
	case block.PodInfoConfiguredAlerts:
		ca := &response.ConfiguredAlerts{}
		for slot := range p.configured {
			if int(slot) < len(ca.Values) {
				ca.Values[slot] = p.minutesActive(now)
			}
		}
		info = ca
	case block.PodInfoActivationTime:
		info = &response.ActivationTime{
			FaultCode:    p.fault,
			FaultMinutes: p.faultMinutes,
			Activated:    p.activated.Truncate(time.Minute),
		}
	case block.PodInfoPulseLogRecent:
		info = &response.PulseLogRecent{
			LastEntryIndex: uint16(len(p.pulseLog)),
			Entries:        append([]uint32(nil), p.pulseLog...),
		}
	case block.PodInfoPulseLogPrevious:
		info = &response.PulseLogPrevious{}
	default:
		return p.illegal()
	}
	return &response.PodInfoResponse{Info: info}
}

func (p *Pod) version(long bool) *response.VersionResponse {
	fw := response.FirmwareVersion{defaultPodFirmware, defaultPodFwMinor, 0}
	ret := &response.VersionResponse{
		PMVersion:   fw,
		PIVersion:   fw,
		ProductID:   defaultPodProductID,
		PodProgress: p.progress,
		Lot:         p.lot,
		TID:         p.tid,
		Address:     p.address,
	}
	if long {
		ret.Setup = &response.SetupParameters{
			PulseSize:              setupPulseSize,
			BolusPulseInterval:     command.DefaultTimeBetweenBolusPulses,
			PrimePulseInterval:     primePulseInterval,
			PrimePulses:            setupPrimePulses,
			CannulaInsertionPulses: setupCannulaPulses,
			ServiceDuration:        maxPodLife,
		}
	} else {
		ret.ReceiverGain = receiverGain
		ret.RSSI = rssi
	}
	return ret
}

// SetReservoir sets the insulin left in the reservoir.
func (p *Pod) SetReservoir(units float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled = units + insulin.Units(p.deliveredAt(p.Now()))
	p.notify()
}

// SetAlerts raises the alerts in slots.
func (p *Pod) SetAlerts(slots alert.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = slots
	p.notify()
}

// SetFault faults the pod with code, stopping every delivery.
func (p *Pod) SetFault(code response.FaultEventCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFault(p.Now(), code)
	p.notify()
}

// SetActiveTime moves the activation time so the pod has been active for
// minutes.
func (p *Pod) SetActiveTime(minutes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activated = p.Now().Add(-time.Duration(minutes) * time.Minute)
	p.notify()
}

// CrashNextCommand drops the reply to the next message. With
// beforeProcessing the message is not handled either.
func (p *Pod) CrashNextCommand(beforeProcessing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if beforeProcessing {
		p.crash = crashBeforeProcessing
	} else {
		p.crash = crashAfterProcessing
	}
}

// State is the JSON view of the pod sent to the web client.
type State struct {
	Address        string  `json:"address"`
	Lot            uint32  `json:"lot"`
	TID            uint32  `json:"tid"`
	Progress       string  `json:"progress"`
	DeliveryStatus string  `json:"deliveryStatus"`
	Reservoir      float64 `json:"reservoir"`
	Delivered      float64 `json:"delivered"`
	MinutesActive  uint16  `json:"minutesActive"`
	Alerts         string  `json:"alerts"`
	Fault          string  `json:"fault"`
	LastProgSeqNum uint8   `json:"lastProgSeqNum"`
}

func (p *Pod) state(now time.Time) State {
	return State{
		Address:        fmt.Sprintf("%08x", p.address),
		Lot:            p.lot,
		TID:            p.tid,
		Progress:       p.progress.String(),
		DeliveryStatus: p.deliveryStatus().String(),
		Reservoir:      insulin.Round(p.reservoirAt(now)),
		Delivered:      insulin.Units(p.deliveredAt(now)),
		MinutesActive:  p.minutesActive(now),
		Alerts:         p.alerts.String(),
		Fault:          p.fault.String(),
		LastProgSeqNum: p.lastProgSeq,
	}
}

// GetPodStateJson returns the pod state as JSON.
func (p *Pod) GetPodStateJson() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Marshal(p.state(p.Now()))
}

func (p *Pod) notify() {
	if p.hook == nil {
		return
	}
	data, err := json.Marshal(p.state(p.Now()))
	if err != nil {
		p.log.Errorf("could not encode pod state: %s", err)
		return
	}
	p.hook(data)
}
