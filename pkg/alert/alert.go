// Package alert models the pod's eight alert slots and the 6 byte
// configuration record used to program them.
package alert

import (
	"errors"
	"fmt"
	"strings"
)

// Slot is one of the eight fixed alert slots.
type Slot uint8

const (
	SlotAutoOff Slot = iota
	SlotNotUsed
	SlotShutdownImminent
	SlotExpirationReminder
	SlotLowReservoir
	SlotSuspendInProgress
	SlotSuspendEnded
	SlotExpired
)

// NumSlots is the number of alert slots a pod has.
const NumSlots = 8

var slotNames = [NumSlots]string{
	"autoOff",
	"notUsed",
	"shutdownImminent",
	"expirationReminder",
	"lowReservoir",
	"suspendInProgress",
	"suspendEnded",
	"expired",
}

func (s Slot) String() string {
	if int(s) < NumSlots {
		return slotNames[s]
	}
	return fmt.Sprintf("slot(%d)", uint8(s))
}

// Set is a bitset of slots as reported by status responses and consumed by
// AcknowledgeAlert.
type Set uint8

// NewSet builds a set from slots.
func NewSet(slots ...Slot) Set {
	var s Set
	for _, slot := range slots {
		s |= 1 << slot
	}
	return s
}

// Contains reports whether slot is in the set.
func (s Set) Contains(slot Slot) bool {
	return s&(1<<slot) != 0
}

// Slots lists the members of the set in slot order.
func (s Set) Slots() []Slot {
	var ret []Slot
	for i := Slot(0); i < NumSlots; i++ {
		if s.Contains(i) {
			ret = append(ret, i)
		}
	}
	return ret
}

func (s Set) String() string {
	if s == 0 {
		return "none"
	}
	var names []string
	for _, slot := range s.Slots() {
		names = append(names, slot.String())
	}
	return strings.Join(names, ",")
}

// BeepRepeat controls how often an active alert sounds.
type BeepRepeat uint8

const (
	RepeatOnce BeepRepeat = iota
	RepeatEvery1MinuteFor3MinutesAndRepeatEvery60Minutes
	RepeatEvery1MinuteFor15Minutes
	RepeatEvery1MinuteFor3MinutesAndRepeatEvery15Minutes
	RepeatEvery3MinutesFor60MinutesStartingAt2Minutes
	RepeatEvery60Minutes
	RepeatEvery15Minutes
	RepeatEvery15MinutesFor60MinutesStartingAt30Minutes
	RepeatEvery5Minutes
)

// BeepType is a beep pattern.
type BeepType uint8

const (
	BeepNoBeepCancel BeepType = iota
	BeepBeeepBeeepBeeep
	BeepBipBeeepBipBeeepBipBeeep
	BeepBipBip
	BeepBeep
	BeepBeepBeepBeep
	BeepBeeeep
	BeepBipBipBipBipBipBip
	BeepBeeepBeeep
)

// BeepNoBeepNonCancel leaves the current beep pattern alone. Only beep
// configuration and delivery commands accept it.
const BeepNoBeepNonCancel BeepType = 0x0f

// Trigger is what fires an alert: either elapsed time or reservoir level.
type Trigger interface {
	// value is the 16 bit wire encoding of the trigger.
	value() uint16
	isUnits() bool
}

// TimeUntilAlert fires the alert after the given number of minutes.
type TimeUntilAlert struct {
	Minutes uint16
}

func (t TimeUntilAlert) value() uint16 { return t.Minutes }
func (t TimeUntilAlert) isUnits() bool { return false }

// UnitsRemaining fires the alert when the reservoir drops to Units. The pod
// counts in ticks of two pulses (0.1 U).
type UnitsRemaining struct {
	Units float64
}

const ticksPerUnit = 10

func (u UnitsRemaining) value() uint16 { return uint16(u.Units*ticksPerUnit + 0.5) }
func (u UnitsRemaining) isUnits() bool { return true }

// ConfigurationSize is the encoded size of one Configuration.
const ConfigurationSize = 6

// MaxDuration is the largest duration the 9 bit field holds, in minutes.
const MaxDuration = 0x1ff

var (
	ErrInvalidSlot     = errors.New("alert slot out of range")
	ErrInvalidDuration = errors.New("alert duration out of range")
	ErrInvalidBeep     = errors.New("alert beep out of range")
	ErrMissingTrigger  = errors.New("alert has no trigger")
)

// Configuration programs one alert slot.
type Configuration struct {
	Slot       Slot
	Active     bool
	AutoOff    bool
	Duration   uint16 // minutes
	Trigger    Trigger
	BeepRepeat BeepRepeat
	BeepType   BeepType
}

// Marshal encodes c as
// [slot<<4 | active<<3 | units<<2 | autoOff<<1 | duration>>8] [duration] [trigger u16] [repeat] [type].
func (c *Configuration) Marshal() ([]byte, error) {
	if c.Slot >= NumSlots {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, c.Slot)
	}
	if c.Duration > MaxDuration {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, c.Duration)
	}
	if c.BeepRepeat > RepeatEvery5Minutes || c.BeepType > BeepBeeepBeeep {
		return nil, fmt.Errorf("%w: repeat %d type %d", ErrInvalidBeep, c.BeepRepeat, c.BeepType)
	}
	if c.Trigger == nil {
		return nil, ErrMissingTrigger
	}

	b := byte(c.Slot) << 4
	if c.Active {
		b |= 1 << 3
	}
	if c.Trigger.isUnits() {
		b |= 1 << 2
	}
	if c.AutoOff {
		b |= 1 << 1
	}
	b |= byte(c.Duration>>8) & 1

	v := c.Trigger.value()
	return []byte{b, byte(c.Duration), byte(v >> 8), byte(v), byte(c.BeepRepeat), byte(c.BeepType)}, nil
}

// UnmarshalConfiguration decodes one 6 byte record.
func UnmarshalConfiguration(data []byte) (*Configuration, error) {
	if len(data) < ConfigurationSize {
		return nil, fmt.Errorf("alert configuration is too short: %x", data)
	}
	ret := &Configuration{
		Slot:       Slot(data[0] >> 4),
		Active:     data[0]&(1<<3) != 0,
		AutoOff:    data[0]&(1<<1) != 0,
		Duration:   uint16(data[0]&1)<<8 | uint16(data[1]),
		BeepRepeat: BeepRepeat(data[4]),
		BeepType:   BeepType(data[5]),
	}
	if ret.Slot >= NumSlots {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, ret.Slot)
	}
	if ret.BeepRepeat > RepeatEvery5Minutes || ret.BeepType > BeepBeeepBeeep {
		return nil, fmt.Errorf("%w: repeat %d type %d", ErrInvalidBeep, ret.BeepRepeat, ret.BeepType)
	}
	v := uint16(data[2])<<8 | uint16(data[3])
	if data[0]&(1<<2) != 0 {
		ret.Trigger = UnitsRemaining{Units: float64(v) / ticksPerUnit}
	} else {
		ret.Trigger = TimeUntilAlert{Minutes: v}
	}
	return ret, nil
}
