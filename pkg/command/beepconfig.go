package command

import (
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// Reminder is a completion beep flag and reminder interval for one delivery
// kind.
type Reminder struct {
	Completion bool
	Interval   time.Duration // whole minutes, at most 63
}

func (r Reminder) marshal() byte {
	b := byte(r.Interval/time.Minute) & 0x3f
	if r.Completion {
		b |= 1 << 6
	}
	return b
}

func unmarshalReminder(b byte) Reminder {
	return Reminder{
		Completion: wire.Flag(b, 6),
		Interval:   time.Duration(wire.Bits(b, 0, 6)) * time.Minute,
	}
}

// BeepConfig plays a beep and sets the completion beeps and reminders for
// basal, temp basal and bolus.
type BeepConfig struct {
	BeepType  alert.BeepType
	Basal     Reminder
	TempBasal Reminder
	Bolus     Reminder
}

func UnmarshalBeepConfig(data []byte) (*BeepConfig, error) {
	if err := block.FixedHeader(data, block.BEEP_CONFIG, 4); err != nil {
		return nil, err
	}
	log.Debugf("BeepConfig, 0x1e, received, data %x", data[:6])
	return &BeepConfig{
		BeepType:  alert.BeepType(data[2] & 0xf),
		Basal:     unmarshalReminder(data[3]),
		TempBasal: unmarshalReminder(data[4]),
		Bolus:     unmarshalReminder(data[5]),
	}, nil
}

func (c *BeepConfig) GetType() block.Type {
	return block.BEEP_CONFIG
}

func (c *BeepConfig) Marshal() ([]byte, error) {
	return encode(block.BEEP_CONFIG, []byte{
		byte(c.BeepType) & 0xf,
		c.Basal.marshal(),
		c.TempBasal.marshal(),
		c.Bolus.marshal(),
	}), nil
}
