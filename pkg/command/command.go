// Package command encodes and decodes the blocks the controller sends to the
// pod. Every command marshals to [type] [payload length] [payload]; nonce
// authenticated commands carry the nonce in the first four payload bytes.
package command

import (
	"time"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// the wire clock for delays is hundredths of milliseconds
const delayUnit = 10 * time.Microsecond

func encode(t block.Type, payload []byte) []byte {
	ret := make([]byte, 0, len(payload)+2)
	ret = append(ret, byte(t), byte(len(payload)))
	ret = append(ret, payload...)
	log.Tracef("%s, 0x%02x, encoded, data %x", t, byte(t), ret)
	return ret
}

func encodeDelay(b []byte, d time.Duration) []byte {
	return wire.AppendUint32(b, uint32(d/delayUnit))
}

func decodeDelay(v uint32) time.Duration {
	return time.Duration(v) * delayUnit
}

// BeepOptions is the beep/reminder byte shared by the delivery extras.
type BeepOptions struct {
	Acknowledgement  bool
	Completion       bool
	ReminderInterval time.Duration // whole minutes, at most 63
}

func (b BeepOptions) marshal() byte {
	ret := byte(b.ReminderInterval/time.Minute) & 0x3f
	if b.Completion {
		ret |= 1 << 6
	}
	if b.Acknowledgement {
		ret |= 1 << 7
	}
	return ret
}

func unmarshalBeepOptions(b byte) BeepOptions {
	return BeepOptions{
		Acknowledgement:  wire.Flag(b, 7),
		Completion:       wire.Flag(b, 6),
		ReminderInterval: time.Duration(wire.Bits(b, 0, 6)) * time.Minute,
	}
}
