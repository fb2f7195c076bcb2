package command

import (
	"time"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

const (
	setupPodLength = 0x13
	setupPodMarker = 0x14
	// MaxPacketTimeout is the largest packet timeout the pod accepts.
	MaxPacketTimeout = 50
)

// SetupPod binds the assigned address to the pod's lot and TID and sets its
// clock.
type SetupPod struct {
	Address       uint32
	PacketTimeout uint8
	Date          time.Time
	Lot           uint32
	TID           uint32
}

func UnmarshalSetupPod(data []byte) (*SetupPod, error) {
	if err := block.FixedHeader(data, block.SETUP_POD, setupPodLength); err != nil {
		return nil, err
	}
	log.Debugf("SetupPod, 0x03, received, data %x", data)
	if data[6] != setupPodMarker {
		return nil, &block.ParseError{Block: block.SETUP_POD, Field: "marker", Value: int(data[6])}
	}
	date, err := block.DecodeDate(block.SETUP_POD, data[8:])
	if err != nil {
		return nil, err
	}
	return &SetupPod{
		Address:       wire.Uint32(data, 2),
		PacketTimeout: data[7],
		Date:          date,
		Lot:           wire.Uint32(data, 13),
		TID:           wire.Uint32(data, 17),
	}, nil
}

func (c *SetupPod) GetType() block.Type {
	return block.SETUP_POD
}

func (c *SetupPod) Marshal() ([]byte, error) {
	timeout := c.PacketTimeout
	if timeout > MaxPacketTimeout {
		timeout = MaxPacketTimeout
	}
	b := wire.AppendUint32(nil, c.Address)
	b = append(b, setupPodMarker, timeout)
	b = append(b, block.EncodeDate(c.Date)...)
	b = wire.AppendUint32(b, c.Lot)
	b = wire.AppendUint32(b, c.TID)
	return encode(block.SETUP_POD, b), nil
}
