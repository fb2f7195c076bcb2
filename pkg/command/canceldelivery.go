package command

import (
	"strings"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// DeliveryType is the bitmask of deliveries a CancelDelivery stops.
type DeliveryType uint8

const (
	CancelBasal     DeliveryType = 1 << 0
	CancelTempBasal DeliveryType = 1 << 1
	CancelBolus     DeliveryType = 1 << 2
	CancelAll                    = CancelBasal | CancelTempBasal | CancelBolus
)

func (d DeliveryType) String() string {
	var names []string
	if d&CancelBasal != 0 {
		names = append(names, "basal")
	}
	if d&CancelTempBasal != 0 {
		names = append(names, "tempBasal")
	}
	if d&CancelBolus != 0 {
		names = append(names, "bolus")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// CancelDelivery stops the deliveries in Delivery and plays BeepType.
type CancelDelivery struct {
	Nonce    uint32
	Delivery DeliveryType
	BeepType alert.BeepType
}

func UnmarshalCancelDelivery(data []byte) (*CancelDelivery, error) {
	if err := block.FixedHeader(data, block.CANCEL_DELIVERY, 5); err != nil {
		return nil, err
	}
	log.Infof("CancelDelivery, 0x1f, received, data 0x%x", data)
	return &CancelDelivery{
		Nonce:    wire.Uint32(data, 2),
		Delivery: DeliveryType(data[6] & 0x7),
		BeepType: alert.BeepType(data[6] >> 4),
	}, nil
}

func (c *CancelDelivery) GetType() block.Type {
	return block.CANCEL_DELIVERY
}

func (c *CancelDelivery) GetNonce() uint32 {
	return c.Nonce
}

func (c *CancelDelivery) WithNonce(nonce uint32) block.NonceBlock {
	ret := *c
	ret.Nonce = nonce
	return &ret
}

func (c *CancelDelivery) Marshal() ([]byte, error) {
	b := wire.AppendUint32(nil, c.Nonce)
	return encode(block.CANCEL_DELIVERY, append(b, byte(c.BeepType)<<4|byte(c.Delivery&CancelAll))), nil
}
