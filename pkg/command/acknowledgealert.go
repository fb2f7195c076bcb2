package command

import (
	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// AcknowledgeAlert silences the alerts in Alerts.
type AcknowledgeAlert struct {
	Nonce  uint32
	Alerts alert.Set
}

func UnmarshalAcknowledgeAlert(data []byte) (*AcknowledgeAlert, error) {
	if err := block.FixedHeader(data, block.ACKNOWLEDGE_ALERT, 5); err != nil {
		return nil, err
	}
	log.Debugf("AcknowledgeAlert, 0x11, received, data %x", data[:7])
	return &AcknowledgeAlert{
		Nonce:  wire.Uint32(data, 2),
		Alerts: alert.Set(data[6]),
	}, nil
}

func (c *AcknowledgeAlert) GetType() block.Type {
	return block.ACKNOWLEDGE_ALERT
}

func (c *AcknowledgeAlert) GetNonce() uint32 {
	return c.Nonce
}

func (c *AcknowledgeAlert) WithNonce(nonce uint32) block.NonceBlock {
	ret := *c
	ret.Nonce = nonce
	return &ret
}

func (c *AcknowledgeAlert) Marshal() ([]byte, error) {
	b := wire.AppendUint32(nil, c.Nonce)
	return encode(block.ACKNOWLEDGE_ALERT, append(b, byte(c.Alerts))), nil
}
