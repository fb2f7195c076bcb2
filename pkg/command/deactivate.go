package command

import (
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// Deactivate permanently stops the pod.
type Deactivate struct {
	Nonce uint32
}

func UnmarshalDeactivate(data []byte) (*Deactivate, error) {
	if err := block.FixedHeader(data, block.DEACTIVATE, 4); err != nil {
		return nil, err
	}
	log.Infof("Deactivate, 0x1c, received, data 0x%x", data)
	return &Deactivate{Nonce: wire.Uint32(data, 2)}, nil
}

func (c *Deactivate) GetType() block.Type {
	return block.DEACTIVATE
}

func (c *Deactivate) GetNonce() uint32 {
	return c.Nonce
}

func (c *Deactivate) WithNonce(nonce uint32) block.NonceBlock {
	return &Deactivate{Nonce: nonce}
}

func (c *Deactivate) Marshal() ([]byte, error) {
	return encode(block.DEACTIVATE, wire.AppendUint32(nil, c.Nonce)), nil
}
