package command

import (
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// FaultConfig sets the two fault table parameters sent during activation.
// It is one of the few commands a faulted pod still accepts.
type FaultConfig struct {
	Nonce     uint32
	Tab5Sub16 uint8
	Tab5Sub17 uint8
}

func UnmarshalFaultConfig(data []byte) (*FaultConfig, error) {
	if err := block.FixedHeader(data, block.FAULT_CONFIG, 6); err != nil {
		return nil, err
	}
	log.Debugf("FaultConfig, 0x08, received, data %x", data[:8])
	return &FaultConfig{
		Nonce:     wire.Uint32(data, 2),
		Tab5Sub16: data[6],
		Tab5Sub17: data[7],
	}, nil
}

func (c *FaultConfig) GetType() block.Type {
	return block.FAULT_CONFIG
}

func (c *FaultConfig) GetNonce() uint32 {
	return c.Nonce
}

func (c *FaultConfig) WithNonce(nonce uint32) block.NonceBlock {
	ret := *c
	ret.Nonce = nonce
	return &ret
}

func (c *FaultConfig) Marshal() ([]byte, error) {
	b := wire.AppendUint32(nil, c.Nonce)
	return encode(block.FAULT_CONFIG, append(b, c.Tab5Sub16, c.Tab5Sub17)), nil
}
