package command

import (
	"fmt"
	"sort"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// ConfigureAlerts programs one or more alert slots.
type ConfigureAlerts struct {
	Nonce          uint32
	Configurations []alert.Configuration
}

func UnmarshalConfigureAlerts(data []byte) (*ConfigureAlerts, error) {
	n, err := block.Header(data, block.CONFIGURE_ALERTS, 4)
	if err != nil {
		return nil, err
	}
	if (n-6)%alert.ConfigurationSize != 0 {
		return nil, &block.ParseError{Block: block.CONFIGURE_ALERTS, Field: "length", Value: n - 2}
	}
	log.Debugf("ConfigureAlerts, 0x19, received, data %x", data[:n])
	ret := &ConfigureAlerts{Nonce: wire.Uint32(data, 2)}
	for off := 6; off < n; off += alert.ConfigurationSize {
		cfg, err := alert.UnmarshalConfiguration(data[off:n])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", block.CONFIGURE_ALERTS, err)
		}
		ret.Configurations = append(ret.Configurations, *cfg)
	}
	return ret, nil
}

func (c *ConfigureAlerts) GetType() block.Type {
	return block.CONFIGURE_ALERTS
}

func (c *ConfigureAlerts) GetNonce() uint32 {
	return c.Nonce
}

func (c *ConfigureAlerts) WithNonce(nonce uint32) block.NonceBlock {
	ret := *c
	ret.Nonce = nonce
	return &ret
}

// Marshal encodes the configurations sorted by slot, which keeps captured
// traffic readable.
func (c *ConfigureAlerts) Marshal() ([]byte, error) {
	cfgs := make([]alert.Configuration, len(c.Configurations))
	copy(cfgs, c.Configurations)
	sort.SliceStable(cfgs, func(i, j int) bool { return cfgs[i].Slot < cfgs[j].Slot })

	b := wire.AppendUint32(nil, c.Nonce)
	for i := range cfgs {
		cfg, err := cfgs[i].Marshal()
		if err != nil {
			return nil, err
		}
		b = append(b, cfg...)
	}
	return encode(block.CONFIGURE_ALERTS, b), nil
}
