package response

import (
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"
)

// ConfiguredAlerts is pod info page 0x01: the current value of every alert
// slot's trigger.
type ConfiguredAlerts struct {
	Unknown uint16
	Values  [alert.NumSlots]uint16
}

const configuredAlertsSize = 2 + 2*alert.NumSlots

func unmarshalConfiguredAlerts(b []byte) (*ConfiguredAlerts, error) {
	t := block.PodInfoConfiguredAlerts
	if len(b) != configuredAlertsSize {
		return nil, pageLength(t, len(b)+1)
	}
	ret := &ConfiguredAlerts{Unknown: wire.Uint16(b, 0)}
	for i := range ret.Values {
		ret.Values[i] = wire.Uint16(b, 2+2*i)
	}
	return ret, nil
}

func (c *ConfiguredAlerts) InfoType() block.PodInfoType {
	return block.PodInfoConfiguredAlerts
}

func (c *ConfiguredAlerts) marshalInfo() ([]byte, error) {
	b := wire.AppendUint16(nil, c.Unknown)
	for _, v := range c.Values {
		b = wire.AppendUint16(b, v)
	}
	return b, nil
}

// ActivationTime is pod info page 0x05.
type ActivationTime struct {
	FaultCode    FaultEventCode
	FaultMinutes uint16
	Unknown      [8]byte
	// Activated is the pod's wall clock time at setup.
	Activated time.Time
}

const activationTimeSize = 3 + 8 + block.DateSize

func unmarshalActivationTime(b []byte) (*ActivationTime, error) {
	t := block.PodInfoActivationTime
	if len(b) != activationTimeSize {
		return nil, pageLength(t, len(b)+1)
	}
	date, err := block.DecodeDate(block.POD_INFO_RESPONSE, b[11:])
	if err != nil {
		return nil, err
	}
	ret := &ActivationTime{
		FaultCode:    FaultEventCode(b[0]),
		FaultMinutes: wire.Uint16(b, 1),
		Activated:    date,
	}
	copy(ret.Unknown[:], b[3:11])
	return ret, nil
}

func (a *ActivationTime) InfoType() block.PodInfoType {
	return block.PodInfoActivationTime
}

func (a *ActivationTime) marshalInfo() ([]byte, error) {
	b := []byte{byte(a.FaultCode)}
	b = wire.AppendUint16(b, a.FaultMinutes)
	b = append(b, a.Unknown[:]...)
	return append(b, block.EncodeDate(a.Activated)...), nil
}

// Type46 is pod info page 0x46. Only its single word is known.
type Type46 struct {
	Value uint16
}

func unmarshalType46(b []byte) (*Type46, error) {
	if len(b) != 2 {
		return nil, pageLength(block.PodInfoType46, len(b)+1)
	}
	return &Type46{Value: wire.Uint16(b, 0)}, nil
}

func (p *Type46) InfoType() block.PodInfoType {
	return block.PodInfoType46
}

func (p *Type46) marshalInfo() ([]byte, error) {
	return wire.AppendUint16(nil, p.Value), nil
}
