package command

import (
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// AssignAddress is the first command a new pod sees, sent to the broadcast
// address. The pod answers with a VersionResponse.
type AssignAddress struct {
	Address uint32
}

func UnmarshalAssignAddress(data []byte) (*AssignAddress, error) {
	if err := block.FixedHeader(data, block.ASSIGN_ADDRESS, 4); err != nil {
		return nil, err
	}
	log.Debugf("AssignAddress, 0x07, received, data %x", data)
	return &AssignAddress{Address: wire.Uint32(data, 2)}, nil
}

func (c *AssignAddress) GetType() block.Type {
	return block.ASSIGN_ADDRESS
}

func (c *AssignAddress) Marshal() ([]byte, error) {
	return encode(block.ASSIGN_ADDRESS, wire.AppendUint32(nil, c.Address)), nil
}
