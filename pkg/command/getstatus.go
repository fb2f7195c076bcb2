package command

import (
	"github.com/avereha/podcomm/pkg/block"

	log "github.com/sirupsen/logrus"
)

// GetStatus asks for a StatusResponse (StatusType 0) or one of the pod info
// pages.
type GetStatus struct {
	StatusType block.PodInfoType
}

func UnmarshalGetStatus(data []byte) (*GetStatus, error) {
	if err := block.FixedHeader(data, block.GET_STATUS, 1); err != nil {
		return nil, err
	}
	t := block.PodInfoType(data[2])
	if t != block.PodInfoNormal && !t.Known() {
		return nil, &block.ParseError{Block: block.GET_STATUS, Field: "status type", Value: int(t)}
	}
	log.Debugf("GetStatus, 0x0e, received, data %x", data)
	return &GetStatus{StatusType: t}, nil
}

func (c *GetStatus) GetType() block.Type {
	return block.GET_STATUS
}

func (c *GetStatus) Marshal() ([]byte, error) {
	return encode(block.GET_STATUS, []byte{byte(c.StatusType)}), nil
}
