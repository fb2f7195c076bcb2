package response

import (
	"fmt"

	"github.com/avereha/podcomm/pkg/block"

	log "github.com/sirupsen/logrus"
)

// PodInfo is one pod info page carried by a PodInfoResponse.
type PodInfo interface {
	InfoType() block.PodInfoType
	// marshalInfo encodes the page after its sub-type byte.
	marshalInfo() ([]byte, error)
}

// PodInfoResponse answers a GetStatus asking for a pod info page.
type PodInfoResponse struct {
	Info PodInfo
}

func UnmarshalPodInfoResponse(data []byte) (*PodInfoResponse, error) {
	n, err := block.Header(data, block.POD_INFO_RESPONSE, 1)
	if err != nil {
		return nil, err
	}
	log.Debugf("PodInfoResponse, 0x02, received, data %x", data[:n])
	body := data[3:n]

	var info PodInfo
	switch t := block.PodInfoType(data[2]); t {
	case block.PodInfoConfiguredAlerts:
		info, err = unmarshalConfiguredAlerts(body)
	case block.PodInfoDetailedStatus:
		info, err = unmarshalDetailedStatus(body)
	case block.PodInfoPulseLogPlus:
		info, err = unmarshalPulseLogPlus(body)
	case block.PodInfoActivationTime:
		info, err = unmarshalActivationTime(body)
	case block.PodInfoType46:
		info, err = unmarshalType46(body)
	case block.PodInfoPulseLogRecent:
		info, err = unmarshalPulseLogRecent(body)
	case block.PodInfoPulseLogPrevious:
		info, err = unmarshalPulseLogPrevious(body)
	default:
		return nil, &block.ParseError{Block: block.POD_INFO_RESPONSE, Field: "pod info type", Value: int(t)}
	}
	if err != nil {
		return nil, err
	}
	return &PodInfoResponse{Info: info}, nil
}

func (r *PodInfoResponse) GetType() block.Type {
	return block.POD_INFO_RESPONSE
}

func (r *PodInfoResponse) Marshal() ([]byte, error) {
	if r.Info == nil {
		return nil, fmt.Errorf("%s: no pod info", block.POD_INFO_RESPONSE)
	}
	body, err := r.Info.marshalInfo()
	if err != nil {
		return nil, err
	}
	if len(body)+1 > 0xff {
		return nil, fmt.Errorf("%s: %s page of %d bytes does not fit one block", block.POD_INFO_RESPONSE, r.Info.InfoType(), len(body))
	}
	ret := []byte{byte(block.POD_INFO_RESPONSE), byte(len(body) + 1), byte(r.Info.InfoType())}
	ret = append(ret, body...)
	log.Tracef("PodInfoResponse, 0x02, %s, sending, data %x", r.Info.InfoType(), ret)
	return ret, nil
}

// UnmarshalDetailedStatus decodes a PodInfoResponse that must carry a
// detailed status page.
func UnmarshalDetailedStatus(data []byte) (*DetailedStatus, error) {
	r, err := UnmarshalPodInfoResponse(data)
	if err != nil {
		return nil, err
	}
	ds, ok := r.Info.(*DetailedStatus)
	if !ok {
		return nil, &block.ParseError{Block: block.POD_INFO_RESPONSE, Field: "pod info type", Value: int(r.Info.InfoType())}
	}
	return ds, nil
}

func shortPage(t block.PodInfoType, want, have int) error {
	return fmt.Errorf("%s %s: %w: need %d bytes, have %d", block.POD_INFO_RESPONSE, t, block.ErrNotEnoughData, want, have)
}

func pageLength(t block.PodInfoType, n int) error {
	return &block.ParseError{Block: block.POD_INFO_RESPONSE, Field: t.String() + " length", Value: n}
}
