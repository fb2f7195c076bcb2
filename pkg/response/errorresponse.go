package response

import (
	"fmt"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

// ErrorBadNonce is the error code sent when a command carried the wrong
// nonce. The remaining two bytes are then the resync word.
const ErrorBadNonce = 0x14

// ErrorResponse rejects a command.
type ErrorResponse struct {
	Code uint8
	// SyncWord is set for ErrorBadNonce.
	SyncWord uint16
	// FaultCode and PodProgress are set for every other code.
	FaultCode   FaultEventCode
	PodProgress PodProgress
}

func UnmarshalErrorResponse(data []byte) (*ErrorResponse, error) {
	if err := block.FixedHeader(data, block.ERROR_RESPONSE, 3); err != nil {
		return nil, err
	}
	log.Debugf("ErrorResponse, 0x06, received, data %x", data[:5])
	ret := &ErrorResponse{Code: data[2]}
	if ret.IsBadNonce() {
		ret.SyncWord = wire.Uint16(data, 3)
		return ret, nil
	}
	ret.FaultCode = FaultEventCode(data[3])
	progress, err := parseProgress(block.ERROR_RESPONSE, data[4])
	if err != nil {
		return nil, err
	}
	ret.PodProgress = progress
	return ret, nil
}

func (r *ErrorResponse) IsBadNonce() bool {
	return r.Code == ErrorBadNonce
}

func (r *ErrorResponse) GetType() block.Type {
	return block.ERROR_RESPONSE
}

func (r *ErrorResponse) Marshal() ([]byte, error) {
	ret := []byte{byte(block.ERROR_RESPONSE), 3, r.Code}
	if r.IsBadNonce() {
		ret = wire.AppendUint16(ret, r.SyncWord)
	} else {
		ret = append(ret, byte(r.FaultCode), byte(r.PodProgress))
	}
	log.Tracef("ErrorResponse, 0x06, sending, data %x", ret)
	return ret, nil
}

func (r *ErrorResponse) String() string {
	if r.IsBadNonce() {
		return fmt.Sprintf("bad nonce, sync word 0x%04x", r.SyncWord)
	}
	return fmt.Sprintf("error 0x%02x, fault %s, progress %s", r.Code, r.FaultCode, r.PodProgress)
}
