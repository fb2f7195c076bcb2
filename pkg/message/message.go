// Package message frames blocks into the pod's addressed, sequenced and CRC
// checked messages, and decodes blocks by their tag.
package message

import (
	"errors"
	"fmt"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/command"
	"github.com/avereha/podcomm/pkg/crc"
	"github.com/avereha/podcomm/pkg/response"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

const (
	headerSize = 6 // address + length/sequence word
	crcSize    = 2
	// MaxBodyLength is the largest block payload the 10 bit length holds.
	MaxBodyLength = 0x3ff
	// SequenceModulo is the message sequence number range.
	SequenceModulo = 16
	// BroadcastAddress reaches a pod that has no address yet.
	BroadcastAddress = 0xffffffff
)

// ErrInvalidCRC is returned when the CRC-16 footer does not match.
var ErrInvalidCRC = errors.New("invalid message CRC")

// Message is one pod message: a list of blocks sent to or from Address.
type Message struct {
	Address  uint32
	Sequence uint8 // 4 bits
	// FollowOn is set when another message continues this one.
	FollowOn bool
	Blocks   []block.Block
}

// Marshal encodes [address] [followOn|seq|length] [blocks] [crc].
func (m *Message) Marshal() ([]byte, error) {
	var body []byte
	for _, b := range m.Blocks {
		enc, err := b.Marshal()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.GetType(), err)
		}
		body = append(body, enc...)
	}
	if len(body) > MaxBodyLength {
		return nil, fmt.Errorf("message body of %d bytes exceeds %d", len(body), MaxBodyLength)
	}
	header := uint16(m.Sequence&0x0f)<<10 | uint16(len(body))
	if m.FollowOn {
		header |= 1 << 15
	}

	ret := wire.AppendUint32(make([]byte, 0, headerSize+len(body)+crcSize), m.Address)
	ret = wire.AppendUint16(ret, header)
	ret = append(ret, body...)
	ret = append(ret, crc.CRC16(ret)...)
	log.Tracef("message seq %d, HEX, %x", m.Sequence, ret)
	return ret, nil
}

// Unmarshal checks the length and CRC of a message and decodes every block in
// it.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) < headerSize+crcSize {
		return nil, fmt.Errorf("message: %w: %x", block.ErrNotEnoughData, data)
	}
	header := wire.Uint16(data, 4)
	n := int(header & MaxBodyLength)
	if len(data) < headerSize+n+crcSize {
		return nil, fmt.Errorf("message: %w: declared %d body bytes, have %d", block.ErrNotEnoughData, n, len(data)-headerSize-crcSize)
	}
	data = data[:headerSize+n+crcSize]
	if want, got := crc.Checksum(data[:headerSize+n]), wire.Uint16(data, headerSize+n); want != got {
		return nil, fmt.Errorf("%w: 0x%04x, computed 0x%04x", ErrInvalidCRC, got, want)
	}

	ret := &Message{
		Address:  wire.Uint32(data, 0),
		Sequence: uint8(header>>10) & 0x0f,
		FollowOn: header&(1<<15) != 0,
	}
	body := data[headerSize : headerSize+n]
	for len(body) > 0 {
		b, size, err := DecodeBlock(body)
		if err != nil {
			return nil, err
		}
		ret.Blocks = append(ret.Blocks, b)
		body = body[size:]
	}
	return ret, nil
}

// DecodeBlock decodes the block at the start of data and returns it together
// with its encoded size.
func DecodeBlock(data []byte) (block.Block, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("block: %w: %x", block.ErrNotEnoughData, data)
	}
	t := block.Type(data[0])
	size := int(data[1]) + 2
	if t == block.STATUS_RESPONSE {
		size = response.StatusResponseSize
	}

	var ret block.Block
	var err error
	switch t {
	case block.VERSION_RESPONSE:
		ret, err = response.UnmarshalVersionResponse(data)
	case block.POD_INFO_RESPONSE:
		ret, err = response.UnmarshalPodInfoResponse(data)
	case block.SETUP_POD:
		ret, err = command.UnmarshalSetupPod(data)
	case block.ERROR_RESPONSE:
		ret, err = response.UnmarshalErrorResponse(data)
	case block.ASSIGN_ADDRESS:
		ret, err = command.UnmarshalAssignAddress(data)
	case block.FAULT_CONFIG:
		ret, err = command.UnmarshalFaultConfig(data)
	case block.GET_STATUS:
		ret, err = command.UnmarshalGetStatus(data)
	case block.ACKNOWLEDGE_ALERT:
		ret, err = command.UnmarshalAcknowledgeAlert(data)
	case block.BASAL_SCHEDULE_EXTRA:
		ret, err = command.UnmarshalBasalScheduleExtra(data)
	case block.TEMP_BASAL_EXTRA:
		ret, err = command.UnmarshalTempBasalExtra(data)
	case block.BOLUS_EXTRA:
		ret, err = command.UnmarshalBolusExtra(data)
	case block.CONFIGURE_ALERTS:
		ret, err = command.UnmarshalConfigureAlerts(data)
	case block.SET_INSULIN_SCHEDULE:
		ret, err = command.UnmarshalSetInsulinSchedule(data)
	case block.DEACTIVATE:
		ret, err = command.UnmarshalDeactivate(data)
	case block.STATUS_RESPONSE:
		ret, err = response.UnmarshalStatusResponse(data)
	case block.BEEP_CONFIG:
		ret, err = command.UnmarshalBeepConfig(data)
	case block.CANCEL_DELIVERY:
		ret, err = command.UnmarshalCancelDelivery(data)
	default:
		return nil, 0, &block.UnknownBlockTypeError{Tag: data[0]}
	}
	if err != nil {
		return nil, 0, err
	}
	return ret, size, nil
}
