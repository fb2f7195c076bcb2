// Package backfill reads the batch of historical readings a CGM transmitter
// sends after a connection gap: the request and response control messages and
// the fragment buffer the readings arrive in.
package backfill

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/avereha/podcomm/pkg/crc"
)

const (
	TxOpcode = 0x50
	RxOpcode = 0x51

	// MessageLength is the size of both control messages, CRC included.
	MessageLength = 20

	// RecordSize is the stride of the readings in a reassembled buffer.
	RecordSize = 5

	// TickSeconds is the spacing of the reading offsets.
	TickSeconds = 300

	fragmentHeaderSize = 2
)

var (
	ErrShortMessage = errors.New("backfill message too short")
	ErrInvalidCRC   = errors.New("backfill message CRC mismatch")
)

type OpcodeError struct {
	Opcode byte
}

func (e *OpcodeError) Error() string {
	return fmt.Sprintf("unexpected opcode 0x%02x", e.Opcode)
}

// TxMessage asks the transmitter for the readings between two transmitter
// times.
type TxMessage struct {
	Byte1      byte
	Byte2      byte
	Identifier byte
	StartTime  uint32
	EndTime    uint32
}

func (m *TxMessage) Marshal() []byte {
	ret := make([]byte, 0, MessageLength)
	ret = append(ret, TxOpcode, m.Byte1, m.Byte2, m.Identifier)
	ret = binary.LittleEndian.AppendUint32(ret, m.StartTime)
	ret = binary.LittleEndian.AppendUint32(ret, m.EndTime)
	ret = append(ret, 0, 0, 0, 0, 0, 0)
	return binary.LittleEndian.AppendUint16(ret, crc.XModem(ret))
}

type Status byte

const StatusOK Status = 0

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return fmt.Sprintf("status(0x%02x)", byte(s))
}

// RxMessage announces a backfill: the time range it covers and the length and
// CRC of the buffer that follows.
type RxMessage struct {
	Status         Status
	BackfillStatus byte
	Identifier     byte
	StartTime      uint32
	EndTime        uint32
	BufferLength   uint32
	BufferCRC      uint16
}

func UnmarshalRxMessage(data []byte) (*RxMessage, error) {
	if len(data) < MessageLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(data))
	}
	data = data[:MessageLength]
	if data[0] != RxOpcode {
		return nil, &OpcodeError{Opcode: data[0]}
	}
	body, sum := data[:MessageLength-2], binary.LittleEndian.Uint16(data[MessageLength-2:])
	if got := crc.XModem(body); got != sum {
		return nil, fmt.Errorf("%w: have 0x%04x, computed 0x%04x", ErrInvalidCRC, sum, got)
	}
	return &RxMessage{
		Status:         Status(data[1]),
		BackfillStatus: data[2],
		Identifier:     data[3],
		StartTime:      binary.LittleEndian.Uint32(data[4:]),
		EndTime:        binary.LittleEndian.Uint32(data[8:]),
		BufferLength:   binary.LittleEndian.Uint32(data[12:]),
		BufferCRC:      binary.LittleEndian.Uint16(data[16:]),
	}, nil
}
