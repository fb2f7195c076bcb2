// Package block defines what every pod message block has in common: the one
// byte type tag, the Block interface implemented by the command and response
// packages, and the decode errors they report.
package block

import (
	"errors"
	"fmt"
)

// Type is the leading tag byte of a block.
type Type byte

const (
	VERSION_RESPONSE     Type = 0x01
	POD_INFO_RESPONSE    Type = 0x02
	SETUP_POD            Type = 0x03
	ERROR_RESPONSE       Type = 0x06
	ASSIGN_ADDRESS       Type = 0x07
	FAULT_CONFIG         Type = 0x08
	GET_STATUS           Type = 0x0e
	ACKNOWLEDGE_ALERT    Type = 0x11
	BASAL_SCHEDULE_EXTRA Type = 0x13 // Always preceded by 0x1a
	TEMP_BASAL_EXTRA     Type = 0x16 // Always preceded by 0x1a
	BOLUS_EXTRA          Type = 0x17 // Always preceded by 0x1a
	CONFIGURE_ALERTS     Type = 0x19
	SET_INSULIN_SCHEDULE Type = 0x1a // Always followed by one of: 0x13, 0x16, 0x17
	DEACTIVATE           Type = 0x1c
	STATUS_RESPONSE      Type = 0x1d
	BEEP_CONFIG          Type = 0x1e
	CANCEL_DELIVERY      Type = 0x1f
)

var typeNames = map[Type]string{
	VERSION_RESPONSE:     "VersionResponse",
	POD_INFO_RESPONSE:    "PodInfoResponse",
	SETUP_POD:            "SetupPod",
	ERROR_RESPONSE:       "ErrorResponse",
	ASSIGN_ADDRESS:       "AssignAddress",
	FAULT_CONFIG:         "FaultConfig",
	GET_STATUS:           "GetStatus",
	ACKNOWLEDGE_ALERT:    "AcknowledgeAlert",
	BASAL_SCHEDULE_EXTRA: "BasalScheduleExtra",
	TEMP_BASAL_EXTRA:     "TempBasalExtra",
	BOLUS_EXTRA:          "BolusExtra",
	CONFIGURE_ALERTS:     "ConfigureAlerts",
	SET_INSULIN_SCHEDULE: "SetInsulinSchedule",
	DEACTIVATE:           "Deactivate",
	STATUS_RESPONSE:      "StatusResponse",
	BEEP_CONFIG:          "BeepConfig",
	CANCEL_DELIVERY:      "CancelDelivery",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(0x%02x)", byte(t))
}

// Known reports whether t is a tag the codec can decode.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Block is one command or response inside a message.
type Block interface {
	GetType() Type
	Marshal() ([]byte, error)
}

// NonceBlock is a command authenticated with a nonce. The nonce is always
// the first four payload bytes.
type NonceBlock interface {
	Block
	GetNonce() uint32
	// WithNonce returns a copy of the block carrying nonce.
	WithNonce(nonce uint32) NonceBlock
}

// ErrNotEnoughData is returned when a block is shorter than its layout.
var ErrNotEnoughData = errors.New("not enough data")

// UnknownBlockTypeError is returned for a tag byte outside the registry.
type UnknownBlockTypeError struct {
	Tag byte
}

func (e *UnknownBlockTypeError) Error() string {
	return fmt.Sprintf("unknown block type 0x%02x", e.Tag)
}

// ParseError is returned when a field decodes to a reserved or undefined
// value, or a declared length does not fit the block layout.
type ParseError struct {
	Block Type
	Field string
	Value int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: invalid %s 0x%x", e.Block, e.Field, e.Value)
}

// Header validates the tag and declared length of a block and returns the
// full encoded size (tag + length byte + payload). The declared length must
// be at least minPayload and the data must cover it.
func Header(data []byte, t Type, minPayload int) (int, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%s: %w: %x", t, ErrNotEnoughData, data)
	}
	if Type(data[0]) != t {
		return 0, &ParseError{Block: t, Field: "type", Value: int(data[0])}
	}
	n := int(data[1])
	if n < minPayload {
		return 0, &ParseError{Block: t, Field: "length", Value: n}
	}
	if len(data) < n+2 {
		return 0, fmt.Errorf("%s: %w: declared %d payload bytes, have %d", t, ErrNotEnoughData, n, len(data)-2)
	}
	return n + 2, nil
}

// FixedHeader is Header for blocks whose payload length never varies.
func FixedHeader(data []byte, t Type, payload int) error {
	n, err := Header(data, t, payload)
	if err != nil {
		return err
	}
	if n != payload+2 {
		return &ParseError{Block: t, Field: "length", Value: n - 2}
	}
	return nil
}
