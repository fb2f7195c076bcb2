package response

import (
	"fmt"
	"time"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"

	log "github.com/sirupsen/logrus"
)

const (
	// payload lengths of the two VersionResponse forms
	assignAddressVersionLength = 0x15
	setupPodVersionLength      = 0x1b
)

// FirmwareVersion is a major.minor.patch triple.
type FirmwareVersion [3]byte

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// SetupParameters are only present in the VersionResponse answering SetupPod.
type SetupParameters struct {
	PulseSize              uint16 // in 1e-5 U
	BolusPulseInterval     time.Duration
	PrimePulseInterval     time.Duration
	PrimePulses            uint8
	CannulaInsertionPulses uint8
	ServiceDuration        time.Duration
}

// VersionResponse answers AssignAddress (short form, with receiver gain and
// RSSI) and SetupPod (long form, with Setup).
type VersionResponse struct {
	Setup       *SetupParameters
	PMVersion   FirmwareVersion
	PIVersion   FirmwareVersion
	ProductID   uint8
	PodProgress PodProgress
	Lot         uint32
	TID         uint32
	// ReceiverGain and RSSI are only reported by the short form.
	ReceiverGain uint8
	RSSI         uint8
	Address      uint32
}

// interval bytes count eighths of a second
const intervalUnit = time.Second / 8

func UnmarshalVersionResponse(data []byte) (*VersionResponse, error) {
	n, err := block.Header(data, block.VERSION_RESPONSE, assignAddressVersionLength)
	if err != nil {
		return nil, err
	}
	payload := n - 2
	if payload != assignAddressVersionLength && payload != setupPodVersionLength {
		return nil, &block.ParseError{Block: block.VERSION_RESPONSE, Field: "length", Value: payload}
	}
	w, _ := wire.NewWindow(data, n)
	log.Debugf("VersionResponse, 0x01, received, data %x", w.Slice(0, n))

	ret := &VersionResponse{}
	off := 2
	if payload == setupPodVersionLength {
		ret.Setup = &SetupParameters{
			PulseSize:              w.Uint16(2),
			BolusPulseInterval:     time.Duration(w.Byte(4)) * intervalUnit,
			PrimePulseInterval:     time.Duration(w.Byte(5)) * intervalUnit,
			PrimePulses:            w.Byte(6),
			CannulaInsertionPulses: w.Byte(7),
			ServiceDuration:        time.Duration(w.Byte(8)) * time.Hour,
		}
		off = 9
	}
	copy(ret.PMVersion[:], w.Slice(off, off+3))
	copy(ret.PIVersion[:], w.Slice(off+3, off+6))
	ret.ProductID = w.Byte(off + 6)
	if ret.PodProgress, err = parseProgress(block.VERSION_RESPONSE, w.Byte(off+7)); err != nil {
		return nil, err
	}
	ret.Lot = w.Uint32(off + 8)
	ret.TID = w.Uint32(off + 12)
	off += 16
	if ret.Setup == nil {
		ret.ReceiverGain = w.Bits(off, 6, 2)
		ret.RSSI = w.Bits(off, 0, 6)
		off++
	}
	ret.Address = w.Uint32(off)
	return ret, nil
}

func (r *VersionResponse) GetType() block.Type {
	return block.VERSION_RESPONSE
}

func (r *VersionResponse) Marshal() ([]byte, error) {
	var b []byte
	if s := r.Setup; s != nil {
		b = wire.AppendUint16(b, s.PulseSize)
		b = append(b,
			byte(s.BolusPulseInterval/intervalUnit),
			byte(s.PrimePulseInterval/intervalUnit),
			s.PrimePulses,
			s.CannulaInsertionPulses,
			byte(s.ServiceDuration/time.Hour),
		)
	}
	b = append(b, r.PMVersion[:]...)
	b = append(b, r.PIVersion[:]...)
	b = append(b, r.ProductID, byte(r.PodProgress))
	b = wire.AppendUint32(b, r.Lot)
	b = wire.AppendUint32(b, r.TID)
	if r.Setup == nil {
		b = append(b, r.ReceiverGain<<6|r.RSSI&0x3f)
	}
	b = wire.AppendUint32(b, r.Address)

	ret := append([]byte{byte(block.VERSION_RESPONSE), byte(len(b))}, b...)
	log.Tracef("VersionResponse, 0x01, sending, data %x", ret)
	return ret, nil
}
