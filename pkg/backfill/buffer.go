package backfill

import (
	"encoding/binary"
	"fmt"

	"github.com/avereha/podcomm/pkg/crc"

	log "github.com/sirupsen/logrus"
)

// FrameBuffer collects the fragments of one backfill. Fragments are
// [index, identifier, payload...] and are kept in the order they arrived; the
// index is not used to reorder them. A FrameBuffer has a single writer.
type FrameBuffer struct {
	Identifier byte

	fragments [][]byte
	count     int
}

func NewFrameBuffer(identifier byte) *FrameBuffer {
	return &FrameBuffer{Identifier: identifier}
}

// Append adds a fragment and reports whether it was kept. Fragments for
// another identifier and fragments without payload are dropped.
func (b *FrameBuffer) Append(fragment []byte) bool {
	if len(fragment) <= fragmentHeaderSize {
		log.Warnf("backfill: dropping short fragment %x", fragment)
		return false
	}
	if fragment[1] != b.Identifier {
		log.Warnf("backfill: dropping fragment for identifier %d, want %d", fragment[1], b.Identifier)
		return false
	}
	payload := append([]byte(nil), fragment[fragmentHeaderSize:]...)
	b.fragments = append(b.fragments, payload)
	b.count += len(payload)
	log.Tracef("backfill: fragment %d, %d bytes, total %d", fragment[0], len(payload), b.count)
	return true
}

// Count is the number of payload bytes collected.
func (b *FrameBuffer) Count() int {
	return b.count
}

// Bytes returns the payloads concatenated.
func (b *FrameBuffer) Bytes() []byte {
	ret := make([]byte, 0, b.count)
	for _, f := range b.fragments {
		ret = append(ret, f...)
	}
	return ret
}

// CRC16 is the CRC-16/XMODEM of the collected payload.
func (b *FrameBuffer) CRC16() uint16 {
	return crc.XModem(b.Bytes())
}

// Verify checks the buffer against the length and CRC the transmitter
// announced.
func (b *FrameBuffer) Verify(rx *RxMessage) error {
	if rx.Identifier != b.Identifier {
		return fmt.Errorf("backfill: identifier %d, buffer holds %d", rx.Identifier, b.Identifier)
	}
	if uint32(b.count) != rx.BufferLength {
		return fmt.Errorf("backfill: have %d bytes, want %d", b.count, rx.BufferLength)
	}
	if got := b.CRC16(); got != rx.BufferCRC {
		return fmt.Errorf("%w: buffer 0x%04x, announced 0x%04x", ErrInvalidCRC, got, rx.BufferCRC)
	}
	return nil
}

// Reading is one decoded backfill record.
type Reading struct {
	// Timestamp is in transmitter seconds.
	Timestamp   uint32
	Glucose     uint16
	DisplayOnly bool
	State       byte
	Trend       int8
}

// Readings decodes the buffer as 5 byte records: glucose (uint16, low 12
// bits the value, any bit of the high nibble marks a display only reading),
// calibration state, signed trend and the offset from start in 5 minute ticks.
// A trailing partial record is dropped. Nothing checks that the records are in
// order.
func (b *FrameBuffer) Readings(start uint32) []Reading {
	data := b.Bytes()
	ret := make([]Reading, 0, len(data)/RecordSize)
	for off := 0; off+RecordSize <= len(data); off += RecordSize {
		rec := data[off : off+RecordSize]
		g := binary.LittleEndian.Uint16(rec)
		ret = append(ret, Reading{
			Timestamp:   start + uint32(rec[4])*TickSeconds,
			Glucose:     g & 0x0fff,
			DisplayOnly: g&0xf000 != 0,
			State:       rec[2],
			Trend:       int8(rec[3]),
		})
	}
	return ret
}
