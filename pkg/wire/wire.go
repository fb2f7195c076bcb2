// Package wire holds the byte level helpers shared by the block codecs:
// big endian integers, sub-byte bit fields and a length checked window over
// an encoded block.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortWindow is returned by NewWindow when the data does not cover the
// requested size.
var ErrShortWindow = errors.New("window exceeds data")

// Uint16 reads a big endian uint16 at off.
func Uint16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off : off+2])
}

// Uint32 reads a big endian uint32 at off.
func Uint32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

// AppendUint16 appends v big endian.
func AppendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// AppendUint32 appends v big endian.
func AppendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Bits extracts width bits of b starting at bit shift (0 is the LSB).
func Bits(b byte, shift, width uint) byte {
	return (b >> shift) & (1<<width - 1)
}

// SetBits returns b with width bits at shift replaced by v.
func SetBits(b byte, shift, width uint, v byte) byte {
	mask := byte(1<<width-1) << shift
	return b&^mask | (v<<shift)&mask
}

// Flag reports whether bit n of b is set.
func Flag(b byte, n uint) bool {
	return b&(1<<n) != 0
}

// Window is a fixed size view over an encoded block. Accessors index relative
// to the start of the window and panic when asked for bytes outside it: the
// size is validated once, up front, by NewWindow.
type Window struct {
	data []byte
}

// NewWindow checks that data holds at least size bytes and returns a window
// over exactly those bytes.
func NewWindow(data []byte, size int) (Window, error) {
	if len(data) < size {
		return Window{}, fmt.Errorf("%w: need %d bytes, have %d", ErrShortWindow, size, len(data))
	}
	return Window{data: data[:size]}, nil
}

// Len is the window size.
func (w Window) Len() int {
	return len(w.data)
}

// Byte returns the byte at off.
func (w Window) Byte(off int) byte {
	return w.data[off]
}

// Uint16 reads a big endian uint16 at off.
func (w Window) Uint16(off int) uint16 {
	return Uint16(w.data, off)
}

// Uint32 reads a big endian uint32 at off.
func (w Window) Uint32(off int) uint32 {
	return Uint32(w.data, off)
}

// Bits extracts width bits at shift of the byte at off.
func (w Window) Bits(off int, shift, width uint) byte {
	return Bits(w.data[off], shift, width)
}

// Slice returns a copy of the bytes in [from, to).
func (w Window) Slice(from, to int) []byte {
	ret := make([]byte, to-from)
	copy(ret, w.data[from:to])
	return ret
}
