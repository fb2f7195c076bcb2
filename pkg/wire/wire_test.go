package wire

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBigEndian(t *testing.T) {
	b := AppendUint32(AppendUint16(nil, 0x1c20), 0x01020304)
	if diff := cmp.Diff([]byte{0x1c, 0x20, 0x01, 0x02, 0x03, 0x04}, b); diff != "" {
		t.Fatalf("append mismatch (-want +got):\n%s", diff)
	}
	if got := Uint16(b, 0); got != 0x1c20 {
		t.Errorf("Uint16() = 0x%04x", got)
	}
	if got := Uint32(b, 2); got != 0x01020304 {
		t.Errorf("Uint32() = 0x%08x", got)
	}
}

func TestBits(t *testing.T) {
	tests := []struct {
		name         string
		b            byte
		shift, width uint
		want         byte
	}{
		{"high nibble", 0x58, 4, 4, 0x5},
		{"low nibble", 0x58, 0, 4, 0x8},
		{"seq field", 0b0_1011_000, 3, 4, 0xb},
		{"single bit", 0x80, 7, 1, 1},
		{"full byte", 0xa5, 0, 8, 0xa5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Bits(tt.b, tt.shift, tt.width); got != tt.want {
				t.Errorf("Bits() = 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestSetBits(t *testing.T) {
	b := SetBits(0xff, 3, 4, 0x2)
	if b != 0b1001_0111 {
		t.Errorf("SetBits() = %08b", b)
	}
	if got := Bits(b, 3, 4); got != 0x2 {
		t.Errorf("round trip = 0x%x", got)
	}
	if !Flag(b, 7) || Flag(b, 6) {
		t.Errorf("Flag() wrong for %08b", b)
	}
}

func TestWindow(t *testing.T) {
	data := []byte{0x1d, 0x18, 0x00, 0xa0, 0x28}
	if _, err := NewWindow(data, 10); !errors.Is(err, ErrShortWindow) {
		t.Fatalf("NewWindow() error = %v, want ErrShortWindow", err)
	}
	w, err := NewWindow(data, 4)
	if err != nil {
		t.Fatal(err)
	}
	if w.Len() != 4 {
		t.Errorf("Len() = %d", w.Len())
	}
	if w.Bits(1, 4, 4) != 0x1 || w.Uint16(2) != 0x00a0 {
		t.Errorf("accessors wrong")
	}
	s := w.Slice(0, 2)
	s[0] = 0
	if data[0] != 0x1d {
		t.Errorf("Slice() must copy")
	}

	defer func() {
		if recover() == nil {
			t.Errorf("reading past the window should panic")
		}
	}()
	w.Byte(4)
}
