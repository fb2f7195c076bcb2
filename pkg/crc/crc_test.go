package crc

import (
	"encoding/hex"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data string
		want uint16
	}{
		{
			name: "empty",
			data: "",
			want: 0,
		},
		{
			name: "get status message",
			data: "1f01482a10030e0100",
			want: 0x802c,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(mustHex(t, tt.data)); got != tt.want {
				t.Errorf("Checksum() = 0x%04x, want 0x%04x", got, tt.want)
			}
		})
	}
}

func TestCRC16BigEndian(t *testing.T) {
	got := CRC16(mustHex(t, "1f01482a10030e0100"))
	if diff := cmp.Diff([]byte{0x80, 0x2c}, got); diff != "" {
		t.Errorf("CRC16() mismatch (-want +got):\n%s", diff)
	}
}

func TestTableValue(t *testing.T) {
	want := []uint16{0x0000, 0x8005, 0x800f, 0x000a}
	for i, w := range want {
		if got := TableValue(i); got != w {
			t.Errorf("TableValue(%d) = 0x%04x, want 0x%04x", i, got, w)
		}
	}
}

func TestXModem(t *testing.T) {
	tests := []struct {
		name string
		data string
		want uint16
	}{
		{
			name: "check value",
			data: hex.EncodeToString([]byte("123456789")),
			want: 0x31c3,
		},
		{
			name: "backfill rx body",
			data: "51000100b7ff52006604530032000000e6cb",
			want: 0x0598,
		},
		{
			name: "backfill tx body",
			data: "50050200b7ff520066045300000000000000",
			want: 0x3871,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := XModem(mustHex(t, tt.data)); got != tt.want {
				t.Errorf("XModem() = 0x%04x, want 0x%04x", got, tt.want)
			}
		})
	}
}
