package message

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/command"
	"github.com/avereha/podcomm/pkg/response"
	"github.com/davecgh/go-spew/spew"
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

func TestMessages(t *testing.T) {
	tests := []struct {
		name     string
		hex      string
		address  uint32
		seq      uint8
		followOn bool
		types    []block.Type
	}{
		{
			name:    "get status",
			hex:     "1f01482a10030e0100802c",
			address: 0x1f01482a,
			seq:     4,
			types:   []block.Type{block.GET_STATUS},
		},
		{
			name:    "bolus",
			hex:     "1f01482a14201a0ebed2e16b02010a0101a000340034170d00020800030d40000000000000000081fa",
			address: 0x1f01482a,
			seq:     5,
			types:   []block.Type{block.SET_INSULIN_SCHEDULE, block.BOLUS_EXTRA},
		},
		{
			name:    "status response",
			hex:     "1f01482a180a1d180258f80000146fff8150",
			address: 0x1f01482a,
			seq:     6,
			types:   []block.Type{block.STATUS_RESPONSE},
		},
		{
			name:     "follow on",
			hex:      "1f01482abc030e01008136",
			address:  0x1f01482a,
			seq:      15,
			followOn: true,
			types:    []block.Type{block.GET_STATUS},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := mustHex(t, tt.hex)
			msg, err := Unmarshal(data)
			if err != nil {
				t.Fatal(err)
			}
			if msg.Address != tt.address || msg.Sequence != tt.seq || msg.FollowOn != tt.followOn {
				t.Errorf("header mismatch: %s", spew.Sdump(msg))
			}
			var types []block.Type
			for _, b := range msg.Blocks {
				types = append(types, b.GetType())
			}
			if diff := cmp.Diff(tt.types, types); diff != "" {
				t.Errorf("block types mismatch (-want +got):\n%s", diff)
			}
			enc, err := msg.Marshal()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(data, enc); diff != "" {
				t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMarshalBlocks(t *testing.T) {
	msg := &Message{
		Address:  0x1f01482a,
		Sequence: 4,
		Blocks:   []block.Block{&command.GetStatus{StatusType: block.PodInfoNormal}},
	}
	got, err := msg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mustHex(t, "1f01482a10030e0100802c"), got); diff != "" {
		t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
	}

	// the sequence number wraps at 4 bits
	msg.Sequence = 20
	got, _ = msg.Marshal()
	if got[4] != 0x10 {
		t.Errorf("header 0x%02x, want 0x10", got[4])
	}
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name  string
		hex   string
		check func(error) bool
	}{
		{
			name:  "bad crc",
			hex:   "1f01482a10030e0100802d",
			check: func(err error) bool { return errors.Is(err, ErrInvalidCRC) },
		},
		{
			name:  "short",
			hex:   "1f01482a1003",
			check: func(err error) bool { return errors.Is(err, block.ErrNotEnoughData) },
		},
		{
			name:  "declared length past data",
			hex:   "1f01482a10090e0100802c",
			check: func(err error) bool { return errors.Is(err, block.ErrNotEnoughData) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(mustHex(t, tt.hex))
			if err == nil || !tt.check(err) {
				t.Errorf("Unmarshal() error = %v", err)
			}
		})
	}
}

func TestDecodeBlock(t *testing.T) {
	b, n, err := DecodeBlock(mustHex(t, "0603142ab9ffff"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("size %d, want 5", n)
	}
	e, ok := b.(*response.ErrorResponse)
	if !ok || !e.IsBadNonce() || e.SyncWord != 0x2ab9 {
		t.Errorf("decoded %s", spew.Sdump(b))
	}

	_, _, err = DecodeBlock(mustHex(t, "0400"))
	var unknown *block.UnknownBlockTypeError
	if !errors.As(err, &unknown) || unknown.Tag != 0x04 {
		t.Errorf("DecodeBlock(04) error = %v", err)
	}
}

func TestEnvelope(t *testing.T) {
	msg := mustHex(t, "1f01482a10030e0100802c")

	cmd := WrapCommand(msg)
	if string(cmd[:5]) != "S0.0=" || string(cmd[len(cmd)-5:]) != ",G0.0" {
		t.Errorf("WrapCommand() = %q", cmd)
	}
	got, err := UnwrapCommand(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("UnwrapCommand() mismatch (-want +got):\n%s", diff)
	}

	rsp := WrapResponse(msg)
	got, err = UnwrapResponse(rsp)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("UnwrapResponse() mismatch (-want +got):\n%s", diff)
	}

	if _, err := UnwrapCommand(rsp); err == nil {
		t.Error("UnwrapCommand accepted a response")
	}
	if _, err := UnwrapResponse(append(rsp, 0)); err == nil {
		t.Error("UnwrapResponse accepted a bad length")
	}
}
