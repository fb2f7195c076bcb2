package command

import (
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCommands(t *testing.T) {
	lowReservoir := alert.Configuration{
		Slot:       alert.SlotLowReservoir,
		Active:     true,
		Trigger:    alert.UnitsRemaining{Units: 10},
		BeepRepeat: alert.RepeatEvery1MinuteFor3MinutesAndRepeatEvery60Minutes,
		BeepType:   alert.BeepBipBeeepBipBeeepBipBeeep,
	}
	expiration := alert.Configuration{
		Slot:       alert.SlotExpirationReminder,
		Active:     true,
		AutoOff:    true,
		Duration:   0x1e0,
		Trigger:    alert.TimeUntilAlert{Minutes: 4260},
		BeepRepeat: alert.RepeatEvery15Minutes,
		BeepType:   alert.BeepBeepBeepBeep,
	}

	tests := []struct {
		name      string
		cmd       block.Block
		hex       string
		unmarshal func([]byte) (block.Block, error)
		// decoded is compared instead of cmd when encoding is not symmetric
		decoded block.Block
	}{
		{
			name: "assign address",
			cmd:  &AssignAddress{Address: 0x1f08ced2},
			hex:  "07041f08ced2",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalAssignAddress(b)
			},
		},
		{
			name: "setup pod",
			cmd: &SetupPod{
				Address:       0x1f08ced2,
				PacketTimeout: 4,
				Date:          time.Date(2017, time.September, 11, 11, 8, 0, 0, time.UTC),
				Lot:           0xa640,
				TID:           0x97c27,
			},
			hex: "03131f08ced21404090b110b080000a64000097c27",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalSetupPod(b)
			},
		},
		{
			name: "fault config",
			cmd:  &FaultConfig{Nonce: 0xa1b2c3d4, Tab5Sub16: 0, Tab5Sub17: 2},
			hex:  "0806a1b2c3d40002",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalFaultConfig(b)
			},
		},
		{
			name: "get detailed status",
			cmd:  &GetStatus{StatusType: block.PodInfoDetailedStatus},
			hex:  "0e0102",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalGetStatus(b)
			},
		},
		{
			name: "acknowledge alerts",
			cmd:  &AcknowledgeAlert{Nonce: 0x10203040, Alerts: alert.NewSet(alert.SlotLowReservoir, alert.SlotExpired)},
			hex:  "11051020304090",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalAcknowledgeAlert(b)
			},
		},
		{
			name: "configure one alert",
			cmd:  &ConfigureAlerts{Nonce: 0xfeb6268b, Configurations: []alert.Configuration{lowReservoir}},
			hex:  "190afeb6268b4c0000640102",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalConfigureAlerts(b)
			},
		},
		{
			name: "configure alerts sorts by slot",
			cmd:  &ConfigureAlerts{Nonce: 0xfeb6268b, Configurations: []alert.Configuration{lowReservoir, expiration}},
			hex:  "1910feb6268b" + "3be010a40605" + "4c0000640102",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalConfigureAlerts(b)
			},
			decoded: &ConfigureAlerts{Nonce: 0xfeb6268b, Configurations: []alert.Configuration{expiration, lowReservoir}},
		},
		{
			name: "deactivate",
			cmd:  &Deactivate{Nonce: 0x11223344},
			hex:  "1c0411223344",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalDeactivate(b)
			},
		},
		{
			name: "beep config",
			cmd: &BeepConfig{
				BeepType: alert.BeepBipBip,
				Basal:    Reminder{Completion: true, Interval: time.Hour},
				Bolus:    Reminder{Completion: true},
			},
			hex: "1e04037c0040",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalBeepConfig(b)
			},
		},
		{
			name: "cancel everything",
			cmd:  &CancelDelivery{Nonce: 0x4a2a8a0f, Delivery: CancelAll, BeepType: alert.BeepBeeeep},
			hex:  "1f054a2a8a0f67",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalCancelDelivery(b)
			},
		},
		{
			name: "bolus extra",
			cmd:  NewBolusExtra(2.6, 0, 0, BeepOptions{}),
			hex:  "170d00020800030d40000000000000",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalBolusExtra(b)
			},
		},
		{
			name: "extended bolus extra",
			cmd:  NewBolusExtra(0, 1, time.Hour, BeepOptions{Acknowledgement: true, Completion: true, ReminderInterval: 5 * time.Minute}),
			hex:  "170dc500000000000000c80112a880",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalBolusExtra(b)
			},
		},
		{
			name: "temp basal extra",
			cmd:  NewTempBasalExtra(0.5, time.Hour, BeepOptions{}),
			hex:  "160e0000006402255100" + "006402255100",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalTempBasalExtra(b)
			},
		},
		{
			name: "zero temp basal extra",
			cmd:  NewTempBasalExtra(0, 30*time.Minute, BeepOptions{}),
			hex:  "160e000000006b49d200" + "00006b49d200",
			unmarshal: func(b []byte) (block.Block, error) {
				return UnmarshalTempBasalExtra(b)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Marshal()
			if err != nil {
				t.Fatal(err)
			}
			if hex.EncodeToString(got) != tt.hex {
				t.Errorf("Marshal() = %x, want %s", got, tt.hex)
			}
			back, err := tt.unmarshal(got)
			if err != nil {
				t.Fatal(err)
			}
			want := tt.cmd
			if tt.decoded != nil {
				want = tt.decoded
			}
			if diff := cmp.Diff(want, back); diff != "" {
				t.Errorf("Unmarshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetInsulinSchedule(t *testing.T) {
	minimum, err := basal.NewSchedule([]basal.Entry{{Start: 0, Rate: 0.05}})
	if err != nil {
		t.Fatal(err)
	}
	zero, err := basal.NewSchedule([]basal.Entry{{Start: 0, Rate: 0}})
	if err != nil {
		t.Fatal(err)
	}
	offset := 8*time.Hour + 15*time.Minute

	build := func(f func() (*SetInsulinSchedule, error)) *SetInsulinSchedule {
		t.Helper()
		c, err := f()
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
	tests := []struct {
		name string
		cmd  *SetInsulinSchedule
		hex  string
	}{
		{
			name: "minimum basal",
			cmd: build(func() (*SetInsulinSchedule, error) {
				return NewBasalSchedule(0x01020304, minimum, offset, device.Dash)
			}),
			hex: "1a1201020304000064101c200000f800f800f800",
		},
		{
			name: "zero basal on eros",
			cmd: build(func() (*SetInsulinSchedule, error) {
				return NewBasalSchedule(0x01020304, zero, offset+400*time.Millisecond, device.Eros)
			}),
			hex: "1a1201020304000064101c200000f800f800f800",
		},
		{
			name: "zero basal on dash",
			cmd: build(func() (*SetInsulinSchedule, error) {
				return NewBasalSchedule(0x01020304, zero, offset, device.Dash)
			}),
			hex: "1a120102030400004c101c200000f000f000f000",
		},
		{
			name: "temp basal",
			cmd: build(func() (*SetInsulinSchedule, error) {
				return NewTempBasal(0xa1b2c3d4, 0.5, time.Hour)
			}),
			hex: "1a0ea1b2c3d40100890238400005" + "1005",
		},
		{
			name: "bolus",
			cmd: build(func() (*SetInsulinSchedule, error) {
				return NewBolus(0xbed2e16b, 2.6)
			}),
			hex: "1a0ebed2e16b02010a0101a000340034",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Marshal()
			if err != nil {
				t.Fatal(err)
			}
			if hex.EncodeToString(got) != tt.hex {
				t.Errorf("Marshal() = %x, want %s", got, tt.hex)
			}
			back, err := UnmarshalSetInsulinSchedule(got)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.cmd, back); diff != "" {
				t.Errorf("UnmarshalSetInsulinSchedule() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBasalScheduleExtra(t *testing.T) {
	s, err := basal.NewSchedule([]basal.Entry{{Start: 0, Rate: 1}})
	if err != nil {
		t.Fatal(err)
	}
	c := NewBasalScheduleExtra(s, 8*time.Hour+15*time.Minute, device.Dash, BeepOptions{})
	got, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if want := "130e00000c4f0000000012c00112a880"; hex.EncodeToString(got) != want {
		t.Errorf("Marshal() = %x, want %s", got, want)
	}
	back, err := UnmarshalBasalScheduleExtra(got)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, back); diff != "" {
		t.Errorf("UnmarshalBasalScheduleExtra() mismatch (-want +got):\n%s", diff)
	}
	if c.RemainingPulses != 315.1 {
		t.Errorf("RemainingPulses = %v", c.RemainingPulses)
	}

	// a day of idle segments needs more rate entries than a block holds
	zero, err := basal.NewSchedule([]basal.Entry{{Start: 0, Rate: 0}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewBasalScheduleExtra(zero, 0, device.Dash, BeepOptions{}).Marshal(); err == nil {
		t.Errorf("48 idle entries should not encode")
	}
}

func TestDecodeLogged(t *testing.T) {
	hook := logtest.NewGlobal()
	level := log.GetLevel()
	log.SetLevel(log.TraceLevel)
	defer func() {
		log.SetLevel(level)
		log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	}()

	data := mustHex(t, "170d00020800030d40000000000000")
	c, err := UnmarshalBolusExtra(data)
	if err != nil {
		t.Fatal(err)
	}
	e := hook.LastEntry()
	if e == nil || e.Level != log.DebugLevel || e.Message != "BolusExtra, 0x17, received, data 170d00020800030d40000000000000" {
		t.Errorf("decode entry = %+v", e)
	}

	if _, err := c.Marshal(); err != nil {
		t.Fatal(err)
	}
	e = hook.LastEntry()
	if e == nil || e.Level != log.TraceLevel || e.Message != "BolusExtra, 0x17, encoded, data 170d00020800030d40000000000000" {
		t.Errorf("encode entry = %+v", e)
	}
}

func TestBolusExtraDuration(t *testing.T) {
	c := NewBolusExtra(1, 1.5, 90*time.Minute, BeepOptions{})
	if d := c.ExtendedDuration(); d != 90*time.Minute {
		t.Errorf("ExtendedDuration() = %s", d)
	}
	if c.TimeBetweenPulses != DefaultTimeBetweenBolusPulses {
		t.Errorf("TimeBetweenPulses = %s", c.TimeBetweenPulses)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	var parseErr *block.ParseError
	tests := []struct {
		name      string
		hex       string
		unmarshal func([]byte) error
		wantParse bool
	}{
		{
			name: "short deactivate",
			hex:  "1c0411",
			unmarshal: func(b []byte) error {
				_, err := UnmarshalDeactivate(b)
				return err
			},
		},
		{
			name: "unknown status type",
			hex:  "0e0104",
			unmarshal: func(b []byte) error {
				_, err := UnmarshalGetStatus(b)
				return err
			},
			wantParse: true,
		},
		{
			name: "bad schedule checksum",
			hex:  "1a1201020304000065101c200000f800f800f800",
			unmarshal: func(b []byte) error {
				_, err := UnmarshalSetInsulinSchedule(b)
				return err
			},
			wantParse: true,
		},
		{
			name: "bad setup month",
			hex:  "03131f08ced214040d0b110b080000a64000097c27",
			unmarshal: func(b []byte) error {
				_, err := UnmarshalSetupPod(b)
				return err
			},
			wantParse: true,
		},
		{
			name: "wrong fixed length",
			hex:  "1f0611223344670a",
			unmarshal: func(b []byte) error {
				_, err := UnmarshalCancelDelivery(b)
				return err
			},
			wantParse: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.unmarshal(mustHex(t, tt.hex))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantParse && !errors.As(err, &parseErr) {
				t.Errorf("error = %v, want *block.ParseError", err)
			}
			if !tt.wantParse && !errors.Is(err, block.ErrNotEnoughData) {
				t.Errorf("error = %v, want ErrNotEnoughData", err)
			}
		})
	}
}
