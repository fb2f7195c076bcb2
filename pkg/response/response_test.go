package response

import (
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/device"
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

func TestStatusResponse(t *testing.T) {
	tests := []struct {
		hex  string
		want StatusResponse
	}{
		{
			hex: "1D1800A02800000463FF",
			want: StatusResponse{
				DeliveryStatus: DeliveryScheduledBasal,
				PodProgress:    PodProgressRunningAbove50U,
				Delivered:      320,
				LastProgSeqNum: 5,
				MinutesActive:  280,
				Reservoir:      0x3ff,
			},
		},
		{
			hex: "1d180258f80000146fff",
			want: StatusResponse{
				DeliveryStatus: DeliveryScheduledBasal,
				PodProgress:    PodProgressRunningAbove50U,
				Delivered:      1201,
				LastProgSeqNum: 15,
				MinutesActive:  1307,
				Reservoir:      0x3ff,
			},
		},
		{
			hex: "1D160016D000000023FF",
			want: StatusResponse{
				DeliveryStatus: DeliveryScheduledBasal,
				PodProgress:    PodProgressBasalInitialized,
				Delivered:      45,
				LastProgSeqNum: 10,
				MinutesActive:  8,
				Reservoir:      0x3ff,
			},
		},
		{
			hex: "1D0F050648000038B6F3",
			want: StatusResponse{
				DeliveryStatus: DeliverySuspended,
				PodProgress:    PodProgressPodInactive,
				Delivered:      2572,
				LastProgSeqNum: 9,
				MinutesActive:  3629,
				Reservoir:      755,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.hex, func(t *testing.T) {
			data := mustHex(t, tt.hex)
			got, err := UnmarshalStatusResponse(data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(&tt.want, got); diff != "" {
				t.Errorf("UnmarshalStatusResponse() mismatch (-want +got):\n%s", diff)
			}
			enc, err := got.Marshal()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(data, enc); diff != "" {
				t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatusResponseFields(t *testing.T) {
	s := &StatusResponse{
		DeliveryStatus:    DeliveryBolusAndTempBasal,
		PodProgress:       PodProgressRunningBelow50U,
		Delivered:         0x1fff,
		LastProgSeqNum:    0x0f,
		BolusNotDelivered: 0x7ff,
		Alerts:            alert.NewSet(alert.SlotLowReservoir, alert.SlotExpired),
		MinutesActive:     0x1fff,
		Reservoir:         200,
	}
	b, err := s.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalStatusResponse(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.DeliveryStatus.BolusRunning() || !got.DeliveryStatus.TempBasalRunning() || got.DeliveryStatus.BasalRunning() {
		t.Errorf("delivery bits of %s", got.DeliveryStatus)
	}
	if u, ok := got.ReservoirUnits(); !ok || u != 10 {
		t.Errorf("ReservoirUnits() = %v, %v, want 10, true", u, ok)
	}
	if got.TimeActive() != 8191*time.Minute {
		t.Errorf("TimeActive() = %s", got.TimeActive())
	}
}

func TestVersionResponse(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want *VersionResponse
	}{
		{
			name: "assign address",
			hex:  "0115040A00010300040208146CC1000954D400FFFFFFFF",
			want: &VersionResponse{
				PMVersion:   FirmwareVersion{4, 10, 0},
				PIVersion:   FirmwareVersion{1, 3, 0},
				ProductID:   4,
				PodProgress: PodProgressReminderInitialized,
				Lot:         0x08146cc1,
				TID:         0x000954d4,
				Address:     0xffffffff,
			},
		},
		{
			name: "setup pod",
			hex:  "011B13881008340A50040A00010300040308146CC1000954D402420001",
			want: &VersionResponse{
				Setup: &SetupParameters{
					PulseSize:              0x1388,
					BolusPulseInterval:     2 * time.Second,
					PrimePulseInterval:     time.Second,
					PrimePulses:            0x34,
					CannulaInsertionPulses: 0x0a,
					ServiceDuration:        80 * time.Hour,
				},
				PMVersion:   FirmwareVersion{4, 10, 0},
				PIVersion:   FirmwareVersion{1, 3, 0},
				ProductID:   4,
				PodProgress: PodProgressPairingCompleted,
				Lot:         0x08146cc1,
				TID:         0x000954d4,
				Address:     0x02420001,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := mustHex(t, tt.hex)
			got, err := UnmarshalVersionResponse(data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("UnmarshalVersionResponse() mismatch (-want +got):\n%s", diff)
			}
			enc, err := got.Marshal()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(data, enc); diff != "" {
				t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if got := (FirmwareVersion{4, 10, 0}).String(); got != "4.10.0" {
		t.Errorf("FirmwareVersion.String() = %q", got)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		hex  string
		want *ErrorResponse
	}{
		{
			hex:  "0603142ab9",
			want: &ErrorResponse{Code: ErrorBadNonce, SyncWord: 0x2ab9},
		},
		{
			hex:  "0603070009",
			want: &ErrorResponse{Code: 0x07, FaultCode: FaultNone, PodProgress: PodProgressRunningBelow50U},
		},
	}
	for _, tt := range tests {
		t.Run(tt.hex, func(t *testing.T) {
			data := mustHex(t, tt.hex)
			got, err := UnmarshalErrorResponse(data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("UnmarshalErrorResponse() mismatch (-want +got):\n%s", diff)
			}
			enc, _ := got.Marshal()
			if diff := cmp.Diff(data, enc); diff != "" {
				t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetailedStatus(t *testing.T) {
	data := mustHex(t, "021602080200000001b200000003ff01cc0000001fff030d")
	ds, err := UnmarshalDetailedStatus(data)
	if err != nil {
		t.Fatal(err)
	}
	want := &DetailedStatus{
		PodProgress:      PodProgressRunningAbove50U,
		DeliveryStatus:   DeliveryTempBasal,
		Delivered:        0x1b2,
		Reservoir:        0x3ff,
		MinutesActive:    0x1cc,
		RSSI:             0x1f,
		PreviousProgress: NoPreviousProgress,
		Trailer:          0x030d,
	}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Errorf("UnmarshalDetailedStatus() mismatch (-want +got):\n%s", diff)
	}
	if f := ds.Fault(device.Dash); f != nil {
		t.Errorf("Fault() = %v, want nil", f)
	}
	wantStatus := &StatusResponse{
		DeliveryStatus: DeliveryTempBasal,
		PodProgress:    PodProgressRunningAbove50U,
		Delivered:      0x1b2,
		MinutesActive:  0x1cc,
		Reservoir:      0x3ff,
	}
	if diff := cmp.Diff(wantStatus, ds.Status()); diff != "" {
		t.Errorf("Status() mismatch (-want +got):\n%s", diff)
	}
	enc, err := (&PodInfoResponse{Info: ds}).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data, enc); diff != "" {
		t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
	}
}

func TestDetailedStatusFault(t *testing.T) {
	data := mustHex(t, "0216020d0000000701b2140a3c01230a3c0000685f081234")
	ds, err := UnmarshalDetailedStatus(data)
	if err != nil {
		t.Fatal(err)
	}
	minutes := 2620 * time.Minute
	previous := PodProgressRunningAbove50U
	address := uint16(0x1234)
	want := &Fault{
		Code:             FaultOccluded,
		Time:             &minutes,
		OcclusionType:    3,
		ProgressAtFault:  PodProgressRunningAbove50U,
		PreviousProgress: &previous,
		CallingAddress:   &address,
	}
	if diff := cmp.Diff(want, ds.Fault(device.Dash)); diff != "" {
		t.Errorf("Fault(dash) mismatch (-want +got):\n%s", diff)
	}
	want.CallingAddress = nil
	if diff := cmp.Diff(want, ds.Fault(device.Eros)); diff != "" {
		t.Errorf("Fault(eros) mismatch (-want +got):\n%s", diff)
	}
	if ds.ReceiverGain != 1 || ds.RSSI != 0x1f {
		t.Errorf("gain %d rssi 0x%x", ds.ReceiverGain, ds.RSSI)
	}
	if u, ok := ds.ReservoirUnits(); !ok || u != 14.55 {
		t.Errorf("ReservoirUnits() = %v, %v", u, ok)
	}
	if !ds.PodProgress.Faulted() {
		t.Errorf("%s is not faulted", ds.PodProgress)
	}

	ds.FaultMinutes = FaultTimeUnknown
	ds.PreviousProgress = NoPreviousProgress
	f := ds.Fault(device.Eros)
	if f.Time != nil || f.PreviousProgress != nil {
		t.Errorf("unset fault fields decoded: %+v", f)
	}
}

func TestPodInfoPages(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want PodInfo
	}{
		{
			name: "configured alerts",
			hex:  "021301000000000000000010a400c8000000000000",
			want: &ConfiguredAlerts{Values: [alert.NumSlots]uint16{3: 0x10a4, 4: 0xc8}},
		},
		{
			name: "pulse log plus",
			hex:  "020d0300000001cc04002063298005",
			want: &PulseLogPlus{MinutesActive: 0x1cc, EntrySize: 4, MaxEntries: 0x20, Entries: []uint32{0x63298005}},
		},
		{
			name: "activation time",
			hex:  "0211050000000000000000000000090b110b08",
			want: &ActivationTime{Activated: time.Date(2017, time.September, 11, 11, 8, 0, 0, time.UTC)},
		},
		{
			name: "type 46",
			hex:  "0203460000",
			want: &Type46{},
		},
		{
			name: "pulse log recent",
			hex:  "020b50000963298005622f8008",
			want: &PulseLogRecent{LastEntryIndex: 9, Entries: []uint32{0x63298005, 0x622f8008}},
		},
		{
			name: "pulse log previous",
			hex:  "0203510000",
			want: &PulseLogPrevious{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := mustHex(t, tt.hex)
			got, err := UnmarshalPodInfoResponse(data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got.Info); diff != "" {
				t.Errorf("UnmarshalPodInfoResponse() mismatch (-want +got):\n%s", diff)
			}
			enc, err := got.Marshal()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(data, enc); diff != "" {
				t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name      string
		hex       string
		unmarshal func([]byte) error
		wantShort bool
		wantField string
	}{
		{
			name:      "short status",
			hex:       "1d1800a028",
			unmarshal: func(b []byte) error { _, err := UnmarshalStatusResponse(b); return err },
			wantShort: true,
		},
		{
			name:      "unknown delivery status",
			hex:       "1d3800a02800000463ff",
			unmarshal: func(b []byte) error { _, err := UnmarshalStatusResponse(b); return err },
			wantField: "delivery status",
		},
		{
			name:      "truncated pulse log",
			hex:       "02cb5000900063298005622f80086229800d622f80",
			unmarshal: func(b []byte) error { _, err := UnmarshalPodInfoResponse(b); return err },
			wantShort: true,
		},
		{
			name:      "type 46 declared past the data",
			hex:       "0204460000",
			unmarshal: func(b []byte) error { _, err := UnmarshalPodInfoResponse(b); return err },
			wantShort: true,
		},
		{
			name:      "type 46 wrong length",
			hex:       "020446000000",
			unmarshal: func(b []byte) error { _, err := UnmarshalPodInfoResponse(b); return err },
			wantField: "type46 length",
		},
		{
			name:      "pulse log previous without count",
			hex:       "02025100",
			unmarshal: func(b []byte) error { _, err := UnmarshalPodInfoResponse(b); return err },
			wantShort: true,
		},
		{
			name:      "pulse log previous partial entry",
			hex:       "02045100000063",
			unmarshal: func(b []byte) error { _, err := UnmarshalPodInfoResponse(b); return err },
			wantField: "pulseLogPrevious length",
		},
		{
			name:      "unknown pod info type",
			hex:       "0203040000",
			unmarshal: func(b []byte) error { _, err := UnmarshalPodInfoResponse(b); return err },
			wantField: "pod info type",
		},
		{
			name:      "detailed status wrong length",
			hex:       "021502080200000001b200000003ff01cc0000001fff03",
			unmarshal: func(b []byte) error { _, err := UnmarshalDetailedStatus(b); return err },
			wantField: "detailedStatus length",
		},
		{
			name:      "detailed status progress out of range",
			hex:       "021602180200000001b200000003ff01cc0000001fff030d",
			unmarshal: func(b []byte) error { _, err := UnmarshalDetailedStatus(b); return err },
			wantField: "pod progress",
		},
		{
			name:      "version response length",
			hex:       "0116040A00010300040208146CC1000954D400FFFFFFFF00",
			unmarshal: func(b []byte) error { _, err := UnmarshalVersionResponse(b); return err },
			wantField: "length",
		},
		{
			name:      "error response progress",
			hex:       "0603070020",
			unmarshal: func(b []byte) error { _, err := UnmarshalErrorResponse(b); return err },
			wantField: "pod progress",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.unmarshal(mustHex(t, tt.hex))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantShort && !errors.Is(err, block.ErrNotEnoughData) {
				t.Errorf("got %v, want ErrNotEnoughData", err)
			}
			if tt.wantField != "" {
				var perr *block.ParseError
				if !errors.As(err, &perr) || perr.Field != tt.wantField {
					t.Errorf("got %v, want ParseError on %q", err, tt.wantField)
				}
			}
		})
	}
}
