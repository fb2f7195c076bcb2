package pod

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/nonce"
	"github.com/avereha/podcomm/pkg/response"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestStateRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "pod.toml")
	st := NewState(filename, 0x1f0e89f0, device.Dash, insulin.Humalog)
	st.LTK = "00112233445566778899aabbccddeeff"
	st.Lot = 0xa640
	st.TID = 0x97c27
	st.PMVersion = "4.10.0"
	st.PIVersion = "4.10.0"
	st.Nonce = nonce.State{Lot: 0xa640, TID: 0x97c27, Seed: 0x5a17, Count: 12}
	st.MsgSeq = 14
	st.LastProgSeqNum = 11
	st.PodProgress = response.PodProgressRunningBelow50U
	st.DeliveryStatus = response.DeliveryBolusAndTempBasal
	st.ActivationTime = t0
	st.LastStatus = t0.Add(3 * time.Hour)
	st.MinutesActive = 180
	st.Reservoir = 42.35
	st.Delivered = 17.6
	st.ActiveAlertSlots = alert.NewSet(alert.SlotLowReservoir)
	st.BasalSchedule = []basal.Entry{{Start: 0, Rate: 0.8}, {Start: 6 * time.Hour, Rate: 1.25}}
	st.Fault = &FaultRecord{
		Code:            response.FaultOccluded,
		PodAge:          -1,
		ProgressAtFault: response.PodProgressRunningAbove50U,
		OcclusionType:   2,
		CallingAddress:  0x1234,
		ReportedAt:      t0.Add(2 * time.Hour),
	}
	st.UnfinalizedBolus = NewBolusDose(1.5, t0.Add(time.Hour), 2*time.Second, insulin.Humalog, 9)
	st.UnfinalizedTempBasal = NewTempBasalDose(0.5, 90*time.Minute, t0, insulin.Humalog, 7)
	st.UnfinalizedTempBasal.Certainty = Uncertain
	done := NewBolusDose(0.35, t0.Add(-time.Hour), 2*time.Second, insulin.Humalog, 1)
	done.Finalized = true
	st.FinalizedDoses = []UnfinalizedDose{*done}

	if err := st.Save(); err != nil {
		t.Fatal(err)
	}
	back, err := LoadState(filename)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(st, back, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("LoadState() mismatch (-want +got):\n%s", diff)
	}
}

func TestStateRemove(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "pod.toml")
	st := NewState(filename, 0x1f0e89f0, device.Dash, insulin.Novolog)
	if err := st.Save(); err != nil {
		t.Fatal(err)
	}
	if err := st.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filename); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("state file still there: %v", err)
	}
	// removing twice is fine
	if err := st.Remove(); err != nil {
		t.Errorf("second Remove() = %v", err)
	}
}

func TestUpdateDetailed(t *testing.T) {
	st := NewState("", 0x1f0e89f0, device.Dash, insulin.Novolog)
	st.UnfinalizedBolus = NewBolusDose(2, t0, 2*time.Second, insulin.Novolog, 5)
	now := t0.Add(10 * time.Second)

	st.UpdateDetailed(now, &response.DetailedStatus{
		PodProgress:       response.PodProgressFault,
		DeliveryStatus:    response.DeliverySuspended,
		BolusNotDelivered: 35,
		LastProgSeqNum:    5,
		Delivered:         145,
		FaultCode:         response.FaultOccluded,
		FaultMinutes:      response.FaultTimeUnknown,
		Reservoir:         insulin.ReservoirSentinel,
		MinutesActive:     200,
		ErrorEventInfo:    byte(response.PodProgressRunningAbove50U),
		PreviousProgress:  response.NoPreviousProgress,
		Trailer:           0x0a3c,
	})
	if !st.Faulted() {
		t.Errorf("Faulted() = false")
	}
	want := &FaultRecord{
		Code:            response.FaultOccluded,
		PodAge:          -1,
		ProgressAtFault: response.PodProgressRunningAbove50U,
		CallingAddress:  0x0a3c,
		ReportedAt:      now,
	}
	if diff := cmp.Diff(want, st.Fault); diff != "" {
		t.Errorf("Fault mismatch (-want +got):\n%s", diff)
	}
	if st.Delivered != 7.25 || st.Reservoir != insulin.MaxReservoirReading {
		t.Errorf("Delivered = %v, Reservoir = %v", st.Delivered, st.Reservoir)
	}
	// the fault stopped the bolus with 35 pulses left
	if st.UnfinalizedBolus != nil || len(st.FinalizedDoses) != 1 || st.FinalizedDoses[0].Units != 0.25 {
		t.Errorf("bolus after fault: %v %v", st.UnfinalizedBolus, st.FinalizedDoses)
	}
}
