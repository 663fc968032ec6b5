package vehicleadapter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lkas-pipeline/lkas/internal/message"
)

func TestMockSimulatorPortPullFrameIncrementsFrameID(t *testing.T) {
	mock := NewMockSimulatorPort(message.Image{Width: 4, Height: 2, Pixels: make([]byte, 24)})

	first, err := mock.PullFrame()
	if err != nil {
		t.Fatalf("PullFrame: %v", err)
	}
	if first.FrameID != 1 {
		t.Fatalf("got FrameID=%d, want 1", first.FrameID)
	}
}

func TestMockSimulatorPortApplyControlClampsAndRecords(t *testing.T) {
	mock := NewMockSimulatorPort(message.Image{})

	if err := mock.ApplyControl(message.Control{Steering: 5, Throttle: 2, FrameID: 3, Timestamp: 9}); err != nil {
		t.Fatalf("ApplyControl: %v", err)
	}
	if len(mock.AppliedControls) != 1 {
		t.Fatalf("expected 1 recorded control, got %d", len(mock.AppliedControls))
	}
	got := mock.AppliedControls[0]
	if got.Steering != 1 || got.Throttle != 1 {
		t.Fatalf("expected clamped steering=1 throttle=1, got steering=%v throttle=%v", got.Steering, got.Throttle)
	}

	state := mock.PublishState()
	if state.FrameID != 3 || state.Timestamp != 9 {
		t.Fatalf("got state %+v, want FrameID=3 Timestamp=9", state)
	}
}

func TestMockSimulatorPortRespawnResetsState(t *testing.T) {
	mock := NewMockSimulatorPort(message.Image{})
	mock.ApplyControl(message.Control{FrameID: 5, Timestamp: 1})

	if err := mock.Respawn(); err != nil {
		t.Fatalf("Respawn: %v", err)
	}
	if mock.RespawnCount != 1 {
		t.Fatalf("got RespawnCount=%d, want 1", mock.RespawnCount)
	}
	if mock.PublishState() != (VehicleState{}) {
		t.Fatalf("expected state reset after respawn, got %+v", mock.PublishState())
	}
}

func TestMockSimulatorPortRejectsCallsAfterClose(t *testing.T) {
	mock := NewMockSimulatorPort(message.Image{})
	mock.Close()

	if _, err := mock.PullFrame(); err == nil {
		t.Fatal("expected error from PullFrame after Close")
	}
	if err := mock.ApplyControl(message.Control{}); err == nil {
		t.Fatal("expected error from ApplyControl after Close")
	}
}

func TestMonitorLinesParsesStateLines(t *testing.T) {
	input := strings.NewReader(
		`{"kind":"state","state":{"frame_id":1,"timestamp":0.5,"speed_ms":3}}` + "\n" +
			`{"kind":"log","log":"ignored"}` + "\n" +
			`not json` + "\n" +
			`{"kind":"state","state":{"frame_id":2,"timestamp":1.0,"speed_ms":4}}` + "\n",
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	states := MonitorLines(ctx, input)

	var got []VehicleState
	for s := range states {
		got = append(got, s)
	}

	if len(got) != 2 {
		t.Fatalf("got %d states, want 2 (malformed/log lines skipped)", len(got))
	}
	if got[0].SpeedMS != 3 || got[1].SpeedMS != 4 {
		t.Fatalf("got speeds %v, %v; want 3, 4", got[0].SpeedMS, got[1].SpeedMS)
	}
}
