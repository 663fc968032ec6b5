// Package vehicleadapter is the narrow boundary around the opaque
// driving simulator/vehicle the spec's Non-goals keep out of scope
// (spec.md §1, §4.F): an interface plus a mock implementation, 1:1
// structural grounding on radar/serial.go's RadarPortInterface +
// MockRadarPort pair (an interface describing the device, and a test
// double backed by an io.Reader fed through a bufio.Scanner) rather than
// a live CARLA/driver binding, which this repo does not implement.
package vehicleadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/lkas-pipeline/lkas/internal/message"
)

// VehicleState is the periodic status snapshot a SimulatorPort publishes
// (§4.F step 5).
type VehicleState struct {
	FrameID   uint64  `json:"frame_id"`
	Timestamp float64 `json:"timestamp"`
	Paused    bool    `json:"paused"`
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
	PositionZ float64 `json:"position_z"`
	SpeedMS   float64 `json:"speed_ms"`
}

// SimulatorPort is the interface the camera/vehicle process (§4.F) drives
// its outer loop against: pull a frame, apply a control, read back
// vehicle state, and respawn on request. A real implementation would
// bind to CARLA or another simulator's client API; that binding is
// explicitly out of scope here (Non-goals §1).
type SimulatorPort interface {
	PullFrame() (message.Image, error)
	ApplyControl(message.Control) error
	PublishState() VehicleState
	Respawn() error
	Close() error
}

// MockSimulatorPort is a test/demo double that replays a fixed image and
// records the controls applied to it, the same role MockRadarPort plays
// for RadarPortInterface.
type MockSimulatorPort struct {
	Frame       message.Image
	FrameEvents chan message.Image

	AppliedControls []message.Control
	RespawnCount    int
	state           VehicleState
	pulled          uint64
	closed          bool
}

// NewMockSimulatorPort constructs a mock yielding frame on every
// PullFrame call.
func NewMockSimulatorPort(frame message.Image) *MockSimulatorPort {
	return &MockSimulatorPort{Frame: frame}
}

// PullFrame returns the configured frame, stamped with an incrementing
// FrameID.
func (m *MockSimulatorPort) PullFrame() (message.Image, error) {
	if m.closed {
		return message.Image{}, fmt.Errorf("vehicleadapter: mock port closed")
	}
	m.pulled++
	frame := m.Frame
	frame.FrameID = m.pulled
	return frame, nil
}

// ApplyControl records the clamped control and updates the internal state
// returned by the next PublishState call.
func (m *MockSimulatorPort) ApplyControl(c message.Control) error {
	if m.closed {
		return fmt.Errorf("vehicleadapter: mock port closed")
	}
	m.AppliedControls = append(m.AppliedControls, *c.Clamp())
	m.state.FrameID = c.FrameID
	m.state.Timestamp = c.Timestamp
	m.state.SpeedMS += c.Throttle - c.Brake
	return nil
}

// PublishState returns the mock's current state snapshot.
func (m *MockSimulatorPort) PublishState() VehicleState { return m.state }

// Respawn resets recorded state, as a teleport-to-spawn would in a real
// simulator.
func (m *MockSimulatorPort) Respawn() error {
	m.RespawnCount++
	m.state = VehicleState{}
	return nil
}

// Close marks the mock unusable for further calls.
func (m *MockSimulatorPort) Close() error {
	m.closed = true
	return nil
}

// monitorLine is the JSON shape a line-oriented simulator bridge process
// would emit on stdout, scanned the way RadarPort.Monitor scans its
// serial connection — one JSON object per line.
type monitorLine struct {
	Kind  string          `json:"kind"` // "state" or "log"
	State *VehicleState   `json:"state,omitempty"`
	Log   json.RawMessage `json:"log,omitempty"`
}

// MonitorLines scans r line-by-line for state snapshots, sending each to
// the returned channel until ctx is done or r is exhausted. This mirrors
// RadarPort.Monitor's scan-and-forward loop, generalized to a JSON line
// protocol instead of raw serial text.
func MonitorLines(ctx context.Context, r io.Reader) <-chan VehicleState {
	out := make(chan VehicleState)
	go func() {
		defer close(out)
		scan := bufio.NewScanner(r)
		for scan.Scan() {
			var line monitorLine
			if err := json.Unmarshal(scan.Bytes(), &line); err != nil {
				log.Printf("[VehicleAdapter] malformed monitor line: %v", err)
				continue
			}
			if line.Kind != "state" || line.State == nil {
				continue
			}
			select {
			case out <- *line.State:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
