package control

import (
	"math"
	"testing"

	"github.com/lkas-pipeline/lkas/internal/message"
)

func straightAheadMetrics() Metrics {
	return Metrics{
		HasBothLanes:              true,
		LateralOffsetNormalized:   0,
		LateralOffsetNormalizedOK: true,
		HeadingAngleDeg:           0,
		HeadingAngleDegOK:         true,
	}
}

func TestNewControllerUnknownMethod(t *testing.T) {
	if _, err := NewController("bogus", Gains{}, ThrottlePolicy{}); err == nil {
		t.Fatal("expected error for unknown controller method")
	}
}

func TestPDControllerNoLaneBrake(t *testing.T) {
	ctrl, err := NewController("pd", Gains{Kp: 0.5, Kd: 0.1}, ThrottlePolicy{ThrottleBase: 0.5, ThrottleMin: 0.1, SteerThreshold: 0.2, SteerMax: 0.8})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	got := ctrl.Compute(Metrics{}, 5, 1.0)
	want := message.NoLaneBrake(5, 1.0)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// TestPDControllerSteersTowardCenter mirrors spec scenario S2: a left
// drift should produce positive steering (toward the right).
func TestPDControllerSteersTowardCenter(t *testing.T) {
	ctrl, err := NewController("pd", Gains{Kp: 0.5, Kd: 0.1}, ThrottlePolicy{ThrottleBase: 0.5, ThrottleMin: 0.1, SteerThreshold: 0.2, SteerMax: 0.8})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	m := straightAheadMetrics()
	m.LateralOffsetNormalized = -0.12 // vehicle left of center (offset ~ -60/500)

	got := ctrl.Compute(m, 1, 0)
	if got.Steering <= 0 {
		t.Fatalf("expected positive (rightward) steering, got %v", got.Steering)
	}
	if math.Abs(got.Steering-0.06) > 1e-9 {
		t.Fatalf("expected steering = Kp*0.12 = 0.06, got %v", got.Steering)
	}
}

// A control command always carries the frame id and timestamp of the
// detection it derives from, both on the steering path and on the
// fallback path.
func TestControllerPropagatesFrameIDAndTimestamp(t *testing.T) {
	ctrl, err := NewController("pd", Gains{Kp: 0.5}, ThrottlePolicy{ThrottleBase: 0.5, ThrottleMin: 0.1, SteerThreshold: 0.2, SteerMax: 0.8})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	got := ctrl.Compute(straightAheadMetrics(), 17, 42.5)
	if got.FrameID != 17 || got.Timestamp != 42.5 {
		t.Fatalf("steering path: got frame=%d ts=%v, want 17/42.5", got.FrameID, got.Timestamp)
	}

	got = ctrl.Compute(Metrics{}, 18, 43.0)
	if got.FrameID != 18 || got.Timestamp != 43.0 {
		t.Fatalf("fallback path: got frame=%d ts=%v, want 18/43.0", got.FrameID, got.Timestamp)
	}
}

func TestPDControllerRejectsKiUpdate(t *testing.T) {
	ctrl, err := NewController("pd", Gains{}, ThrottlePolicy{})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := ctrl.SetGain("ki", 0.1); err == nil {
		t.Fatal("expected pd controller to reject ki update")
	}
	if err := ctrl.SetGain("kp", 0.7); err != nil {
		t.Fatalf("expected kp update to succeed: %v", err)
	}
}

func TestPIDControllerAcceptsKiUpdate(t *testing.T) {
	ctrl, err := NewController("pid", Gains{}, ThrottlePolicy{})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := ctrl.SetGain("ki", 0.1); err != nil {
		t.Fatalf("expected pid controller to accept ki update: %v", err)
	}
}

func TestPIDControllerResetsIntegratorOnLaneLoss(t *testing.T) {
	ctrl, err := NewController("pid", Gains{Kp: 0.5, Ki: 0.1, Kd: 0.1}, ThrottlePolicy{ThrottleBase: 0.5, ThrottleMin: 0.1, SteerThreshold: 0.2, SteerMax: 0.8})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	pid := ctrl.(*pidController)

	m := straightAheadMetrics()
	m.LateralOffsetNormalized = -0.2
	ctrl.Compute(m, 1, 0)
	if pid.integral != 0 {
		// First call has dt=0 since there is no prior timestamp, so the
		// integral contribution is zero regardless of offset.
		t.Fatalf("expected zero integral accumulation on first call, got %v", pid.integral)
	}

	ctrl.Compute(Metrics{}, 2, 1)
	if pid.integral != 0 || pid.haveLast {
		t.Fatalf("expected integrator reset after lane loss, got integral=%v haveLast=%v", pid.integral, pid.haveLast)
	}
}

func TestNoLaneBrakeValues(t *testing.T) {
	c := message.NoLaneBrake(1, 2)
	if c.Steering != 0 || c.Throttle != 0 || c.Brake != 0.3 {
		t.Fatalf("got %+v, want steering=0 throttle=0 brake=0.3", c)
	}
}
