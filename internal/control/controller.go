package control

import (
	"fmt"
	"math"
	"time"

	"github.com/lkas-pipeline/lkas/internal/message"
)

// Controller turns Metrics into a clamped Control command. Two
// implementations exist — pdController and pidController — selected at
// construction per §4.C; there is no reflection-based dispatch (Design
// Notes §9), just the closed switch in NewController.
type Controller interface {
	// Compute derives a control command from m, carrying through frameID
	// and ts. Metrics reporting "unknown" (no lanes, no offset) always
	// yields the no-lane brake fallback.
	Compute(m Metrics, frameID uint64, ts float64) message.Control
	// SetGain applies a parameter update to one of "kp", "ki", "kd". A
	// pd controller rejects "ki" updates.
	SetGain(name string, value float64) error
	// SetThrottlePolicy swaps the throttle policy between frames, for
	// control-plane updates to throttle_base/throttle_min/steer_*.
	SetThrottlePolicy(p ThrottlePolicy)
}

// Gains holds the steering law coefficients.
type Gains struct {
	Kp, Ki, Kd float64
}

// NewController constructs the controller variant named by method ("pd"
// or "pid"); any other value is a configuration error caught at
// construction, matching Design Notes §9's "invalid names fail at parse
// time" for closed enumerations.
func NewController(method string, gains Gains, throttle ThrottlePolicy) (Controller, error) {
	switch method {
	case "pd":
		return &pdController{gains: gains, throttle: throttle}, nil
	case "pid":
		return &pidController{gains: gains, throttle: throttle}, nil
	default:
		return nil, fmt.Errorf("control: unknown controller method %q, want \"pd\" or \"pid\"", method)
	}
}

func headingNorm(m Metrics) (float64, bool) {
	if !m.HeadingAngleDegOK {
		return 0, false
	}
	return clamp(m.HeadingAngleDeg/30, -1, 1), true
}

func steeringOK(m Metrics) bool {
	return m.HasBothLanes && m.LateralOffsetNormalizedOK && m.HeadingAngleDegOK
}

func noLaneBrake(frameID uint64, ts float64) message.Control {
	return message.NoLaneBrake(frameID, ts)
}

// pdController implements `steering = -(Kp*offset_norm + Kd*heading_norm)`.
type pdController struct {
	gains    Gains
	throttle ThrottlePolicy
}

func (c *pdController) Compute(m Metrics, frameID uint64, ts float64) message.Control {
	if !steeringOK(m) {
		return noLaneBrake(frameID, ts)
	}
	hNorm, _ := headingNorm(m)
	steering := clamp(-(c.gains.Kp*m.LateralOffsetNormalized + c.gains.Kd*hNorm), -1, 1)
	throttle := c.throttle.Throttle(math.Abs(steering))

	ctl := message.Control{
		Steering:                steering,
		Throttle:                throttle,
		Brake:                   0,
		Mode:                    message.ModeLaneKeeping,
		LateralOffsetNormalized: ptr(m.LateralOffsetNormalized),
		HeadingAngleDeg:         ptr(m.HeadingAngleDeg),
		FrameID:                 frameID,
		Timestamp:               ts,
	}
	return *ctl.Clamp()
}

func (c *pdController) SetGain(name string, value float64) error {
	switch name {
	case "kp":
		c.gains.Kp = value
	case "kd":
		c.gains.Kd = value
	case "ki":
		return fmt.Errorf("control: pd controller does not accept ki updates")
	default:
		return fmt.Errorf("control: unknown gain %q", name)
	}
	return nil
}

func (c *pdController) SetThrottlePolicy(p ThrottlePolicy) { c.throttle = p }

// pidController adds an integral term to the PD law. The integrator
// accumulates offset*dt between calls and resets whenever both lanes
// disappear for at least one frame (§4.C).
type pidController struct {
	gains    Gains
	throttle ThrottlePolicy
	integral float64
	lastCall time.Time
	haveLast bool
}

func (c *pidController) Compute(m Metrics, frameID uint64, ts float64) message.Control {
	now := time.Now()
	if !steeringOK(m) {
		c.integral = 0
		c.haveLast = false
		return noLaneBrake(frameID, ts)
	}

	var dt float64
	if c.haveLast {
		dt = now.Sub(c.lastCall).Seconds()
	}
	c.lastCall = now
	c.haveLast = true

	c.integral += m.LateralOffsetNormalized * dt

	hNorm, _ := headingNorm(m)
	steering := clamp(-(c.gains.Kp*m.LateralOffsetNormalized + c.gains.Ki*c.integral + c.gains.Kd*hNorm), -1, 1)
	throttle := c.throttle.Throttle(math.Abs(steering))

	ctl := message.Control{
		Steering:                steering,
		Throttle:                throttle,
		Brake:                   0,
		Mode:                    message.ModeLaneKeeping,
		LateralOffsetNormalized: ptr(m.LateralOffsetNormalized),
		HeadingAngleDeg:         ptr(m.HeadingAngleDeg),
		FrameID:                 frameID,
		Timestamp:               ts,
	}
	return *ctl.Clamp()
}

func (c *pidController) SetGain(name string, value float64) error {
	switch name {
	case "kp":
		c.gains.Kp = value
	case "ki":
		c.gains.Ki = value
	case "kd":
		c.gains.Kd = value
	default:
		return fmt.Errorf("control: unknown gain %q", name)
	}
	return nil
}

func (c *pidController) SetThrottlePolicy(p ThrottlePolicy) { c.throttle = p }

func ptr(v float64) *float64 { return &v }
