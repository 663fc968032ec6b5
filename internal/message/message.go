// Package message defines the wire-level entities shared by every
// pipeline stage: lane segments, image frames, detections, and control
// commands. It is a leaf package — nothing here imports any other
// internal package — so channels, detector, and control can all depend
// on it without creating a cycle.
package message

import "math"

// ControlMode is the operating mode carried on every control message.
type ControlMode uint8

const (
	ModeManual ControlMode = iota
	ModeAutopilot
	ModeLaneKeeping
	ModeEmergencyStop
)

func (m ControlMode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAutopilot:
		return "autopilot"
	case ModeLaneKeeping:
		return "lane_keeping"
	case ModeEmergencyStop:
		return "emergency_stop"
	default:
		return "unknown"
	}
}

// LaneSegment is a detected lane boundary spanning the ROI's vertical
// band: Y1 is always the bottom row (y_bottom) and Y2 the top row
// (y_top), per Data Model §3.
type LaneSegment struct {
	X1, Y1, X2, Y2 int32
	Confidence     float32
}

// Slope returns dx/dy of the segment. Segments always span a non-zero
// vertical band so this never divides by zero.
func (s LaneSegment) Slope() float64 {
	return float64(s.X2-s.X1) / float64(s.Y2-s.Y1)
}

// Length returns the Euclidean pixel length of the segment.
func (s LaneSegment) Length() float64 {
	dx := float64(s.X2 - s.X1)
	dy := float64(s.Y2 - s.Y1)
	return math.Hypot(dx, dy)
}

// InterpolateX returns the segment's x coordinate at row y, linearly
// interpolated (extrapolated outside [Y2,Y1] is allowed; callers clamp
// the row they ask for).
func (s LaneSegment) InterpolateX(y float64) float64 {
	if s.Y1 == s.Y2 {
		return float64(s.X1)
	}
	t := (y - float64(s.Y1)) / float64(s.Y2-s.Y1)
	return float64(s.X1) + t*float64(s.X2-s.X1)
}

// Image is a raw RGB frame of fixed shape (Height, Width, 3).
type Image struct {
	Width, Height int32
	Pixels        []byte // len == Width*Height*3, row-major, 8-bit RGB
	FrameID       uint64
	Timestamp     float64 // monotonic seconds
}

// Detection holds up to two lane segments produced from one image.
type Detection struct {
	Left, Right      *LaneSegment
	ProcessingTimeMS float32
	FrameID          uint64
	Timestamp        float64
}

// HasBothLanes reports whether both lanes were found.
func (d Detection) HasBothLanes() bool {
	return d.Left != nil && d.Right != nil
}

// Control is the actuation command derived from a Detection.
type Control struct {
	Steering float64 // [-1, 1]
	Throttle float64 // [0, 1]
	Brake    float64 // [0, 1]
	Mode     ControlMode

	LateralOffsetNormalized *float64 // [-1, 1], nil if unknown
	HeadingAngleDeg         *float64 // nil if unknown

	FrameID          uint64
	Timestamp        float64
	ProcessingTimeMS float32
}

// Clamp enforces the Data Model §3 invariant that control values are
// always clamped to their ranges before publication. It mutates and
// returns the receiver for convenient chaining at the construction site.
func (c *Control) Clamp() *Control {
	c.Steering = clamp(c.Steering, -1, 1)
	c.Throttle = clamp(c.Throttle, 0, 1)
	c.Brake = clamp(c.Brake, 0, 1)
	if c.LateralOffsetNormalized != nil {
		v := clamp(*c.LateralOffsetNormalized, -1, 1)
		c.LateralOffsetNormalized = &v
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NoLaneBrake is the fallback control emitted whenever lane geometry is
// unavailable (§4.C, §7): hold steering neutral and brake lightly.
func NoLaneBrake(frameID uint64, ts float64) Control {
	return Control{
		Steering:  0,
		Throttle:  0,
		Brake:     0.3,
		Mode:      ModeLaneKeeping,
		FrameID:   frameID,
		Timestamp: ts,
	}
}

// WarmupFallback is the control applied during the initial warmup window
// or whenever no control has been received within the configured
// timeout (§4.F, §7): drive straight at the configured base throttle.
func WarmupFallback(baseThrottle float64) Control {
	return Control{
		Steering: 0,
		Throttle: clamp(baseThrottle, 0, 1),
		Brake:    0,
		Mode:     ModeLaneKeeping,
	}
}
