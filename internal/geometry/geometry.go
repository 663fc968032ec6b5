// Package geometry holds the pure lane-metrics math used by the decision
// stage's analyzer: no state, no I/O, just arithmetic on
// message.LaneSegment values.
package geometry

import (
	"math"

	"github.com/lkas-pipeline/lkas/internal/message"
)

// LaneCenterX averages the interpolated x of whichever lanes are present
// at row y. It returns ok=false when neither lane is present.
func LaneCenterX(left, right *message.LaneSegment, y float64) (x float64, ok bool) {
	switch {
	case left != nil && right != nil:
		return (left.InterpolateX(y) + right.InterpolateX(y)) / 2, true
	case left != nil:
		return left.InterpolateX(y), true
	case right != nil:
		return right.InterpolateX(y), true
	default:
		return 0, false
	}
}

// LaneWidthPixels is |right_x - left_x| at row y. Only meaningful with
// both lanes present.
func LaneWidthPixels(left, right *message.LaneSegment, y float64) (width float64, ok bool) {
	if left == nil || right == nil {
		return 0, false
	}
	return math.Abs(right.InterpolateX(y) - left.InterpolateX(y)), true
}

// HeadingAngleDeg is atan2(dx, dy) of whichever lane is present,
// preferring the left lane when both are available. dx and dy run from
// the segment's bottom endpoint to its top endpoint, with dy measured
// upward, so a vertical lane reads 0deg and a lane leaning left as it
// rises reads negative.
func HeadingAngleDeg(left, right *message.LaneSegment) (deg float64, ok bool) {
	seg := left
	if seg == nil {
		seg = right
	}
	if seg == nil {
		return 0, false
	}
	dx := float64(seg.X2 - seg.X1)
	dy := float64(seg.Y1 - seg.Y2)
	return math.Atan2(dx, dy) * 180 / math.Pi, true
}

// DepartureStatus classifies how far the vehicle has drifted from lane
// center, relative to lane width.
type DepartureStatus int

const (
	NoLanes DepartureStatus = iota
	Centered
	LeftDrift
	RightDrift
	LeftDeparture
	RightDeparture
)

func (s DepartureStatus) String() string {
	switch s {
	case NoLanes:
		return "no_lanes"
	case Centered:
		return "centered"
	case LeftDrift:
		return "left_drift"
	case RightDrift:
		return "right_drift"
	case LeftDeparture:
		return "left_departure"
	case RightDeparture:
		return "right_departure"
	default:
		return "unknown"
	}
}

// ClassifyDeparture buckets a signed lateral offset (vehicle_center_x -
// lane_center_x, positive means the vehicle sits right of center) against
// lane width using the two configured thresholds. hasOffset=false always
// yields NoLanes.
func ClassifyDeparture(offsetPixels, laneWidthPixels float64, hasOffset bool, driftThreshold, departureThreshold float64) DepartureStatus {
	if !hasOffset || laneWidthPixels == 0 {
		return NoLanes
	}
	ratio := math.Abs(offsetPixels) / laneWidthPixels
	switch {
	case ratio >= departureThreshold:
		if offsetPixels > 0 {
			return RightDeparture
		}
		return LeftDeparture
	case ratio >= driftThreshold:
		if offsetPixels > 0 {
			return RightDrift
		}
		return LeftDrift
	default:
		return Centered
	}
}
