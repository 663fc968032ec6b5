package detector

import "github.com/lkas-pipeline/lkas/internal/message"

// smoothingAlpha implements §4.B's 3-tier adaptive schedule: higher alpha
// (more trust in the fresh fit) while the detector is still converging,
// settling to the configured steady-state factor afterward.
func smoothingAlpha(frameCount uint64, steadyState float64) float64 {
	switch {
	case frameCount < 20:
		return 0.95
	case frameCount < 50:
		return 0.80
	default:
		return steadyState
	}
}

// smoothLane blends raw into prev with the given alpha. A nil raw means
// the lane was not found this frame and is reported as absent, resetting
// the smoothing memory rather than coasting on stale geometry. A nil prev
// with a non-nil raw starts the memory fresh at the raw value.
func smoothLane(prev, raw *message.LaneSegment, alpha float64) *message.LaneSegment {
	if raw == nil {
		return nil
	}
	if prev == nil {
		return raw
	}
	return &message.LaneSegment{
		X1:         lerp(prev.X1, raw.X1, alpha),
		Y1:         raw.Y1,
		X2:         lerp(prev.X2, raw.X2, alpha),
		Y2:         raw.Y2,
		Confidence: float32(alpha)*raw.Confidence + float32(1-alpha)*prev.Confidence,
	}
}

func lerp(prev, raw int32, alpha float64) int32 {
	return int32(alpha*float64(raw) + (1-alpha)*float64(prev))
}
