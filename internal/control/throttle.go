package control

// ThrottlePolicy implements the piecewise-linear throttle-vs-steering
// policy from §4.C (Testable Property 9): ThrottleBase at or below
// SteerThreshold, linearly decreasing to ThrottleMin by SteerMax, held at
// ThrottleMin beyond that.
type ThrottlePolicy struct {
	ThrottleBase   float64
	ThrottleMin    float64
	SteerThreshold float64
	SteerMax       float64
}

// Throttle returns the policy's throttle value for the given absolute
// steering magnitude.
func (p ThrottlePolicy) Throttle(steeringAbs float64) float64 {
	switch {
	case steeringAbs <= p.SteerThreshold:
		return p.ThrottleBase
	case steeringAbs >= p.SteerMax:
		return p.ThrottleMin
	case p.SteerMax <= p.SteerThreshold:
		return p.ThrottleMin
	default:
		t := (steeringAbs - p.SteerThreshold) / (p.SteerMax - p.SteerThreshold)
		return p.ThrottleBase - t*(p.ThrottleBase-p.ThrottleMin)
	}
}
