package detector

import (
	"gonum.org/v1/gonum/stat"

	"github.com/lkas-pipeline/lkas/internal/message"
)

// fitLane fits a degree-1 polynomial x = alpha + beta*y to pts (regressing
// x on y, rather than the more common y-on-x, since lane markings are
// closer to vertical than horizontal and a near-vertical line has an
// undefined slope in the usual orientation), then projects the fit to
// yTop and yBottom to produce the two endpoints §3's Data Model requires.
// Returns nil if there are too few points to fit.
func fitLane(pts []point, yTop, yBottom int, minPoints int) *message.LaneSegment {
	if len(pts) < minPoints || len(pts) < 2 {
		return nil
	}

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.y
		ys[i] = p.x
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)

	xAtTop := alpha + beta*float64(yTop)
	xAtBottom := alpha + beta*float64(yBottom)

	confidence := float32(len(pts)) / float32(yBottom-yTop+1)
	if confidence > 1 {
		confidence = 1
	}

	return &message.LaneSegment{
		X1:         int32(xAtBottom),
		Y1:         int32(yBottom),
		X2:         int32(xAtTop),
		Y2:         int32(yTop),
		Confidence: confidence,
	}
}
