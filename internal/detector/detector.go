package detector

import (
	"sync/atomic"
	"time"

	"github.com/lkas-pipeline/lkas/internal/message"
	"github.com/lkas-pipeline/lkas/internal/paramstore"
)

// Detector is the stateful §4.B pipeline: previous-frame lane segments
// for temporal smoothing and a frame counter for the adaptive smoothing
// schedule. Tunable CV parameters live in a paramstore.Store so a
// control-plane update takes effect atomically on the next frame without
// the detector needing its own atomic-pointer bookkeeping.
type Detector struct {
	store *paramstore.Store
	cfg   Config

	frameCount uint64 // atomic
	prevLeft   atomic.Pointer[message.LaneSegment]
	prevRight  atomic.Pointer[message.LaneSegment]
}

// NewDetector constructs a Detector reading tunable parameters from store
// and using cfg for the fixed ROI shape.
func NewDetector(store *paramstore.Store, cfg Config) *Detector {
	return &Detector{store: store, cfg: cfg}
}

// Detect runs one frame through the pipeline: grayscale, gradient
// scoring, ROI-bounded left/right point collection, per-bucket linear
// fit, a sign-of-slope check on each fit, then adaptive exponential
// smoothing. It never returns an error —
// §4.B "detection never raises to the loop" — a lane failing every
// filter is simply reported absent.
func (d *Detector) Detect(img message.Image) message.Detection {
	start := time.Now()
	params := d.store.Detection()

	gray := toGrayscale(img)
	leftPts, rightPts := collectEdgePoints(gray, int(img.Width), int(img.Height), d.cfg, params.CannyLow)

	yTop, yBottom := roiRowBounds(d.cfg, int(img.Height))
	minPoints := d.cfg.MinFitPoints
	if int(params.HoughThreshold) > minPoints {
		minPoints = int(params.HoughThreshold)
	}

	rawLeft := fitLane(leftPts, yTop, yBottom, minPoints)
	rawRight := fitLane(rightPts, yTop, yBottom, minPoints)

	// Sign-of-slope check: a left lane's top endpoint lies no further left
	// than its bottom one, and a right lane's no further right. A fit
	// leaning the wrong way for its side is reported absent.
	if rawLeft != nil && rawLeft.X2 < rawLeft.X1 {
		rawLeft = nil
	}
	if rawRight != nil && rawRight.X2 > rawRight.X1 {
		rawRight = nil
	}

	frameCount := atomic.AddUint64(&d.frameCount, 1) - 1
	alpha := smoothingAlpha(frameCount, params.SmoothingFactor)

	left := smoothLane(d.prevLeft.Load(), rawLeft, alpha)
	right := smoothLane(d.prevRight.Load(), rawRight, alpha)
	d.prevLeft.Store(left)
	d.prevRight.Store(right)

	return message.Detection{
		Left:             left,
		Right:            right,
		ProcessingTimeMS: float32(time.Since(start).Seconds() * 1000),
		FrameID:          img.FrameID,
		Timestamp:        img.Timestamp,
	}
}
