// Package detector implements the stateful lane detector from §4.B: a
// simplified but real grayscale -> gradient -> ROI -> linear-fit pipeline
// standing in for full Canny edge detection + Hough transform (explicitly
// out of scope per spec.md §1 Non-goals), followed by the 3-tier
// exponential smoothing schedule.
package detector

// Config holds the fixed (non-hot-reloadable) shape of the region of
// interest: a trapezoid spanning the lower portion of the frame, wider at
// the bottom than the top, mirroring the "apply a trapezoidal
// region-of-interest" step of the abstract geometry pipeline.
type Config struct {
	ROITopRatio         float64 // y_top = height * ROITopRatio
	ROIBottomRatio      float64 // y_bottom = height * ROIBottomRatio
	ROITopWidthRatio    float64 // ROI width at its top edge, as a fraction of image width
	ROIBottomWidthRatio float64 // ROI width at its bottom edge, as a fraction of image width
	MinFitPoints        int     // floor on hough_threshold before a lane is considered found
}

// DefaultConfig matches a typical forward-facing dashcam framing: ROI
// spans the bottom 55% of the frame, narrowing from 90% width at the
// bottom to 15% width at the top.
func DefaultConfig() Config {
	return Config{
		ROITopRatio:         0.45,
		ROIBottomRatio:      1.0,
		ROITopWidthRatio:    0.15,
		ROIBottomWidthRatio: 0.9,
		MinFitPoints:        2,
	}
}
