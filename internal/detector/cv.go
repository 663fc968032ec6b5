package detector

import "github.com/lkas-pipeline/lkas/internal/message"

// point is a single edge candidate location, in image pixel coordinates.
type point struct {
	x, y float64
}

// toGrayscale converts an 8-bit RGB image to a row-major luminance plane
// using the standard Rec. 601 weights.
func toGrayscale(img message.Image) []float64 {
	w, h := int(img.Width), int(img.Height)
	gray := make([]float64, w*h)
	for i := 0; i < w*h; i++ {
		r := float64(img.Pixels[i*3])
		g := float64(img.Pixels[i*3+1])
		b := float64(img.Pixels[i*3+2])
		gray[i] = 0.299*r + 0.587*g + 0.114*b
	}
	return gray
}

// horizontalGradient approximates a Sobel-style horizontal edge strength
// at (x, y): the magnitude of the central difference between the pixels
// immediately to the left and right. Interior pixels only; the ROI never
// reaches the image edge columns in practice.
func horizontalGradient(gray []float64, width, x, y int) float64 {
	if x <= 0 || x >= width-1 {
		return 0
	}
	left := gray[y*width+x-1]
	right := gray[y*width+x+1]
	d := right - left
	if d < 0 {
		d = -d
	}
	return d
}

// roiBounds returns the trapezoid's left/right x bounds at row y, linearly
// interpolating between the configured top and bottom half-widths.
func roiBounds(cfg Config, width, height int, y int) (xMin, xMax float64) {
	yTop := float64(height) * cfg.ROITopRatio
	yBottom := float64(height) * cfg.ROIBottomRatio
	if yBottom <= yTop {
		yBottom = yTop + 1
	}
	t := (float64(y) - yTop) / (yBottom - yTop)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	halfWidthRatio := cfg.ROITopWidthRatio + t*(cfg.ROIBottomWidthRatio-cfg.ROITopWidthRatio)
	center := float64(width) / 2
	halfWidth := halfWidthRatio * float64(width) / 2
	return center - halfWidth, center + halfWidth
}

// roiRowBounds returns the integer y range the ROI spans.
func roiRowBounds(cfg Config, height int) (yTop, yBottom int) {
	yTop = int(float64(height) * cfg.ROITopRatio)
	yBottom = int(float64(height)*cfg.ROIBottomRatio) - 1
	if yBottom >= height {
		yBottom = height - 1
	}
	if yTop < 0 {
		yTop = 0
	}
	return yTop, yBottom
}

// collectEdgePoints scans every ROI row for the strongest left-of-center
// and right-of-center gradient peak, bucketing them into left/right point
// sets. This stands in for the full Hough line extraction plus
// sign-of-slope bucketing the abstract pipeline describes: a point left
// of the image's vertical center line is treated as a left-lane
// candidate, and vice versa, which is the correct bucketing for any lane
// marking that has not crossed the center of frame.
func collectEdgePoints(gray []float64, width, height int, cfg Config, gradientThreshold float64) (left, right []point) {
	yTop, yBottom := roiRowBounds(cfg, height)
	centerX := float64(width) / 2

	for y := yTop; y <= yBottom; y++ {
		xMin, xMax := roiBounds(cfg, width, height, y)
		var bestLeftX, bestLeftGrad float64 = -1, 0
		var bestRightX, bestRightGrad float64 = -1, 0

		for x := int(xMin); x <= int(xMax) && x < width; x++ {
			if x < 0 {
				continue
			}
			grad := horizontalGradient(gray, width, x, y)
			if grad < gradientThreshold {
				continue
			}
			if float64(x) < centerX {
				if grad > bestLeftGrad {
					bestLeftGrad, bestLeftX = grad, float64(x)
				}
			} else {
				if grad > bestRightGrad {
					bestRightGrad, bestRightX = grad, float64(x)
				}
			}
		}

		if bestLeftX >= 0 {
			left = append(left, point{x: bestLeftX, y: float64(y)})
		}
		if bestRightX >= 0 {
			right = append(right, point{x: bestRightX, y: float64(y)})
		}
	}
	return left, right
}
