// Package control implements the lane analyzer and the steering/throttle
// controllers described in §4.C: turning up to two lane segments into
// lane metrics, then into a clamped actuation command.
package control

import (
	"math"

	"github.com/lkas-pipeline/lkas/internal/geometry"
	"github.com/lkas-pipeline/lkas/internal/message"
)

// AnalyzerConfig holds the tunable analyzer parameters from §6.
type AnalyzerConfig struct {
	DriftThreshold     float64
	DepartureThreshold float64
	LaneWidthMeters    float64
}

// Metrics reports every §4.C quantity as a (value, ok) pair: "unknown" is
// modeled as ok=false rather than a sentinel float, so a caller cannot
// silently treat an absent metric as zero.
type Metrics struct {
	LaneCenterX               float64
	LaneCenterXOK             bool
	VehicleCenterX            float64
	LateralOffsetPixels       float64
	LateralOffsetPixelsOK     bool
	LaneWidthPixels           float64
	LaneWidthPixelsOK         bool
	LateralOffsetMeters       float64
	LateralOffsetMetersOK     bool
	LateralOffsetNormalized   float64
	LateralOffsetNormalizedOK bool
	HeadingAngleDeg           float64
	HeadingAngleDegOK         bool
	DepartureStatus           geometry.DepartureStatus
	HasBothLanes              bool
}

// Analyzer computes Metrics from a detection's lane segments.
type Analyzer struct {
	cfg AnalyzerConfig
}

// NewAnalyzer constructs an Analyzer from the §6 configuration.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Metrics computes the full §4.C metric set at row y = imageHeight-1.
func (a *Analyzer) Metrics(left, right *message.LaneSegment, imageWidth, imageHeight int) Metrics {
	y := float64(imageHeight - 1)
	var m Metrics

	m.VehicleCenterX = float64(imageWidth) / 2
	m.HasBothLanes = left != nil && right != nil

	m.LaneCenterX, m.LaneCenterXOK = geometry.LaneCenterX(left, right, y)
	if m.LaneCenterXOK {
		m.LateralOffsetPixels = m.VehicleCenterX - m.LaneCenterX
		m.LateralOffsetPixelsOK = true
	}

	m.LaneWidthPixels, m.LaneWidthPixelsOK = geometry.LaneWidthPixels(left, right, y)
	if m.LaneWidthPixelsOK && m.LaneWidthPixels != 0 {
		if m.LateralOffsetPixelsOK {
			m.LateralOffsetMeters = m.LateralOffsetPixels * (a.cfg.LaneWidthMeters / m.LaneWidthPixels)
			m.LateralOffsetMetersOK = true

			norm := m.LateralOffsetPixels / m.LaneWidthPixels
			m.LateralOffsetNormalized = clamp(norm, -1, 1)
			m.LateralOffsetNormalizedOK = true
		}
	}

	m.HeadingAngleDeg, m.HeadingAngleDegOK = geometry.HeadingAngleDeg(left, right)

	m.DepartureStatus = geometry.ClassifyDeparture(
		m.LateralOffsetPixels, m.LaneWidthPixels,
		m.LateralOffsetPixelsOK && m.LaneWidthPixelsOK,
		a.cfg.DriftThreshold, a.cfg.DepartureThreshold,
	)

	return m
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
