package paramstore

import (
	"fmt"
	"sync/atomic"
)

// DetectionParams is the detector's tunable parameter snapshot (§6).
type DetectionParams struct {
	CannyLow, CannyHigh                              float64
	HoughThreshold, HoughMinLineLen, HoughMaxLineGap float64
	SmoothingFactor                                  float64
}

// DecisionParams is the controller's tunable parameter snapshot (§6).
type DecisionParams struct {
	Kp, Ki, Kd                float64
	ThrottleBase, ThrottleMin float64
	SteerThreshold, SteerMax  float64
}

// Store holds the live parameter snapshots for both categories behind
// atomic pointers, so a reader in the middle of a frame never observes a
// partially-updated struct (§4.B "parameter update... take effect on the
// next frame" — an atomic.Pointer swap, not a mutex, since producer and
// consumer never need to rendezvous mid-update).
type Store struct {
	detection atomic.Pointer[DetectionParams]
	decision  atomic.Pointer[DecisionParams]
}

// NewStore constructs a Store pre-loaded with the given defaults.
func NewStore(detection DetectionParams, decision DecisionParams) *Store {
	s := &Store{}
	s.detection.Store(&detection)
	s.decision.Store(&decision)
	return s
}

// Detection returns the current detection parameter snapshot.
func (s *Store) Detection() DetectionParams { return *s.detection.Load() }

// Decision returns the current decision parameter snapshot.
func (s *Store) Decision() DecisionParams { return *s.decision.Load() }

// Apply validates then atomically applies a single-field update. Out-of-
// range values and unknown names are rejected with a descriptive error
// and never panic or abort the caller's loop (Testable Property 6).
func (s *Store) Apply(category Category, name string, value float64) error {
	if err := Validate(category, name, value); err != nil {
		return err
	}
	switch category {
	case CategoryDetection:
		p := s.Detection()
		if err := setDetectionField(&p, name, value); err != nil {
			return err
		}
		s.detection.Store(&p)
	case CategoryDecision:
		p := s.Decision()
		if err := setDecisionField(&p, name, value); err != nil {
			return err
		}
		s.decision.Store(&p)
	default:
		return fmt.Errorf("paramstore: unknown category %q", category)
	}
	return nil
}

func setDetectionField(p *DetectionParams, name string, value float64) error {
	switch name {
	case "canny_low":
		p.CannyLow = value
	case "canny_high":
		p.CannyHigh = value
	case "hough_threshold":
		p.HoughThreshold = value
	case "hough_min_line_len":
		p.HoughMinLineLen = value
	case "hough_max_line_gap":
		p.HoughMaxLineGap = value
	case "smoothing_factor":
		p.SmoothingFactor = value
	default:
		return fmt.Errorf("paramstore: unknown detection parameter %q", name)
	}
	return nil
}

func setDecisionField(p *DecisionParams, name string, value float64) error {
	switch name {
	case "kp":
		p.Kp = value
	case "ki":
		p.Ki = value
	case "kd":
		p.Kd = value
	case "throttle_base":
		p.ThrottleBase = value
	case "throttle_min":
		p.ThrottleMin = value
	case "steer_threshold":
		p.SteerThreshold = value
	case "steer_max":
		p.SteerMax = value
	default:
		return fmt.Errorf("paramstore: unknown decision parameter %q", name)
	}
	return nil
}
