// Package paramstore holds the closed enumeration of runtime-tunable
// parameters (§6) and the bounds table used to validate control-plane
// parameter updates. Unknown names and out-of-range values are rejected
// without interrupting the caller's loop (Testable Property 6, §7 "Bad
// parameter values"), matching Design Notes §9's "closed enumeration...
// switch on the name. Invalid names fail at parse time."
package paramstore

import "fmt"

// Category is the parameter namespace carried on the wire envelope.
type Category string

const (
	CategoryDetection Category = "detection"
	CategoryDecision  Category = "decision"
)

type bounds struct {
	lo, hi float64
}

var detectionBounds = map[string]bounds{
	"canny_low":          {1, 255},
	"canny_high":         {1, 255},
	"hough_threshold":    {1, 200},
	"hough_min_line_len": {1, 200},
	"hough_max_line_gap": {1, 300},
	"smoothing_factor":   {0, 1},
}

var decisionBounds = map[string]bounds{
	"kp":              {0, 2},
	"ki":              {0, 0.5},
	"kd":              {0, 1},
	"throttle_base":   {0, 1},
	"throttle_min":    {0, 1},
	"steer_threshold": {0, 1},
	"steer_max":       {0, 1},
}

func boundsFor(category Category) (map[string]bounds, error) {
	switch category {
	case CategoryDetection:
		return detectionBounds, nil
	case CategoryDecision:
		return decisionBounds, nil
	default:
		return nil, fmt.Errorf("paramstore: unknown category %q", category)
	}
}

// Validate reports whether a (category, name, value) update is
// acceptable: name must belong to category's enumeration and value must
// fall within its bounds.
func Validate(category Category, name string, value float64) error {
	table, err := boundsFor(category)
	if err != nil {
		return err
	}
	b, ok := table[name]
	if !ok {
		return fmt.Errorf("paramstore: unknown parameter %q in category %q", name, category)
	}
	if value < b.lo || value > b.hi {
		return fmt.Errorf("paramstore: %s.%s = %v out of range [%v, %v]", category, name, value, b.lo, b.hi)
	}
	return nil
}

// Names returns the recognized parameter names for category, for callers
// building validation errors or help text.
func Names(category Category) []string {
	table, err := boundsFor(category)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}
