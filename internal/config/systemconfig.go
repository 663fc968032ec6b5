package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes the simulated camera's intrinsics and pose
// (§6 "Camera: width, height, fov, position, rotation").
type CameraConfig struct {
	Width    int        `yaml:"width"`
	Height   int        `yaml:"height"`
	FOV      float64    `yaml:"fov"`
	Position [3]float64 `yaml:"position"`
	Rotation [3]float64 `yaml:"rotation"`
}

// DetectorConfig holds the six recognized detection parameters plus the
// ROI trapezoid ratios (§6 "Detector (CV)").
type DetectorConfig struct {
	CannyLow        float64 `yaml:"canny_low"`
	CannyHigh       float64 `yaml:"canny_high"`
	HoughThreshold  float64 `yaml:"hough_threshold"`
	HoughMinLineLen float64 `yaml:"hough_min_line_len"`
	HoughMaxLineGap float64 `yaml:"hough_max_line_gap"`
	SmoothingFactor float64 `yaml:"smoothing_factor"`

	ROITopRatio        float64 `yaml:"roi_top_ratio"`
	ROIBottomRatio     float64 `yaml:"roi_bottom_ratio"`
	ROITopWidthRatio   float64 `yaml:"roi_top_width_ratio"`
	ROIBottomWidthRatio float64 `yaml:"roi_bottom_width_ratio"`
}

// ControllerConfig selects the steering law and its gains/throttle
// policy (§6 "Controller: method, gains, throttle policy").
type ControllerConfig struct {
	Method         string  `yaml:"method"` // "pd" or "pid"
	Kp             float64 `yaml:"kp"`
	Ki             float64 `yaml:"ki"`
	Kd             float64 `yaml:"kd"`
	ThrottleBase   float64 `yaml:"throttle_base"`
	ThrottleMin    float64 `yaml:"throttle_min"`
	SteerThreshold float64 `yaml:"steer_threshold"`
	SteerMax       float64 `yaml:"steer_max"`
}

// AnalyzerConfig holds lane-departure classification thresholds (§6
// "Analyzer: drift_threshold, departure_threshold, lane_width_meters").
type AnalyzerConfig struct {
	DriftThreshold     float64 `yaml:"drift_threshold"`
	DepartureThreshold float64 `yaml:"departure_threshold"`
	LaneWidthMeters    float64 `yaml:"lane_width_meters"`
}

// SystemOptions holds the remaining top-level run options (§6 "System:
// detection_method, synchronous_mode, fixed_delta_seconds, ...").
type SystemOptions struct {
	DetectionMethod   string  `yaml:"detection_method"`
	SynchronousMode   bool    `yaml:"synchronous_mode"`
	FixedDeltaSeconds float64 `yaml:"fixed_delta_seconds"`
	WarmupFrames      int     `yaml:"warmup_frames"`
	BaseThrottle      float64 `yaml:"base_throttle"`
	DetectorTimeoutMS int     `yaml:"detector_timeout_ms"`
}

// LaunchOptions holds launcher-only orchestration settings: subprocess
// readiness timeouts and whether to embed the broker (§4.H).
type LaunchOptions struct {
	DecisionInitTimeoutMS  int  `yaml:"decision_init_timeout_ms"`
	DetectionInitTimeoutMS int  `yaml:"detection_init_timeout_ms"`
	BroadcastEnabled       bool `yaml:"broadcast_enabled"`
}

// SystemConfig is the full top-level YAML system configuration (§6
// "Configuration options ... full set read at startup").
type SystemConfig struct {
	Camera     CameraConfig     `yaml:"camera"`
	Detector   DetectorConfig   `yaml:"detector"`
	Controller ControllerConfig `yaml:"controller"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	System     SystemOptions    `yaml:"system"`
	Launch     LaunchOptions    `yaml:"launch"`
}

// DefaultSystemConfig returns conservative defaults, each inside its
// recognized parameter's bound (§6).
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		Camera: CameraConfig{Width: 640, Height: 480, FOV: 90},
		Detector: DetectorConfig{
			CannyLow: 50, CannyHigh: 150,
			HoughThreshold: 20, HoughMinLineLen: 20, HoughMaxLineGap: 300,
			SmoothingFactor:     0.7,
			ROITopRatio:         0.45,
			ROIBottomRatio:      1.0,
			ROITopWidthRatio:    0.15,
			ROIBottomWidthRatio: 0.9,
		},
		Controller: ControllerConfig{
			Method: "pd", Kp: 1.0, Ki: 0, Kd: 0.1,
			ThrottleBase: 0.5, ThrottleMin: 0.2,
			SteerThreshold: 0.3, SteerMax: 1.0,
		},
		Analyzer: AnalyzerConfig{DriftThreshold: 0.1, DepartureThreshold: 0.4, LaneWidthMeters: 3.7},
		System: SystemOptions{
			DetectionMethod: "cv", SynchronousMode: false,
			FixedDeltaSeconds: 0.05, WarmupFrames: 30,
			BaseThrottle: 0.5, DetectorTimeoutMS: 200,
		},
		Launch: LaunchOptions{
			DecisionInitTimeoutMS: 5000, DetectionInitTimeoutMS: 5000,
			BroadcastEnabled: true,
		},
	}
}

// LoadSystemConfig reads and validates a YAML system config from path.
func LoadSystemConfig(path string) (*SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system config file: %w", err)
	}

	cfg := DefaultSystemConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse system config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid system config: %w", err)
	}

	return cfg, nil
}

// Validate checks bounds matching §6's recognized-parameter ranges.
func (c *SystemConfig) Validate() error {
	if c.Controller.Method != "pd" && c.Controller.Method != "pid" {
		return fmt.Errorf("controller.method must be 'pd' or 'pid', got %q", c.Controller.Method)
	}
	if c.Controller.Kp < 0 || c.Controller.Kp > 2 {
		return fmt.Errorf("controller.kp must be in [0,2], got %f", c.Controller.Kp)
	}
	if c.Controller.Ki < 0 || c.Controller.Ki > 0.5 {
		return fmt.Errorf("controller.ki must be in [0,0.5], got %f", c.Controller.Ki)
	}
	if c.Controller.Kd < 0 || c.Controller.Kd > 1 {
		return fmt.Errorf("controller.kd must be in [0,1], got %f", c.Controller.Kd)
	}
	if c.Detector.SmoothingFactor < 0 || c.Detector.SmoothingFactor > 1 {
		return fmt.Errorf("detector.smoothing_factor must be in [0,1], got %f", c.Detector.SmoothingFactor)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera width/height must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	return nil
}
