package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefaultSystemConfigValidates(t *testing.T) {
	require.NoError(t, DefaultSystemConfig().Validate())
}

func TestLoadSystemConfigAppliesPartialOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.yaml")
	yaml := `
controller:
  method: pid
  kp: 1.5
  ki: 0.1
  kd: 0.2
system:
  warmup_frames: 60
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadSystemConfig(path)
	require.NoError(t, err)

	want := ControllerConfig{
		Method: "pid", Kp: 1.5, Ki: 0.1, Kd: 0.2,
		ThrottleBase: 0.5, ThrottleMin: 0.2,
		SteerThreshold: 0.3, SteerMax: 1.0,
	}
	if diff := cmp.Diff(want, cfg.Controller); diff != "" {
		t.Errorf("Controller mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 60, cfg.System.WarmupFrames)

	// Untouched sections keep the defaults.
	if diff := cmp.Diff(DefaultSystemConfig().Camera, cfg.Camera); diff != "" {
		t.Errorf("Camera defaults did not survive a partial override (-want +got):\n%s", diff)
	}
}

func TestLoadSystemConfigRejectsOutOfRangeGain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.yaml")
	require.NoError(t, os.WriteFile(path, []byte("controller:\n  kp: 9\n"), 0o644))

	_, err := LoadSystemConfig(path)
	require.Error(t, err)
}

func TestLoadSystemConfigRejectsUnknownMethod(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.yaml")
	require.NoError(t, os.WriteFile(path, []byte("controller:\n  method: bogus\n"), 0o644))

	_, err := LoadSystemConfig(path)
	require.Error(t, err)
}

func TestLoadSystemConfigMissingFile(t *testing.T) {
	_, err := LoadSystemConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
