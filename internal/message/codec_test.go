package message

import "testing"

func TestEncodeDecodeDetectionRoundTrip(t *testing.T) {
	left := LaneSegment{X1: 100, Y1: 600, X2: 350, Y2: 300, Confidence: 0.9}
	d := Detection{
		Left:             &left,
		Right:            nil,
		ProcessingTimeMS: 12.5,
		FrameID:          42,
		Timestamp:        1234.5,
	}

	got, err := DecodeDetection(EncodeDetection(d))
	if err != nil {
		t.Fatalf("DecodeDetection: %v", err)
	}
	if got.Left == nil || *got.Left != left {
		t.Fatalf("left segment mismatch: got %+v want %+v", got.Left, left)
	}
	if got.Right != nil {
		t.Fatalf("expected nil right segment, got %+v", got.Right)
	}
	if got.FrameID != d.FrameID || got.Timestamp != d.Timestamp || got.ProcessingTimeMS != d.ProcessingTimeMS {
		t.Fatalf("scalar fields mismatch: got %+v want %+v", got, d)
	}
}

func TestDecodeDetectionTooShort(t *testing.T) {
	if _, err := DecodeDetection(make([]byte, 4)); err == nil {
		t.Fatal("expected error decoding truncated buffer")
	}
}

func TestEncodeControlClampsBeforeEncoding(t *testing.T) {
	c := Control{Steering: 5, Throttle: -1, Brake: 2, Mode: ModeLaneKeeping, FrameID: 7, Timestamp: 1.0}
	got, err := DecodeControl(EncodeControl(c))
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if got.Steering != 1 || got.Throttle != 0 || got.Brake != 1 {
		t.Fatalf("expected clamped values, got %+v", got)
	}
}

func TestControlUnknownFieldsRoundTripAsNil(t *testing.T) {
	c := Control{Steering: 0.2, Throttle: 0.5, Brake: 0, Mode: ModeAutopilot, FrameID: 1}
	got, err := DecodeControl(EncodeControl(c))
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if got.LateralOffsetNormalized != nil || got.HeadingAngleDeg != nil {
		t.Fatalf("expected nil optional fields, got %+v", got)
	}

	offset := -0.3
	heading := 12.0
	c.LateralOffsetNormalized = &offset
	c.HeadingAngleDeg = &heading
	got, err = DecodeControl(EncodeControl(c))
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if got.LateralOffsetNormalized == nil || *got.LateralOffsetNormalized != offset {
		t.Fatalf("lateral offset mismatch: got %+v want %v", got.LateralOffsetNormalized, offset)
	}
	if got.HeadingAngleDeg == nil || *got.HeadingAngleDeg != heading {
		t.Fatalf("heading mismatch: got %+v want %v", got.HeadingAngleDeg, heading)
	}
}

func TestNoLaneBrake(t *testing.T) {
	c := NoLaneBrake(9, 100.5)
	if c.Steering != 0 || c.Throttle != 0 || c.Brake != 0.3 {
		t.Fatalf("unexpected no-lane brake values: %+v", c)
	}
	if c.FrameID != 9 || c.Timestamp != 100.5 {
		t.Fatalf("frame id/timestamp not propagated: %+v", c)
	}
}

func TestWarmupFallbackClampsBaseThrottle(t *testing.T) {
	c := WarmupFallback(1.5)
	if c.Throttle != 1 || c.Steering != 0 || c.Brake != 0 {
		t.Fatalf("unexpected warmup fallback: %+v", c)
	}
}
