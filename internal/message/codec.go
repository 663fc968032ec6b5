package message

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Payload sizes in bytes, fixed per §4.A. A lane record is
// (has: u8, x1,y1,x2,y2: i32, conf: f32) = 1 + 16 + 4 = 21 bytes,
// padded to 24 for alignment.
const (
	laneRecordSize       = 24
	DetectionPayloadSize = 2*laneRecordSize + 4 + 8 + 8 // two lanes + processing_time_ms + frame_id + timestamp
	ControlPayloadSize   = 8*5 + 1 + 8 + 8 + 4          // 5 float64 fields + mode byte + frame_id + timestamp + processing_time_ms
)

func putLane(buf []byte, seg *LaneSegment) {
	if seg == nil {
		buf[0] = 0
		return
	}
	buf[0] = 1
	binary.LittleEndian.PutUint32(buf[1:5], uint32(seg.X1))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(seg.Y1))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(seg.X2))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(seg.Y2))
	binary.LittleEndian.PutUint32(buf[17:21], math.Float32bits(seg.Confidence))
}

func getLane(buf []byte) *LaneSegment {
	if buf[0] == 0 {
		return nil
	}
	return &LaneSegment{
		X1:         int32(binary.LittleEndian.Uint32(buf[1:5])),
		Y1:         int32(binary.LittleEndian.Uint32(buf[5:9])),
		X2:         int32(binary.LittleEndian.Uint32(buf[9:13])),
		Y2:         int32(binary.LittleEndian.Uint32(buf[13:17])),
		Confidence: math.Float32frombits(binary.LittleEndian.Uint32(buf[17:21])),
	}
}

// EncodeDetection writes d into a DetectionPayloadSize-byte little-endian
// buffer matching §4.A's detection payload layout.
func EncodeDetection(d Detection) []byte {
	buf := make([]byte, DetectionPayloadSize)
	putLane(buf[0:laneRecordSize], d.Left)
	putLane(buf[laneRecordSize:2*laneRecordSize], d.Right)
	off := 2 * laneRecordSize
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(d.ProcessingTimeMS))
	binary.LittleEndian.PutUint64(buf[off+4:off+12], d.FrameID)
	binary.LittleEndian.PutUint64(buf[off+12:off+20], math.Float64bits(d.Timestamp))
	return buf
}

// DecodeDetection is the inverse of EncodeDetection.
func DecodeDetection(buf []byte) (Detection, error) {
	if len(buf) < DetectionPayloadSize {
		return Detection{}, fmt.Errorf("message: detection payload too short: got %d want %d", len(buf), DetectionPayloadSize)
	}
	d := Detection{
		Left:  getLane(buf[0:laneRecordSize]),
		Right: getLane(buf[laneRecordSize : 2*laneRecordSize]),
	}
	off := 2 * laneRecordSize
	d.ProcessingTimeMS = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
	d.FrameID = binary.LittleEndian.Uint64(buf[off+4 : off+12])
	d.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(buf[off+12 : off+20]))
	return d, nil
}

// EncodeControl writes c into a ControlPayloadSize-byte little-endian
// buffer. Values are clamped before encoding so a torn or malformed read
// downstream can never violate the Data Model §3 range invariant.
func EncodeControl(c Control) []byte {
	c.Clamp()
	buf := make([]byte, ControlPayloadSize)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(c.Steering))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(c.Throttle))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(c.Brake))

	lateral, heading := math.NaN(), math.NaN()
	if c.LateralOffsetNormalized != nil {
		lateral = *c.LateralOffsetNormalized
	}
	if c.HeadingAngleDeg != nil {
		heading = *c.HeadingAngleDeg
	}
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(lateral))
	binary.LittleEndian.PutUint64(buf[32:40], math.Float64bits(heading))

	buf[40] = byte(c.Mode)
	binary.LittleEndian.PutUint64(buf[41:49], c.FrameID)
	binary.LittleEndian.PutUint64(buf[49:57], math.Float64bits(c.Timestamp))
	binary.LittleEndian.PutUint32(buf[57:61], math.Float32bits(c.ProcessingTimeMS))
	return buf
}

// DecodeControl is the inverse of EncodeControl. A NaN lateral-offset or
// heading field decodes back to a nil pointer ("unknown").
func DecodeControl(buf []byte) (Control, error) {
	if len(buf) < ControlPayloadSize {
		return Control{}, fmt.Errorf("message: control payload too short: got %d want %d", len(buf), ControlPayloadSize)
	}
	c := Control{
		Steering: math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8])),
		Throttle: math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
		Brake:    math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
	}
	if lateral := math.Float64frombits(binary.LittleEndian.Uint64(buf[24:32])); !math.IsNaN(lateral) {
		c.LateralOffsetNormalized = &lateral
	}
	if heading := math.Float64frombits(binary.LittleEndian.Uint64(buf[32:40])); !math.IsNaN(heading) {
		c.HeadingAngleDeg = &heading
	}
	c.Mode = ControlMode(buf[40])
	c.FrameID = binary.LittleEndian.Uint64(buf[41:49])
	c.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(buf[49:57]))
	c.ProcessingTimeMS = math.Float32frombits(binary.LittleEndian.Uint32(buf[57:61]))
	return c, nil
}
