package shmchan

import (
	"context"
	"fmt"
	"time"

	"github.com/lkas-pipeline/lkas/internal/message"
)

// imagePayloadSize depends on the configured frame shape, so unlike
// Detection/Control it cannot be a package constant; callers supply it
// via the frame's Width/Height at channel construction time (§4.A).
func imagePayloadSize(width, height int32) int {
	return int(width) * int(height) * 3
}

// ImageChannel is the typed single-slot shared-memory channel carrying
// raw camera frames from the simulator bridge to the detector (§4.A/B).
type ImageChannel struct {
	seg           *Segment
	reader        *Reader
	width, height int32
}

// CreateImageChannel creates the named region sized for width x height
// RGB frames and returns the creator's handle (able to Unlink).
func CreateImageChannel(name string, width, height int32) (*ImageChannel, CreatorHandle, error) {
	seg, err := create(name, imagePayloadSize(width, height))
	if err != nil {
		return nil, CreatorHandle{}, err
	}
	ch := &ImageChannel{seg: seg, reader: newReader(seg), width: width, height: height}
	return ch, CreatorHandle{Segment: seg}, nil
}

// AttachImageChannel attaches to an existing named image channel, retrying
// per DefaultRetryOpts to tolerate startup ordering races.
func AttachImageChannel(name string, width, height int32) (*ImageChannel, error) {
	seg, err := attachRetry(name, imagePayloadSize(width, height), DefaultRetryOpts)
	if err != nil {
		return nil, err
	}
	return &ImageChannel{seg: seg, reader: newReader(seg), width: width, height: height}, nil
}

// Write publishes img. img.Width/Height must match the channel's
// configured shape.
func (c *ImageChannel) Write(img message.Image) error {
	if img.Width != c.width || img.Height != c.height {
		return fmt.Errorf("shmchan: image shape %dx%d does not match channel shape %dx%d", img.Width, img.Height, c.width, c.height)
	}
	want := imagePayloadSize(c.width, c.height)
	if len(img.Pixels) != want {
		return fmt.Errorf("shmchan: image pixel buffer length %d, want %d", len(img.Pixels), want)
	}
	newWriter(c.seg).Write(img.Pixels, img.FrameID, img.Timestamp)
	return nil
}

// TryRead performs a non-blocking read of the latest frame.
func (c *ImageChannel) TryRead() (message.Image, ReadStatus) {
	buf := make([]byte, imagePayloadSize(c.width, c.height))
	status, frameID, ts := c.reader.TryRead(buf)
	if status != StatusOK {
		return message.Image{}, status
	}
	return message.Image{Width: c.width, Height: c.height, Pixels: buf, FrameID: frameID, Timestamp: ts}, status
}

// BlockingRead polls TryRead until a new frame arrives, ctx is done, or
// timeout elapses.
func (c *ImageChannel) BlockingRead(ctx context.Context, timeout time.Duration) (message.Image, ReadStatus) {
	buf := make([]byte, imagePayloadSize(c.width, c.height))
	status, frameID, ts := c.reader.BlockingRead(ctx, buf, timeout)
	if status != StatusOK {
		return message.Image{}, status
	}
	return message.Image{Width: c.width, Height: c.height, Pixels: buf, FrameID: frameID, Timestamp: ts}, status
}

// Close unmaps the channel's segment without unlinking its name.
func (c *ImageChannel) Close() error { return c.seg.Close() }

// DetectionChannel is the typed channel carrying lane detections from the
// detector to the decision/control stage (§4.A/C).
type DetectionChannel struct {
	seg    *Segment
	reader *Reader
}

// CreateDetectionChannel creates the named detection channel.
func CreateDetectionChannel(name string) (*DetectionChannel, CreatorHandle, error) {
	seg, err := create(name, message.DetectionPayloadSize)
	if err != nil {
		return nil, CreatorHandle{}, err
	}
	return &DetectionChannel{seg: seg, reader: newReader(seg)}, CreatorHandle{Segment: seg}, nil
}

// AttachDetectionChannel attaches to an existing named detection channel.
func AttachDetectionChannel(name string) (*DetectionChannel, error) {
	seg, err := attachRetry(name, message.DetectionPayloadSize, DefaultRetryOpts)
	if err != nil {
		return nil, err
	}
	return &DetectionChannel{seg: seg, reader: newReader(seg)}, nil
}

// Write publishes d.
func (c *DetectionChannel) Write(d message.Detection) {
	newWriter(c.seg).Write(message.EncodeDetection(d), d.FrameID, d.Timestamp)
}

// TryRead performs a non-blocking read of the latest detection.
func (c *DetectionChannel) TryRead() (message.Detection, ReadStatus) {
	buf := make([]byte, message.DetectionPayloadSize)
	status, _, _ := c.reader.TryRead(buf)
	if status != StatusOK {
		return message.Detection{}, status
	}
	d, err := message.DecodeDetection(buf)
	if err != nil {
		return message.Detection{}, StatusNoData
	}
	return d, status
}

// BlockingRead polls TryRead until a new detection arrives, ctx is done,
// or timeout elapses (§4.F's decision-loop read timeout).
func (c *DetectionChannel) BlockingRead(ctx context.Context, timeout time.Duration) (message.Detection, ReadStatus) {
	buf := make([]byte, message.DetectionPayloadSize)
	status, _, _ := c.reader.BlockingRead(ctx, buf, timeout)
	if status != StatusOK {
		return message.Detection{}, status
	}
	d, err := message.DecodeDetection(buf)
	if err != nil {
		return message.Detection{}, StatusNoData
	}
	return d, status
}

// Close unmaps the channel's segment without unlinking its name.
func (c *DetectionChannel) Close() error { return c.seg.Close() }

// ControlChannel is the typed channel carrying actuation commands from
// the decision/control stage to the vehicle adapter (§4.A/D).
type ControlChannel struct {
	seg    *Segment
	reader *Reader
}

// CreateControlChannel creates the named control channel.
func CreateControlChannel(name string) (*ControlChannel, CreatorHandle, error) {
	seg, err := create(name, message.ControlPayloadSize)
	if err != nil {
		return nil, CreatorHandle{}, err
	}
	return &ControlChannel{seg: seg, reader: newReader(seg)}, CreatorHandle{Segment: seg}, nil
}

// AttachControlChannel attaches to an existing named control channel.
func AttachControlChannel(name string) (*ControlChannel, error) {
	seg, err := attachRetry(name, message.ControlPayloadSize, DefaultRetryOpts)
	if err != nil {
		return nil, err
	}
	return &ControlChannel{seg: seg, reader: newReader(seg)}, nil
}

// Write publishes c, clamped per message.Control.Clamp's invariant.
func (ch *ControlChannel) Write(c message.Control) {
	newWriter(ch.seg).Write(message.EncodeControl(c), c.FrameID, c.Timestamp)
}

// TryRead performs a non-blocking read of the latest control command.
func (ch *ControlChannel) TryRead() (message.Control, ReadStatus) {
	buf := make([]byte, message.ControlPayloadSize)
	status, _, _ := ch.reader.TryRead(buf)
	if status != StatusOK {
		return message.Control{}, status
	}
	c, err := message.DecodeControl(buf)
	if err != nil {
		return message.Control{}, StatusNoData
	}
	return c, status
}

// BlockingRead polls TryRead until a new control command arrives, ctx is
// done, or timeout elapses (§4.E's vehicle-adapter read timeout).
func (ch *ControlChannel) BlockingRead(ctx context.Context, timeout time.Duration) (message.Control, ReadStatus) {
	buf := make([]byte, message.ControlPayloadSize)
	status, _, _ := ch.reader.BlockingRead(ctx, buf, timeout)
	if status != StatusOK {
		return message.Control{}, status
	}
	c, err := message.DecodeControl(buf)
	if err != nil {
		return message.Control{}, StatusNoData
	}
	return c, status
}

// Close unmaps the channel's segment without unlinking its name.
func (ch *ControlChannel) Close() error { return ch.seg.Close() }
