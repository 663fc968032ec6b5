package viewerstream

import (
	"context"
	"testing"
	"time"

	"github.com/lkas-pipeline/lkas/internal/message"
)

func startTestPublisher(t *testing.T, cfg Config) *Publisher {
	t.Helper()
	p := NewPublisher(cfg)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func TestPublisherStartStop(t *testing.T) {
	p := startTestPublisher(t, Config{ListenAddr: "127.0.0.1:0", MaxViewers: 5})
	if !p.Stats().Running {
		t.Fatal("expected Running=true after Start")
	}
}

func TestPublisherDeliversLatestUpdateToViewer(t *testing.T) {
	p := startTestPublisher(t, Config{ListenAddr: "127.0.0.1:0", MaxViewers: 5, DefaultInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, stop, err := p.StreamUpdates(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("StreamUpdates: %v", err)
	}
	defer stop()
	if p.Stats().Viewers != 1 {
		t.Fatalf("expected Viewers=1, got %d", p.Stats().Viewers)
	}

	p.Publish(Update{FrameID: 42, Detection: message.Detection{FrameID: 42}})

	select {
	case got := <-updates:
		if got.FrameID != 42 {
			t.Fatalf("got frame %d, want 42", got.FrameID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update delivery")
	}
}

// A viewer that has not consumed its slot yet sees only the newest
// update: intermediate publishes are skipped, never queued, matching the
// latest-wins semantics of the shared-memory channels.
func TestPublisherLatestWinsForSlowViewer(t *testing.T) {
	p := startTestPublisher(t, Config{ListenAddr: "127.0.0.1:0", MaxViewers: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A long interval keeps the delivery goroutine throttled while we
	// publish a burst into the slot.
	updates, stop, err := p.StreamUpdates(ctx, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("StreamUpdates: %v", err)
	}
	defer stop()

	// Prime the stream: consuming one update starts the viewer's
	// throttle window, so the following burst lands entirely inside it.
	p.Publish(Update{FrameID: 1})
	select {
	case got := <-updates:
		if got.FrameID != 1 {
			t.Fatalf("got priming frame %d, want 1", got.FrameID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for priming delivery")
	}

	for i := uint64(2); i <= 11; i++ {
		p.Publish(Update{FrameID: i})
	}

	select {
	case got := <-updates:
		if got.FrameID != 11 {
			t.Fatalf("got frame %d, want only the latest (11)", got.FrameID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for throttled delivery")
	}

	if p.Stats().Skipped == 0 {
		t.Fatal("expected skipped counter to record the overwritten updates")
	}
}

func TestPublisherRefusesViewersBeyondLimit(t *testing.T) {
	p := startTestPublisher(t, Config{ListenAddr: "127.0.0.1:0", MaxViewers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stop, err := p.StreamUpdates(ctx, 0)
	if err != nil {
		t.Fatalf("StreamUpdates: %v", err)
	}

	if _, _, err := p.StreamUpdates(ctx, 0); err == nil {
		t.Fatal("expected viewer limit to refuse a second stream")
	}

	// Releasing the slot admits a new viewer.
	stop()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := p.StreamUpdates(ctx, 0); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a freed viewer slot to admit a new stream")
}

func TestPublisherDropsUpdateWhenNotRunning(t *testing.T) {
	p := NewPublisher(Config{ListenAddr: "127.0.0.1:0"})
	// Publish before Start is a no-op, not a panic.
	p.Publish(Update{FrameID: 1})
	if p.Stats().Published != 0 {
		t.Fatalf("expected no updates counted before Start, got %d", p.Stats().Published)
	}
	if _, _, err := p.StreamUpdates(context.Background(), 0); err == nil {
		t.Fatal("expected StreamUpdates to fail before Start")
	}
}
