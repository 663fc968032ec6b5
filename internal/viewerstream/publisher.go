// Package viewerstream is the optional gRPC-based secondary fan-out for
// viewers that want typed RPC streaming instead of raw ZMQ frames.
//
// Delivery deliberately mirrors the shared-memory channels rather than a
// queue-per-client broadcast: every viewer owns a single latest-wins
// slot, so a slow viewer skips frames instead of accumulating a backlog,
// and publishing can never block or back-pressure the pipeline loop that
// calls it. Each viewer also carries its own delivery interval; the
// default matches the 2 Hz floor the vehicle-status broadcast already
// guarantees, so a dashboard subscribing at the default rate sees the
// same cadence over RPC as over the ZMQ status plane.
//
// The streaming service itself is left unregistered, pending a compiled
// .proto.
package viewerstream

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/lkas-pipeline/lkas/internal/message"
)

// Config holds the viewer gRPC server's configuration.
type Config struct {
	ListenAddr string
	// MaxViewers bounds concurrent streams; further StreamUpdates calls
	// are refused until a slot frees up. 0 means unbounded.
	MaxViewers int
	// DefaultInterval is the per-viewer delivery interval applied when a
	// stream does not request its own. 500ms matches the vehicle-status
	// plane's 2 Hz floor.
	DefaultInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{ListenAddr: "localhost:50061", MaxViewers: 5, DefaultInterval: 500 * time.Millisecond}
}

// Update is one snapshot offered to every connected viewer: the latest
// detection and control pair plus the frame id they share.
type Update struct {
	FrameID   uint64
	Detection message.Detection
	Control   message.Control
}

// viewer is one connected stream. Its mailbox is the slot/wake pair, not
// a queue: Publish overwrites whatever the viewer has not consumed yet,
// the same latest-wins handoff the seqlock channels use.
type viewer struct {
	id       string
	slot     atomic.Pointer[Update]
	wake     chan struct{} // cap 1, collapses repeated publishes
	interval time.Duration
}

// Publisher manages the gRPC server and the per-viewer delivery loops.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	viewersMu sync.Mutex
	viewers   map[string]*viewer

	publishedCount atomic.Uint64
	skippedCount   atomic.Uint64
	viewerCount    atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = DefaultConfig().DefaultInterval
	}
	return &Publisher{
		config:  cfg,
		viewers: make(map[string]*viewer),
		stopCh:  make(chan struct{}),
	}
}

// Start begins listening for viewer connections.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("viewerstream: publisher already running")
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("viewerstream: listen: %w", err)
	}
	p.listener = lis
	p.server = grpc.NewServer()
	// TODO: register the viewer streaming service once a .proto is compiled

	p.running.Store(true)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[ViewerStream] listening on %s (max viewers %d, default interval %s)",
			p.config.ListenAddr, p.config.MaxViewers, p.config.DefaultInterval)
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[ViewerStream] serve: %v", err)
		}
	}()

	return nil
}

// Stop closes every active stream and shuts the server down.
func (p *Publisher) Stop() {
	if !p.running.Swap(false) {
		return
	}
	close(p.stopCh)

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	p.wg.Wait()
	log.Printf("[ViewerStream] stopped")
}

// Publish offers update to every connected viewer. It never blocks: each
// viewer's slot is overwritten in place, and a viewer that had not yet
// consumed the previous update simply skips it (counted in Stats).
func (p *Publisher) Publish(update Update) {
	if !p.running.Load() {
		return
	}
	p.viewersMu.Lock()
	for _, v := range p.viewers {
		if prev := v.slot.Swap(&update); prev != nil {
			p.skippedCount.Add(1)
		}
		select {
		case v.wake <- struct{}{}:
		default:
		}
	}
	p.viewersMu.Unlock()
	p.publishedCount.Add(1)
}

// StreamUpdates registers a new viewer and returns its delivery channel
// plus a cancel func. interval throttles delivery for this viewer; <= 0
// uses the configured default. Registration fails when the publisher is
// not running or the viewer limit is reached.
//
// The channel carries the latest unconsumed update at most once per
// interval; intermediate updates are dropped, never queued. It is closed
// on cancel, ctx done, or publisher stop.
// TODO: wire into the generated gRPC handler once a .proto is compiled.
func (p *Publisher) StreamUpdates(ctx context.Context, interval time.Duration) (<-chan Update, func(), error) {
	if !p.running.Load() {
		return nil, nil, fmt.Errorf("viewerstream: publisher not running")
	}
	if interval <= 0 {
		interval = p.config.DefaultInterval
	}

	v := &viewer{id: uuid.NewString(), wake: make(chan struct{}, 1), interval: interval}

	p.viewersMu.Lock()
	if p.config.MaxViewers > 0 && len(p.viewers) >= p.config.MaxViewers {
		p.viewersMu.Unlock()
		return nil, nil, fmt.Errorf("viewerstream: viewer limit %d reached", p.config.MaxViewers)
	}
	p.viewers[v.id] = v
	p.viewersMu.Unlock()
	p.viewerCount.Add(1)
	log.Printf("[ViewerStream] viewer %s connected (interval %s, total %d)", v.id, v.interval, p.viewerCount.Load())

	out := make(chan Update)
	var once sync.Once
	cancel := func() { once.Do(func() { p.dropViewer(v.id) }) }

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer close(out)
		var lastSent time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-v.wake:
			}

			// Throttle to the viewer's interval. The slot keeps absorbing
			// newer updates while we wait, so the eventual send is still
			// the latest value, not the one that woke us.
			if wait := v.interval - time.Since(lastSent); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-p.stopCh:
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			u := v.slot.Swap(nil)
			if u == nil {
				continue
			}
			select {
			case out <- *u:
				lastSent = time.Now()
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			}
		}
	}()

	return out, cancel, nil
}

func (p *Publisher) dropViewer(id string) {
	p.viewersMu.Lock()
	if _, ok := p.viewers[id]; !ok {
		p.viewersMu.Unlock()
		return
	}
	delete(p.viewers, id)
	p.viewersMu.Unlock()
	p.viewerCount.Add(-1)
	log.Printf("[ViewerStream] viewer %s disconnected (remaining %d)", id, p.viewerCount.Load())
}

// Stats reports publisher counters. Skipped counts updates a lagging
// viewer's slot absorbed before the viewer consumed them.
type Stats struct {
	Published uint64
	Skipped   uint64
	Viewers   int32
	Running   bool
}

// Stats returns the current publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.publishedCount.Load(),
		Skipped:   p.skippedCount.Load(),
		Viewers:   p.viewerCount.Load(),
		Running:   p.running.Load(),
	}
}
