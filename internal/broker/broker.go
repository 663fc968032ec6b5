// Package broker implements the central ZMQ relay from §4.G/§6: a
// single process owning one ZMQ context and the six sockets for the
// parameter, action, status, and viewer planes, structurally modeled on
// internal/lidar/visualiser/publisher.go's Publisher (atomic
// running/stats flags, stopCh, sync.WaitGroup) with the broadcast loop
// replaced by a non-blocking poll-and-forward loop.
package broker

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	zmq4 "github.com/pebbe/zmq4"

	"github.com/lkas-pipeline/lkas/internal/controlplane"
	"github.com/lkas-pipeline/lkas/internal/message"
	"github.com/lkas-pipeline/lkas/internal/paramstore"
)

// Config holds the broker's ZMQ endpoints (§6 defaults, overridable for
// tests).
type Config struct {
	ParamIngressEndpoint  string
	ParamEgressEndpoint   string
	ActionIngressEndpoint string
	ActionEgressEndpoint  string
	StatusIngressEndpoint string
	ViewerEgressEndpoint  string

	// PollInterval bounds how often Poll drains the ingress sockets,
	// matching §5's "ZMQ recv with 100ms timeout" suspension point.
	PollInterval time.Duration

	// OnAction, when non-nil, is invoked for every recognized action the
	// broker forwards, in addition to the action-egress republish (§4.G
	// "also invokes any locally registered callback").
	OnAction func(controlplane.Action)
}

// DefaultConfig returns the §6 default endpoints.
func DefaultConfig() Config {
	return Config{
		ParamIngressEndpoint:  controlplane.DefaultParamIngressEndpoint,
		ParamEgressEndpoint:   controlplane.DefaultParamEgressEndpoint,
		ActionIngressEndpoint: controlplane.DefaultActionIngressEndpoint,
		ActionEgressEndpoint:  controlplane.DefaultActionEgressEndpoint,
		StatusIngressEndpoint: controlplane.DefaultStatusIngressEndpoint,
		ViewerEgressEndpoint:  controlplane.DefaultViewerEgressEndpoint,
		PollInterval:          100 * time.Millisecond,
	}
}

// Broker owns the ZMQ context and relays messages between the six planes
// (§5 "the broker owns its own ZMQ context; sockets are not shared
// across processes").
type Broker struct {
	cfg Config
	ctx *zmq4.Context

	paramIngress  *controlplane.Subscriber
	paramEgress   *controlplane.Publisher
	actionIngress *controlplane.Subscriber
	actionEgress  *controlplane.Publisher
	statusIngress *controlplane.Subscriber
	viewerEgress  *controlplane.Publisher

	store *paramstore.Store

	forwardedCount atomic.Uint64
	droppedCount   atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Broker bound to cfg's endpoints. store receives every
// validated parameter update so the broker's own view of current
// parameters stays current; detection/
// decision servers keep their own independent stores updated over their
// own subscriber connections.
func New(cfg Config, store *paramstore.Store) (*Broker, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("broker: new zmq context: %w", err)
	}

	b := &Broker{cfg: cfg, ctx: ctx, store: store, stopCh: make(chan struct{})}

	if b.paramIngress, err = controlplane.NewParamSubscriber(ctx, cfg.ParamIngressEndpoint, true); err != nil {
		return nil, b.closeAndWrap(err)
	}
	if b.paramEgress, err = controlplane.NewParamPublisher(ctx, cfg.ParamEgressEndpoint, true); err != nil {
		return nil, b.closeAndWrap(err)
	}
	if b.actionIngress, err = controlplane.NewActionSubscriber(ctx, cfg.ActionIngressEndpoint, true); err != nil {
		return nil, b.closeAndWrap(err)
	}
	if b.actionEgress, err = controlplane.NewActionPublisher(ctx, cfg.ActionEgressEndpoint, true); err != nil {
		return nil, b.closeAndWrap(err)
	}
	if b.statusIngress, err = controlplane.NewStatusSubscriber(ctx, cfg.StatusIngressEndpoint, true); err != nil {
		return nil, b.closeAndWrap(err)
	}
	if b.viewerEgress, err = controlplane.NewViewerPublisher(ctx, cfg.ViewerEgressEndpoint, true); err != nil {
		return nil, b.closeAndWrap(err)
	}

	return b, nil
}

func (b *Broker) closeAndWrap(err error) error {
	b.closeSockets()
	b.ctx.Term()
	return fmt.Errorf("broker: setup: %w", err)
}

func (b *Broker) closeSockets() {
	if b.paramIngress != nil {
		b.paramIngress.Close()
	}
	if b.paramEgress != nil {
		b.paramEgress.Close()
	}
	if b.actionIngress != nil {
		b.actionIngress.Close()
	}
	if b.actionEgress != nil {
		b.actionEgress.Close()
	}
	if b.statusIngress != nil {
		b.statusIngress.Close()
	}
	if b.viewerEgress != nil {
		b.viewerEgress.Close()
	}
}

// Start begins the background poll loop.
func (b *Broker) Start() {
	if b.running.Swap(true) {
		return
	}
	b.wg.Add(1)
	go b.run()
}

func (b *Broker) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Poll()
		}
	}
}

// Poll performs one non-blocking drain-and-forward pass over every
// ingress socket. It never blocks longer than a single DONTWAIT recv per
// socket (§4.G, §5).
func (b *Broker) Poll() {
	b.pollParams()
	b.pollActions()
	b.pollStatus()
}

func (b *Broker) pollParams() {
	for {
		var update controlplane.ParamUpdate
		_, ok, err := b.paramIngress.TryRecvJSON(&update)
		if err != nil {
			log.Printf("[Broker] param ingress decode error: %v", err)
			b.droppedCount.Add(1)
			return
		}
		if !ok {
			return
		}
		if err := b.store.Apply(paramstore.Category(update.Category), update.Parameter, update.Value); err != nil {
			log.Printf("[Broker] rejected param update %s.%s=%v: %v", update.Category, update.Parameter, update.Value, err)
			b.droppedCount.Add(1)
			continue
		}
		if err := b.paramEgress.PublishJSON(update.Category, update); err != nil {
			log.Printf("[Broker] param egress publish error: %v", err)
			b.droppedCount.Add(1)
			continue
		}
		b.forwardedCount.Add(1)
	}
}

func (b *Broker) pollActions() {
	for {
		var action controlplane.Action
		topic, ok, err := b.actionIngress.TryRecvJSON(&action)
		if err != nil {
			log.Printf("[Broker] action ingress decode error: %v", err)
			b.droppedCount.Add(1)
			return
		}
		if !ok {
			return
		}
		switch action.Action {
		case controlplane.ActionPause, controlplane.ActionResume, controlplane.ActionRespawn, controlplane.ActionQuit:
			if err := b.actionEgress.PublishJSON(topic, action); err != nil {
				log.Printf("[Broker] action egress publish error: %v", err)
				b.droppedCount.Add(1)
				continue
			}
			if b.cfg.OnAction != nil {
				b.cfg.OnAction(action)
			}
			b.forwardedCount.Add(1)
		default:
			log.Printf("[Broker] unknown action %q ignored", action.Action)
			b.droppedCount.Add(1)
		}
	}
}

func (b *Broker) pollStatus() {
	for {
		var status controlplane.VehicleStatus
		_, ok, err := b.statusIngress.TryRecvJSON(&status)
		if err != nil {
			log.Printf("[Broker] status ingress decode error: %v", err)
			b.droppedCount.Add(1)
			return
		}
		if !ok {
			return
		}
		if err := b.viewerEgress.PublishJSON("state", status); err != nil {
			log.Printf("[Broker] viewer egress publish error: %v", err)
			b.droppedCount.Add(1)
			continue
		}
		b.forwardedCount.Add(1)
	}
}

// frameMetadata is the JSON sidecar §6's three-frame frame envelope
// carries alongside the raw image bytes.
type frameMetadata struct {
	FrameID   uint64  `json:"frame_id"`
	Width     int32   `json:"width"`
	Height    int32   `json:"height"`
	Timestamp float64 `json:"timestamp"`
}

// BroadcastFrame republishes img on the viewer-egress plane under topic
// "frame". It is called directly by the launcher (§4.H step 3), which
// reads the latest image out of shared memory rather than going through
// the parameter/action ingress sockets.
func (b *Broker) BroadcastFrame(img message.Image) {
	meta := frameMetadata{FrameID: img.FrameID, Width: img.Width, Height: img.Height, Timestamp: img.Timestamp}
	if err := b.viewerEgress.PublishFrame(meta, img.Pixels); err != nil {
		log.Printf("[Broker] broadcast frame error: %v", err)
		b.droppedCount.Add(1)
		return
	}
	b.forwardedCount.Add(1)
}

// BroadcastDetection republishes det on the viewer-egress plane under
// topic "detection", the launcher-driven counterpart to BroadcastFrame.
func (b *Broker) BroadcastDetection(det message.Detection) {
	if err := b.viewerEgress.PublishJSON("detection", det); err != nil {
		log.Printf("[Broker] broadcast detection error: %v", err)
		b.droppedCount.Add(1)
		return
	}
	b.forwardedCount.Add(1)
}

// Stats reports forwarded/dropped message counters.
type Stats struct {
	Forwarded uint64
	Dropped   uint64
}

// Stats returns the current forwarding counters.
func (b *Broker) Stats() Stats {
	return Stats{Forwarded: b.forwardedCount.Load(), Dropped: b.droppedCount.Load()}
}

// Stop halts the poll loop and tears down every socket plus the context.
func (b *Broker) Stop() {
	if !b.running.Swap(false) {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
	b.closeSockets()
	b.ctx.Term()
}

