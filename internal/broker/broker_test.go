package broker

import (
	"testing"
	"time"

	"github.com/lkas-pipeline/lkas/internal/controlplane"
	"github.com/lkas-pipeline/lkas/internal/message"
	"github.com/lkas-pipeline/lkas/internal/paramstore"
)

func inprocConfig(name string) Config {
	return Config{
		ParamIngressEndpoint:  "inproc://" + name + "-param-in",
		ParamEgressEndpoint:   "inproc://" + name + "-param-out",
		ActionIngressEndpoint: "inproc://" + name + "-action-in",
		ActionEgressEndpoint:  "inproc://" + name + "-action-out",
		StatusIngressEndpoint: "inproc://" + name + "-status-in",
		ViewerEgressEndpoint:  "inproc://" + name + "-viewer-out",
		PollInterval:          10 * time.Millisecond,
	}
}

func TestBrokerForwardsValidParamUpdate(t *testing.T) {
	cfg := inprocConfig("broker-param")
	store := paramstore.NewStore(paramstore.DetectionParams{}, paramstore.DecisionParams{})

	b, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Stop()
	b.Start()

	// A second client connects to the broker's own bound sockets to
	// drive the ingress side and observe the egress side, the same
	// inproc-context pattern the broker itself uses internally.
	toBroker, err := controlplane.NewParamPublisher(b.ctx, cfg.ParamIngressEndpoint, false)
	if err != nil {
		t.Fatalf("NewParamPublisher: %v", err)
	}
	defer toBroker.Close()

	fromBroker, err := controlplane.NewParamSubscriber(b.ctx, cfg.ParamEgressEndpoint, false, controlplane.TopicDetection)
	if err != nil {
		t.Fatalf("NewParamSubscriber: %v", err)
	}
	defer fromBroker.Close()

	time.Sleep(50 * time.Millisecond)

	update := controlplane.ParamUpdate{Category: "detection", Parameter: "canny_low", Value: 90, Timestamp: 1}
	if err := toBroker.PublishJSON("detection", update); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}

	var got controlplane.ParamUpdate
	deadline := time.Now().Add(2 * time.Second)
	found := false
	for time.Now().Before(deadline) {
		if _, ok, err := fromBroker.TryRecvJSON(&got); err == nil && ok {
			found = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !found {
		t.Fatal("expected broker to forward the parameter update")
	}
	if got.Value != 90 {
		t.Fatalf("got value %v, want 90", got.Value)
	}
	if store.Detection().CannyLow != 90 {
		t.Fatalf("expected broker to apply the update to its store, got %v", store.Detection().CannyLow)
	}
}

func TestBrokerRejectsOutOfRangeParamUpdate(t *testing.T) {
	cfg := inprocConfig("broker-reject")
	store := paramstore.NewStore(paramstore.DetectionParams{CannyLow: 50}, paramstore.DecisionParams{})

	b, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Stop()
	b.Start()

	toBroker, err := controlplane.NewParamPublisher(b.ctx, cfg.ParamIngressEndpoint, false)
	if err != nil {
		t.Fatalf("NewParamPublisher: %v", err)
	}
	defer toBroker.Close()

	time.Sleep(50 * time.Millisecond)

	bad := controlplane.ParamUpdate{Category: "detection", Parameter: "canny_low", Value: 9999, Timestamp: 1}
	if err := toBroker.PublishJSON("detection", bad); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if store.Detection().CannyLow != 50 {
		t.Fatalf("expected out-of-range update to be rejected, got %v", store.Detection().CannyLow)
	}
	if b.Stats().Dropped == 0 {
		t.Fatal("expected Dropped counter to reflect the rejected update")
	}
}

func TestBrokerForwardsActionAndInvokesCallback(t *testing.T) {
	cfg := inprocConfig("broker-action")
	cfg.PollInterval = 10 * time.Millisecond

	callbackCh := make(chan controlplane.Action, 1)
	cfg.OnAction = func(a controlplane.Action) {
		select {
		case callbackCh <- a:
		default:
		}
	}

	store := paramstore.NewStore(paramstore.DetectionParams{}, paramstore.DecisionParams{})
	b, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Stop()
	b.Start()

	toBroker, err := controlplane.NewActionPublisher(b.ctx, cfg.ActionIngressEndpoint, false)
	if err != nil {
		t.Fatalf("NewActionPublisher: %v", err)
	}
	defer toBroker.Close()

	fromBroker, err := controlplane.NewActionSubscriber(b.ctx, cfg.ActionEgressEndpoint, false)
	if err != nil {
		t.Fatalf("NewActionSubscriber: %v", err)
	}
	defer fromBroker.Close()

	time.Sleep(50 * time.Millisecond)

	action := controlplane.Action{Action: controlplane.ActionPause, Timestamp: 1}
	if err := toBroker.PublishJSON("action", action); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}

	var got controlplane.Action
	deadline := time.Now().Add(2 * time.Second)
	found := false
	for time.Now().Before(deadline) {
		if _, ok, err := fromBroker.TryRecvJSON(&got); err == nil && ok {
			found = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !found {
		t.Fatal("expected broker to forward the action to the egress plane")
	}
	if got.Action != controlplane.ActionPause {
		t.Fatalf("got action %q, want pause", got.Action)
	}

	select {
	case cb := <-callbackCh:
		if cb.Action != controlplane.ActionPause {
			t.Fatalf("callback got action %q, want pause", cb.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the locally registered callback to be invoked")
	}
}

func TestBrokerBroadcastDetectionReachesViewerEgress(t *testing.T) {
	cfg := inprocConfig("broker-broadcast")
	store := paramstore.NewStore(paramstore.DetectionParams{}, paramstore.DecisionParams{})

	b, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Stop()
	b.Start()

	sub, err := controlplane.NewViewerSubscriber(b.ctx, cfg.ViewerEgressEndpoint, false)
	if err != nil {
		t.Fatalf("NewViewerSubscriber: %v", err)
	}
	defer sub.Close()

	time.Sleep(50 * time.Millisecond)

	b.BroadcastDetection(message.Detection{FrameID: 7})

	var got message.Detection
	deadline := time.Now().Add(2 * time.Second)
	found := false
	for time.Now().Before(deadline) {
		if topic, ok, err := sub.TryRecvJSON(&got); err == nil && ok && topic == "detection" {
			found = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !found {
		t.Fatal("expected a detection frame on the viewer egress plane")
	}
	if got.FrameID != 7 {
		t.Fatalf("got FrameID=%d, want 7", got.FrameID)
	}
}
