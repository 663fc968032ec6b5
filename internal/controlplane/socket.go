package controlplane

import (
	"encoding/json"
	"fmt"
	"syscall"

	zmq4 "github.com/pebbe/zmq4"
)

// Default ZMQ endpoints (§6).
const (
	DefaultParamIngressEndpoint  = "tcp://*:5559"
	DefaultParamEgressEndpoint   = "tcp://*:5560"
	DefaultActionIngressEndpoint = "tcp://*:5558"
	DefaultActionEgressEndpoint  = "tcp://*:5561"
	DefaultStatusIngressEndpoint = "tcp://*:5562"
	DefaultViewerEgressEndpoint  = "tcp://*:5557"
)

// Publisher wraps a PUB socket and publishes two-frame
// [topic_bytes, json_bytes] envelopes.
type Publisher struct {
	sock *zmq4.Socket
}

// sendHWM bounds each PUB socket's outbound queue so slow subscribers
// get old messages dropped instead of stalling the pipeline (§4.G
// "send-high-water-mark = 10").
const sendHWM = 10

func newPublisher(ctx *zmq4.Context, endpoint string, bind bool) (*Publisher, error) {
	sock, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("controlplane: new PUB socket: %w", err)
	}
	if err := sock.SetSndhwm(sendHWM); err != nil {
		sock.Close()
		return nil, fmt.Errorf("controlplane: set send hwm: %w", err)
	}
	if bind {
		err = sock.Bind(endpoint)
	} else {
		err = sock.Connect(endpoint)
	}
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("controlplane: PUB %s: %w", endpoint, err)
	}
	return &Publisher{sock: sock}, nil
}

// PublishJSON marshals v and sends it as a [topic, json] envelope.
func (p *Publisher) PublishJSON(topic string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("controlplane: marshal: %w", err)
	}
	if _, err := p.sock.SendMessage(topic, body); err != nil {
		return fmt.Errorf("controlplane: send: %w", err)
	}
	return nil
}

// PublishFrame sends the three-frame `[b"frame", json_metadata, bytes]`
// envelope §6 reserves for the image plane, bypassing PublishJSON's
// two-frame shape. payload carries raw image bytes in lieu of a JPEG
// encoder (Non-goals §13).
func (p *Publisher) PublishFrame(metadata interface{}, payload []byte) error {
	body, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("controlplane: marshal frame metadata: %w", err)
	}
	if _, err := p.sock.SendMessage("frame", body, payload); err != nil {
		return fmt.Errorf("controlplane: send frame: %w", err)
	}
	return nil
}

// Close closes the underlying socket.
func (p *Publisher) Close() error { return p.sock.Close() }

// Subscriber wraps a SUB socket, reading two-frame
// [topic_bytes, json_bytes] envelopes.
type Subscriber struct {
	sock *zmq4.Socket
}

func newSubscriber(ctx *zmq4.Context, endpoint string, bind bool, topics ...string) (*Subscriber, error) {
	sock, err := ctx.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("controlplane: new SUB socket: %w", err)
	}
	if bind {
		err = sock.Bind(endpoint)
	} else {
		err = sock.Connect(endpoint)
	}
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("controlplane: SUB %s: %w", endpoint, err)
	}
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, topic := range topics {
		if err := sock.SetSubscribe(topic); err != nil {
			sock.Close()
			return nil, fmt.Errorf("controlplane: subscribe %q: %w", topic, err)
		}
	}
	return &Subscriber{sock: sock}, nil
}

// TryRecvJSON performs a non-blocking read of the next envelope,
// unmarshaling its JSON frame into v. ok is false when nothing was
// pending — never an error — matching §7's "transient read misses:
// non-fatal; loop continues."
func (s *Subscriber) TryRecvJSON(v interface{}) (topic string, ok bool, err error) {
	parts, err := s.sock.RecvMessageBytes(zmq4.DONTWAIT)
	if err != nil {
		if errno, ok := err.(zmq4.Errno); ok && errno == zmq4.Errno(syscall.EAGAIN) {
			return "", false, nil // no message pending
		}
		return "", false, fmt.Errorf("controlplane: recv: %w", err)
	}
	if len(parts) < 2 {
		return "", false, fmt.Errorf("controlplane: short envelope: %d frames", len(parts))
	}
	topic = string(parts[0])
	if err := json.Unmarshal(parts[1], v); err != nil {
		return topic, false, fmt.Errorf("controlplane: unmarshal topic %q: %w", topic, err)
	}
	return topic, true, nil
}

// Close closes the underlying socket.
func (s *Subscriber) Close() error { return s.sock.Close() }

// NewParamPublisher constructs the parameter-plane PUB socket: the
// broker binds DefaultParamEgressEndpoint to republish validated
// updates downstream.
func NewParamPublisher(ctx *zmq4.Context, endpoint string, bind bool) (*Publisher, error) {
	return newPublisher(ctx, endpoint, bind)
}

// NewParamSubscriber constructs a parameter-plane SUB socket. The broker
// binds DefaultParamIngressEndpoint to receive raw updates from a tuning
// client; detection/decision servers connect to the broker's egress
// endpoint with a topic filter equal to their own category (§4.D/E).
func NewParamSubscriber(ctx *zmq4.Context, endpoint string, bind bool, topics ...string) (*Subscriber, error) {
	return newSubscriber(ctx, endpoint, bind, topics...)
}

// NewActionPublisher constructs the action-plane PUB socket (broker
// egress to the vehicle/camera process).
func NewActionPublisher(ctx *zmq4.Context, endpoint string, bind bool) (*Publisher, error) {
	return newPublisher(ctx, endpoint, bind)
}

// NewActionSubscriber constructs an action-plane SUB socket (broker
// ingress from an operator/control tool, or the vehicle process
// connecting downstream of the broker).
func NewActionSubscriber(ctx *zmq4.Context, endpoint string, bind bool, topics ...string) (*Subscriber, error) {
	return newSubscriber(ctx, endpoint, bind, topics...)
}

// NewStatusPublisher constructs the vehicle-status PUB socket: the
// vehicle/camera process connects and publishes VehicleStatus (§4.F
// step 5).
func NewStatusPublisher(ctx *zmq4.Context, endpoint string, bind bool) (*Publisher, error) {
	return newPublisher(ctx, endpoint, bind)
}

// NewStatusSubscriber constructs the vehicle-status SUB socket: the
// broker binds DefaultStatusIngressEndpoint to receive status updates.
func NewStatusSubscriber(ctx *zmq4.Context, endpoint string, bind bool, topics ...string) (*Subscriber, error) {
	return newSubscriber(ctx, endpoint, bind, topics...)
}

// NewViewerPublisher constructs the viewer-egress PUB socket: the broker
// binds DefaultViewerEgressEndpoint and republishes detection/status
// summaries for any viewer process that chooses to connect.
func NewViewerPublisher(ctx *zmq4.Context, endpoint string, bind bool) (*Publisher, error) {
	return newPublisher(ctx, endpoint, bind)
}

// NewViewerSubscriber constructs a viewer-egress SUB socket for a
// consuming viewer process connecting downstream of the broker.
func NewViewerSubscriber(ctx *zmq4.Context, endpoint string, bind bool, topics ...string) (*Subscriber, error) {
	return newSubscriber(ctx, endpoint, bind, topics...)
}
