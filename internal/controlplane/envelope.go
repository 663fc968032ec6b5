// Package controlplane wraps zmq4 socket construction behind small
// per-role constructors and defines the wire envelopes from spec.md §6:
// two-frame `[topic_bytes, json_bytes]` messages carrying parameter
// updates, actions, and vehicle status. Grounded on the only ZMQ usage in
// the retrieval pack — the golaborate `cmd/lowfssrv` reference files,
// which open a REP socket the same way these constructors open PUB/SUB.
package controlplane

// ParamUpdate is the §6 parameter wire format.
type ParamUpdate struct {
	Category  string  `json:"category"`
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// Action is the §6 action wire format.
type Action struct {
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Timestamp float64                `json:"timestamp"`
}

// Recognized action names (§4.F step 6).
const (
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionRespawn = "respawn"
	ActionQuit    = "quit"
)

// VehicleStatus is the vehicle/camera process's periodic status
// broadcast (§4.F step 5), published once per drive-loop tick.
type VehicleStatus struct {
	FrameID    uint64  `json:"frame_id"`
	Timestamp  float64 `json:"timestamp"`
	Paused     bool    `json:"paused"`
	PositionX  float64 `json:"position_x"`
	PositionY  float64 `json:"position_y"`
	PositionZ  float64 `json:"position_z"`
	SpeedMS    float64 `json:"speed_ms"`
}

// Topics used on the parameter plane: the category name
// itself is the topic, so a SUB socket's topic filter equals the
// category it cares about (§4.D/E "topic filter equal to the category").
const (
	TopicDetection = "detection"
	TopicDecision  = "decision"
)
