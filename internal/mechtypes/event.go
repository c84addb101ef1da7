package mechtypes

import (
	"time"

	"github.com/google/uuid"
)

// Topic is the closed set of event-bus channels.
type Topic string

const (
	TopicTelemetry       Topic = "Telemetry"
	TopicHardwareCommands Topic = "HardwareCommands"
	TopicSystemAlerts    Topic = "SystemAlerts"
	TopicSwarmComm       Topic = "SwarmComm"
	TopicCognitiveStream Topic = "CognitiveStream"
)

// TelemetryData is a point-in-time pose/battery snapshot.
type TelemetryData struct {
	PositionX      float64 `json:"position_x"`
	PositionY      float64 `json:"position_y"`
	HeadingRad     float64 `json:"heading_rad"`
	BatteryPercent uint8   `json:"battery_percent"`
}

// EventPayloadKind tags the closed EventPayload union.
type EventPayloadKind int

const (
	PayloadTelemetry EventPayloadKind = iota + 1
	PayloadHardwareFault
	PayloadAgentThought
	PayloadLidarScan
	PayloadHumanResponse
	PayloadAgentModeToggle
	PayloadPeerMessage
)

// EventPayload carries exactly one populated field, selected by Kind. This
// mirrors the Rust enum's exhaustive variant set as a flat struct rather
// than an interface, since payloads are consumed by field access in the bus
// drain loop rather than by dynamic dispatch.
type EventPayload struct {
	Kind EventPayloadKind

	Telemetry TelemetryData

	HardwareFaultComponent string
	HardwareFaultCode      string
	HardwareFaultMessage   string

	AgentThought string

	LidarRanges           []float32
	LidarAngleMinRad      float32
	LidarAngleIncrementRad float32

	HumanResponse string

	AgentModeTogglePaused bool

	PeerMessageFromRobotID string
	PeerMessageMessage     string
}

func TelemetryPayload(t TelemetryData) EventPayload {
	return EventPayload{Kind: PayloadTelemetry, Telemetry: t}
}

func HardwareFaultPayload(component, code, message string) EventPayload {
	return EventPayload{Kind: PayloadHardwareFault, HardwareFaultComponent: component, HardwareFaultCode: code, HardwareFaultMessage: message}
}

func AgentThoughtPayload(thought string) EventPayload {
	return EventPayload{Kind: PayloadAgentThought, AgentThought: thought}
}

func LidarScanPayload(ranges []float32, angleMin, angleIncrement float32) EventPayload {
	return EventPayload{Kind: PayloadLidarScan, LidarRanges: ranges, LidarAngleMinRad: angleMin, LidarAngleIncrementRad: angleIncrement}
}

func HumanResponsePayload(response string) EventPayload {
	return EventPayload{Kind: PayloadHumanResponse, HumanResponse: response}
}

func AgentModeTogglePayload(paused bool) EventPayload {
	return EventPayload{Kind: PayloadAgentModeToggle, AgentModeTogglePaused: paused}
}

func PeerMessagePayload(fromRobotID, message string) EventPayload {
	return EventPayload{Kind: PayloadPeerMessage, PeerMessageFromRobotID: fromRobotID, PeerMessageMessage: message}
}

// Event is the unit broadcast on the bus. Source uses the
// "crate::module" colon-prefixed naming convention carried over from the
// original runtime (e.g. "mechos-runtime::agent_loop").
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Source    string
	Payload   EventPayload
}

func NewEvent(source string, payload EventPayload) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   payload,
	}
}
