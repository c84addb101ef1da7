// Package rosbridge parses the rosbridge-style JSON frames the cockpit
// WebSocket bridge receives from the operator dashboard and turns the
// recognized ones into bus events. This is the "out of scope" Cockpit/ROS2
// bridge's interface surface only: frame parsing and bus injection, no
// further behavior.
package rosbridge

import (
	"encoding/json"

	"mechos/internal/mechtypes"
)

// Frame is the rosbridge wire envelope.
type Frame struct {
	Op     string          `json:"op"`
	Topic  string          `json:"topic"`
	Msg    json.RawMessage `json:"msg"`
	Source string          `json:"source,omitempty"`
}

// ParseFrame decodes a single rosbridge JSON frame.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, mechtypes.NewParsing(err.Error())
	}
	return f, nil
}

type twistMsg struct {
	Linear  struct{ X float64 `json:"x"` } `json:"linear"`
	Angular struct{ Z float64 `json:"z"` } `json:"angular"`
}

type humanResponseMsg struct {
	Response string `json:"response"`
}

type modeToggleMsg struct {
	Paused bool `json:"paused"`
}

// ToEvent converts a recognized frame into a bus event sourced from
// namespace (e.g. "mechos-cockpit"). ok is false for frames this bridge
// does not recognize.
func (f Frame) ToEvent(namespace string) (mechtypes.Event, bool, error) {
	switch f.Topic {
	case "/cmd_vel":
		var t twistMsg
		if err := json.Unmarshal(f.Msg, &t); err != nil {
			return mechtypes.Event{}, false, mechtypes.NewParsing(err.Error())
		}
		thought, err := json.Marshal(t)
		if err != nil {
			return mechtypes.Event{}, false, mechtypes.NewSerialization(err.Error())
		}
		return mechtypes.NewEvent(namespace+"::dashboard_override", mechtypes.AgentThoughtPayload(string(thought))), true, nil

	case "/hitl/human_response":
		var h humanResponseMsg
		if err := json.Unmarshal(f.Msg, &h); err != nil {
			return mechtypes.Event{}, false, mechtypes.NewParsing(err.Error())
		}
		return mechtypes.NewEvent(namespace+"::rosbridge", mechtypes.HumanResponsePayload(h.Response)), true, nil

	case "/agent/mode":
		var m modeToggleMsg
		if err := json.Unmarshal(f.Msg, &m); err != nil {
			return mechtypes.Event{}, false, mechtypes.NewParsing(err.Error())
		}
		return mechtypes.NewEvent(namespace+"::rosbridge", mechtypes.AgentModeTogglePayload(m.Paused)), true, nil

	default:
		return mechtypes.Event{}, false, nil
	}
}

// TwistLinearAngular extracts (linear.x, angular.z) from an AgentThought
// payload produced by ToEvent for a "/cmd_vel" frame. Used by the agent
// loop's bus-drain step to arm the manual override interlock.
func TwistLinearAngular(thoughtJSON string) (linear, angular float64, err error) {
	var t twistMsg
	if uerr := json.Unmarshal([]byte(thoughtJSON), &t); uerr != nil {
		return 0, 0, mechtypes.NewParsing(uerr.Error())
	}
	return t.Linear.X, t.Angular.Z, nil
}
