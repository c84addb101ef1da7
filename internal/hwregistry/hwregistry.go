// Package hwregistry resolves a validated HardwareIntent to the concrete
// driver that executes it, including the differential-drive decomposition
// of Drive intents into per-wheel targets.
package hwregistry

import (
	"sync"

	"mechos/internal/mechtypes"
)

// Actuator is any single-axis driver addressable by a target value: a wheel,
// a joint, an end effector.
type Actuator interface {
	SetTarget(target float64) error
}

// Relay is a boolean-state driver (a lamp, a gripper solenoid, ...).
type Relay interface {
	SetState(state bool) error
}

// Camera is a frame-producing sensor driver.
type Camera interface {
	ReadFrame() ([]byte, error)
}

// Registry resolves validated intents to the concrete driver registered
// under a string id. Re-registration replaces the previous driver for that
// id (last-write-wins).
type Registry struct {
	mu        sync.RWMutex
	actuators map[string]Actuator
	relays    map[string]Relay
	cameras   map[string]Camera
}

func New() *Registry {
	return &Registry{
		actuators: make(map[string]Actuator),
		relays:    make(map[string]Relay),
		cameras:   make(map[string]Camera),
	}
}

func (r *Registry) RegisterActuator(id string, a Actuator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actuators[id] = a
}

func (r *Registry) RegisterRelay(id string, rel Relay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays[id] = rel
}

func (r *Registry) RegisterCamera(id string, c Camera) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cameras[id] = c
}

func (r *Registry) actuator(id string) (Actuator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actuators[id]
	return a, ok
}

func (r *Registry) relay(id string) (Relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relays[id]
	return rel, ok
}

// Dispatch resolves intent to its driver(s) and executes it. AskHuman is a
// no-op here (surfaced to the dashboard via the bus); fleet-ops intents
// (BroadcastFleet/MessagePeer/PostTask) are not hardware and are also
// no-ops at this layer.
func (r *Registry) Dispatch(intent mechtypes.HardwareIntent) error {
	switch v := intent.(type) {
	case mechtypes.Drive:
		return r.dispatchDrive(v)
	case mechtypes.MoveEndEffector:
		return r.dispatchSingle("end_effector", v.X)
	case mechtypes.ActuateJoint:
		return r.dispatchSingle(v.JointID, v.TargetAngleRad)
	case mechtypes.TriggerRelay:
		rel, ok := r.relay(v.RelayID)
		if !ok {
			return mechtypes.NewHardwareFault(v.RelayID, "relay not registered")
		}
		if err := rel.SetState(v.State); err != nil {
			return mechtypes.NewHardwareFault(v.RelayID, err.Error())
		}
		return nil
	case mechtypes.AskHuman:
		return nil
	case mechtypes.EmergencyStop:
		return nil
	default:
		return nil
	}
}

// dispatchDrive decomposes Drive{v, ω} into per-wheel targets using unit
// wheelbase: left = v - ω/2, right = v + ω/2.
func (r *Registry) dispatchDrive(d mechtypes.Drive) error {
	left, ok := r.actuator("left_wheel")
	if !ok {
		return mechtypes.NewHardwareFault("left_wheel", "actuator not registered")
	}
	right, ok := r.actuator("right_wheel")
	if !ok {
		return mechtypes.NewHardwareFault("right_wheel", "actuator not registered")
	}

	leftTarget := d.LinearVelocity - d.AngularVelocity/2
	rightTarget := d.LinearVelocity + d.AngularVelocity/2

	if err := left.SetTarget(leftTarget); err != nil {
		return mechtypes.NewHardwareFault("left_wheel", err.Error())
	}
	if err := right.SetTarget(rightTarget); err != nil {
		return mechtypes.NewHardwareFault("right_wheel", err.Error())
	}
	return nil
}

func (r *Registry) dispatchSingle(id string, target float64) error {
	a, ok := r.actuator(id)
	if !ok {
		return mechtypes.NewHardwareFault(id, "actuator not registered")
	}
	if err := a.SetTarget(target); err != nil {
		return mechtypes.NewHardwareFault(id, err.Error())
	}
	return nil
}
