package kernel

import (
	"fmt"
	"math"
	"sync/atomic"

	"mechos/internal/mechtypes"
)

// Rule is a named physical invariant check, grounded on the teacher's
// Registry/Tool pattern of ordered, pluggable named units. Rules are
// evaluated in registration order; the first failure short-circuits.
type Rule interface {
	Name() string
	Check(intent mechtypes.HardwareIntent) error
}

// StateVerifier runs an ordered list of Rules against a proposed intent.
type StateVerifier struct {
	rules []Rule
}

func NewStateVerifier(rules ...Rule) *StateVerifier {
	return &StateVerifier{rules: rules}
}

func (v *StateVerifier) Register(r Rule) {
	v.rules = append(v.rules, r)
}

// Verify runs every rule in order, returning the first failure. EmergencyStop
// unconditionally passes all rules.
func (v *StateVerifier) Verify(intent mechtypes.HardwareIntent) error {
	if _, ok := intent.(mechtypes.EmergencyStop); ok {
		return nil
	}
	for _, r := range v.rules {
		if err := r.Check(intent); err != nil {
			return err
		}
	}
	return nil
}

// SpeedCapRule rejects Drive intents that exceed configured linear/angular
// speed caps. Boundary values (exactly at the cap) are accepted.
type SpeedCapRule struct {
	MaxLinear  float64
	MaxAngular float64
}

func (r SpeedCapRule) Name() string { return "speed_cap" }

func (r SpeedCapRule) Check(intent mechtypes.HardwareIntent) error {
	d, ok := intent.(mechtypes.Drive)
	if !ok {
		return nil
	}
	if math.Abs(d.LinearVelocity) > r.MaxLinear {
		return mechtypes.NewHardwareFault("drive_base", fmt.Sprintf("linear velocity %.3f exceeds cap %.3f", d.LinearVelocity, r.MaxLinear))
	}
	if math.Abs(d.AngularVelocity) > r.MaxAngular {
		return mechtypes.NewHardwareFault("drive_base", fmt.Sprintf("angular velocity %.3f exceeds cap %.3f", d.AngularVelocity, r.MaxAngular))
	}
	return nil
}

// JointLimitRule rejects ActuateJoint intents whose target lies outside the
// configured inclusive [Min, Max] range for a matching joint id.
type JointLimitRule struct {
	JointID string
	Min     float64
	Max     float64
}

func (r JointLimitRule) Name() string { return "joint_limit:" + r.JointID }

func (r JointLimitRule) Check(intent mechtypes.HardwareIntent) error {
	a, ok := intent.(mechtypes.ActuateJoint)
	if !ok || a.JointID != r.JointID {
		return nil
	}
	if a.TargetAngleRad < r.Min || a.TargetAngleRad > r.Max {
		return mechtypes.NewHardwareFault(a.JointID, fmt.Sprintf("target %.3f outside limit [%.3f, %.3f]", a.TargetAngleRad, r.Min, r.Max))
	}
	return nil
}

// ManualOverrideInterlock rejects AI-sourced Drive intents while a shared
// atomic override flag is set. Manual-override drives are published with a
// distinct source tag and never reach this rule (they bypass the gate
// entirely), so this rule only ever sees AI-originated intents.
type ManualOverrideInterlock struct {
	active *atomic.Bool
}

func NewManualOverrideInterlock(active *atomic.Bool) ManualOverrideInterlock {
	return ManualOverrideInterlock{active: active}
}

func (r ManualOverrideInterlock) Name() string { return "manual_override_interlock" }

func (r ManualOverrideInterlock) Check(intent mechtypes.HardwareIntent) error {
	if _, ok := intent.(mechtypes.Drive); !ok {
		return nil
	}
	if r.active.Load() {
		return mechtypes.NewHardwareFault("drive_base", "manual override active")
	}
	return nil
}
