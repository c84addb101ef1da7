package kernel

import "mechos/internal/mechtypes"

// KernelGate is the single authorization + physical-verification choke
// point separating the agent from the hardware abstraction layer.
type KernelGate struct {
	capabilities *CapabilityManager
	verifier     *StateVerifier
}

func NewKernelGate(capabilities *CapabilityManager, verifier *StateVerifier) *KernelGate {
	return &KernelGate{capabilities: capabilities, verifier: verifier}
}

// capabilityFor maps an intent variant to the capability it requires.
// EmergencyStop requires none: it is always permitted and bypasses both
// checks.
func capabilityFor(intent mechtypes.HardwareIntent) (mechtypes.Capability, bool) {
	switch v := intent.(type) {
	case mechtypes.Drive:
		return mechtypes.HardwareInvoke("drive_base"), true
	case mechtypes.MoveEndEffector:
		return mechtypes.HardwareInvoke("end_effector"), true
	case mechtypes.ActuateJoint:
		return mechtypes.HardwareInvoke(v.JointID), true
	case mechtypes.TriggerRelay:
		return mechtypes.HardwareInvoke(v.RelayID), true
	case mechtypes.AskHuman:
		return mechtypes.HardwareInvoke("hitl"), true
	case mechtypes.EmergencyStop:
		return mechtypes.Capability{}, false
	default:
		return mechtypes.Capability{}, false
	}
}

// AuthorizeAndVerify runs the capability check, then the physical-invariant
// rule engine, in that order, failing fast on the first failure.
// EmergencyStop bypasses both checks.
func (g *KernelGate) AuthorizeAndVerify(agentID string, intent mechtypes.HardwareIntent) error {
	if _, ok := intent.(mechtypes.EmergencyStop); ok {
		return nil
	}

	if cap, required := capabilityFor(intent); required {
		if err := g.capabilities.Check(agentID, cap); err != nil {
			return err
		}
	}

	return g.verifier.Verify(intent)
}
