package kernel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mechos/internal/mechtypes"
)

func newTestGate(maxLinear, maxAngular float64) (*KernelGate, *CapabilityManager, *atomic.Bool) {
	caps := NewCapabilityManager()
	override := &atomic.Bool{}
	verifier := NewStateVerifier(
		SpeedCapRule{MaxLinear: maxLinear, MaxAngular: maxAngular},
		NewManualOverrideInterlock(override),
	)
	return NewKernelGate(caps, verifier), caps, override
}

func TestAuthorizedDriveWithinCaps(t *testing.T) {
	gate, caps, _ := newTestGate(1.0, 1.0)
	caps.Grant("agent", mechtypes.HardwareInvoke("drive_base"))

	err := gate.AuthorizeAndVerify("agent", mechtypes.Drive{LinearVelocity: 0.5, AngularVelocity: 0.0})
	require.NoError(t, err)
}

func TestOverCapDriveRejected(t *testing.T) {
	gate, caps, _ := newTestGate(1.0, 1.0)
	caps.Grant("agent", mechtypes.HardwareInvoke("drive_base"))

	err := gate.AuthorizeAndVerify("agent", mechtypes.Drive{LinearVelocity: 5.0, AngularVelocity: 0.0})
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mechtypes.KindHardwareFault, merr.Kind)
	assert.Equal(t, "drive_base", merr.Component)
	assert.Contains(t, merr.Details, "exceeds cap")
}

func TestUnauthorizedDriveRejected(t *testing.T) {
	gate, _, _ := newTestGate(1.0, 1.0)
	err := gate.AuthorizeAndVerify("agent", mechtypes.Drive{LinearVelocity: 0.1})
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mechtypes.KindUnauthorized, merr.Kind)
	assert.Equal(t, mechtypes.HardwareInvoke("drive_base"), *merr.Cap)
}

func TestSpeedCapBoundaryValuesAccepted(t *testing.T) {
	gate, caps, _ := newTestGate(1.0, 1.0)
	caps.Grant("agent", mechtypes.HardwareInvoke("drive_base"))

	require.NoError(t, gate.AuthorizeAndVerify("agent", mechtypes.Drive{LinearVelocity: 1.0, AngularVelocity: 1.0}))
	require.NoError(t, gate.AuthorizeAndVerify("agent", mechtypes.Drive{LinearVelocity: -1.0, AngularVelocity: -1.0}))
}

func TestJointLimitBoundaryValuesAccepted(t *testing.T) {
	caps := NewCapabilityManager()
	caps.Grant("agent", mechtypes.HardwareInvoke("shoulder"))
	verifier := NewStateVerifier(JointLimitRule{JointID: "shoulder", Min: -1.0, Max: 1.0})
	gate := NewKernelGate(caps, verifier)

	require.NoError(t, gate.AuthorizeAndVerify("agent", mechtypes.ActuateJoint{JointID: "shoulder", TargetAngleRad: 1.0}))
	err := gate.AuthorizeAndVerify("agent", mechtypes.ActuateJoint{JointID: "shoulder", TargetAngleRad: 1.01})
	require.Error(t, err)
}

func TestManualOverrideInterlockRejectsAIDriveWhileActive(t *testing.T) {
	gate, caps, override := newTestGate(10, 10)
	caps.Grant("agent", mechtypes.HardwareInvoke("drive_base"))
	override.Store(true)

	err := gate.AuthorizeAndVerify("agent", mechtypes.Drive{LinearVelocity: 0.1})
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Details, "manual override active")
}

func TestEmergencyStopBypassesAllRules(t *testing.T) {
	gate, _, override := newTestGate(0, 0)
	override.Store(true)
	err := gate.AuthorizeAndVerify("unauthorized-agent", mechtypes.EmergencyStop{})
	require.NoError(t, err)
}

func TestFirstFailingRuleShortCircuits(t *testing.T) {
	caps := NewCapabilityManager()
	caps.Grant("agent", mechtypes.HardwareInvoke("drive_base"))
	calledSecond := false
	verifier := NewStateVerifier(
		SpeedCapRule{MaxLinear: 0.1, MaxAngular: 0.1},
		ruleFunc{name: "second", fn: func(mechtypes.HardwareIntent) error {
			calledSecond = true
			return nil
		}},
	)
	gate := NewKernelGate(caps, verifier)

	err := gate.AuthorizeAndVerify("agent", mechtypes.Drive{LinearVelocity: 5.0})
	require.Error(t, err)
	assert.False(t, calledSecond)
}

type ruleFunc struct {
	name string
	fn   func(mechtypes.HardwareIntent) error
}

func (r ruleFunc) Name() string                               { return r.name }
func (r ruleFunc) Check(i mechtypes.HardwareIntent) error { return r.fn(i) }
