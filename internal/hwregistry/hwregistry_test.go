package hwregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mechos/internal/mechtypes"
)

func TestDifferentialDriveDecomposition(t *testing.T) {
	reg := New()
	left := NewSimActuator()
	right := NewSimActuator()
	reg.RegisterActuator("left_wheel", left)
	reg.RegisterActuator("right_wheel", right)

	err := reg.Dispatch(mechtypes.Drive{LinearVelocity: 1.0, AngularVelocity: 0.4})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, left.LastTarget(), 1e-9)
	assert.InDelta(t, 1.2, right.LastTarget(), 1e-9)
}

func TestDriveMissingWheelFails(t *testing.T) {
	reg := New()
	reg.RegisterActuator("left_wheel", NewSimActuator())

	err := reg.Dispatch(mechtypes.Drive{LinearVelocity: 1.0})
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "right_wheel", merr.Component)
}

func TestReregistrationLastWriteWins(t *testing.T) {
	reg := New()
	first := NewSimActuator()
	second := NewSimActuator()
	reg.RegisterActuator("end_effector", first)
	reg.RegisterActuator("end_effector", second)

	require.NoError(t, reg.Dispatch(mechtypes.MoveEndEffector{X: 3, Y: 0, Z: 0}))
	assert.InDelta(t, 3.0, second.LastTarget(), 1e-9)
	assert.InDelta(t, 0.0, first.LastTarget(), 1e-9)
}

func TestAskHumanIsNoOp(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Dispatch(mechtypes.AskHuman{Question: "ok?"}))
}

func TestTriggerRelay(t *testing.T) {
	reg := New()
	relay := NewSimRelay()
	reg.RegisterRelay("lamp", relay)
	require.NoError(t, reg.Dispatch(mechtypes.TriggerRelay{RelayID: "lamp", State: true}))
	assert.True(t, relay.State())
}

func TestMissingRelayFails(t *testing.T) {
	reg := New()
	err := reg.Dispatch(mechtypes.TriggerRelay{RelayID: "missing"})
	require.Error(t, err)
}
