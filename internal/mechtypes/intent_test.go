package mechtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentRoundTrip(t *testing.T) {
	cases := []HardwareIntent{
		Drive{LinearVelocity: 0.5, AngularVelocity: 0.1},
		MoveEndEffector{X: 1, Y: 2, Z: 3},
		ActuateJoint{JointID: "shoulder", TargetAngleRad: 0.4},
		TriggerRelay{RelayID: "lamp", State: true},
		AskHuman{Question: "Proceed?"},
		EmergencyStop{},
		BroadcastFleet{Message: "retreat"},
		MessagePeer{TargetRobotID: "r2", Message: "hi"},
		PostTask{Title: "patrol", Description: "walk the perimeter"},
	}

	for _, want := range cases {
		raw, err := MarshalIntent(want)
		require.NoError(t, err)

		got, err := ParseIntent(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseIntentUnknownAction(t *testing.T) {
	_, err := ParseIntent([]byte(`{"action":"Fly","payload":{}}`))
	require.Error(t, err)

	var merr *MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindLlmInferenceFailed, merr.Kind)
}

func TestParseIntentMalformedJSON(t *testing.T) {
	_, err := ParseIntent([]byte(`not json`))
	require.Error(t, err)
}

func TestAABBNormalizes(t *testing.T) {
	box := NewAABB(Point3{X: 5, Y: -1, Z: 0}, Point3{X: -5, Y: 1, Z: 2})
	assert.Equal(t, Point3{X: -5, Y: -1, Z: 0}, box.Min)
	assert.Equal(t, Point3{X: 5, Y: 1, Z: 2}, box.Max)
	assert.True(t, box.Contains(Point3{X: 0, Y: 0, Z: 1}))
	assert.False(t, box.Contains(Point3{X: 10, Y: 0, Z: 0}))
}
