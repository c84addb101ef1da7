package agentloop

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mechos/internal/bus"
	"mechos/internal/episodic"
	"mechos/internal/fusion"
	"mechos/internal/kernel"
	"mechos/internal/llmclient"
	"mechos/internal/loopguard"
	"mechos/internal/mechtypes"
	"mechos/internal/spatial"
)

// scriptedLLM returns one canned completion per call, in order, repeating
// the last entry once exhausted.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []llmclient.Message, temperature float64) (string, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i], nil
}

func driveJSON(linear, angular float64) string {
	return fmt.Sprintf(`{"action":"Drive","payload":{"linear_velocity":%f,"angular_velocity":%f}}`, linear, angular)
}

func newTestLoop(t *testing.T, llm LLMClient, maxLinear, maxAngular float64) (*Loop, *kernel.CapabilityManager, *episodic.Store) {
	t.Helper()

	b := bus.New(16)
	f := fusion.New(0.9)
	f.UpdateOdometry(fusion.OdometryData{PositionX: 1, PositionY: 2, HeadingRad: 0})

	tree := spatial.New(mechtypes.NewAABB(
		mechtypes.Point3{X: -100, Y: -100, Z: -10},
		mechtypes.Point3{X: 100, Y: 100, Z: 10},
	))

	store, err := episodic.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	caps := kernel.NewCapabilityManager()
	caps.Grant("agent", mechtypes.HardwareInvoke("drive_base"))
	override := &atomic.Bool{}
	verifier := kernel.NewStateVerifier(
		kernel.SpeedCapRule{MaxLinear: maxLinear, MaxAngular: maxAngular},
		kernel.NewManualOverrideInterlock(override),
	)
	gate := kernel.NewKernelGate(caps, verifier)

	loop := New(Config{
		Bus:                b,
		Fusion:             f,
		Octree:             tree,
		Episodic:           store,
		Gate:               gate,
		Guard:              loopguard.New(3),
		LLM:                llm,
		AgentID:            "agent",
		Namespace:          "mechos-runtime",
		OverrideSuspension: 50 * time.Millisecond,
		Temperature:        0.2,
		OverrideFlag:       override,
	})

	return loop, caps, store
}

func TestAuthorizedDriveWithinCapsIsPublished(t *testing.T) {
	llm := &scriptedLLM{responses: []string{driveJSON(0.5, 0.0)}}
	loop, _, _ := newTestLoop(t, llm, 1.0, 1.0)

	recv := loop.bus.SubscribeTo(mechtypes.TopicHardwareCommands)

	intent, err := loop.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	drive, ok := intent.(mechtypes.Drive)
	require.True(t, ok)
	assert.InDelta(t, 0.5, drive.LinearVelocity, 1e-9)

	ev, _, ok := recv.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "mechos-runtime::agent_loop", ev.Source)
}

func TestOverCapDriveIsRejectedAndNotPublished(t *testing.T) {
	llm := &scriptedLLM{responses: []string{driveJSON(5.0, 0.0)}}
	loop, _, _ := newTestLoop(t, llm, 1.0, 1.0)

	recv := loop.bus.SubscribeTo(mechtypes.TopicHardwareCommands)

	_, err := loop.Tick(context.Background(), 0.1)
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mechtypes.KindHardwareFault, merr.Kind)

	_, _, ok := recv.TryRecv()
	assert.False(t, ok)
}

func TestUnauthorizedAgentIsRejected(t *testing.T) {
	llm := &scriptedLLM{responses: []string{driveJSON(0.1, 0.0)}}
	loop, caps, _ := newTestLoop(t, llm, 1.0, 1.0)
	caps.Revoke("agent", mechtypes.HardwareInvoke("drive_base"))

	_, err := loop.Tick(context.Background(), 0.1)
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mechtypes.KindUnauthorized, merr.Kind)
}

func TestHITLRoundTrip(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"action":"AskHuman","payload":{"question":"Proceed past obstacle?"}}`,
	}}
	loop, caps, _ := newTestLoop(t, llm, 1.0, 1.0)
	caps.Grant("agent", mechtypes.HardwareInvoke("hitl"))

	intent, err := loop.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	_, ok := intent.(mechtypes.AskHuman)
	require.True(t, ok)
	assert.True(t, loop.IsWaitingForHuman())

	_, err = loop.Tick(context.Background(), 0.1)
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mechtypes.KindLlmInferenceFailed, merr.Kind)

	loop.SubmitHumanResponse("Yes")
	llm.responses = append(llm.responses, driveJSON(0.2, 0.0))
	intent, err = loop.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	_, ok = intent.(mechtypes.Drive)
	require.True(t, ok)
	assert.False(t, loop.IsWaitingForHuman())
}

func TestManualOverrideSuspendsTicksUntilWindowExpires(t *testing.T) {
	llm := &scriptedLLM{responses: []string{driveJSON(0.3, 0.0)}}
	loop, _, _ := newTestLoop(t, llm, 1.0, 1.0)

	loop.HandleManualOverride(0.9, 0.0)
	assert.True(t, loop.IsOverrideActive())

	_, err := loop.Tick(context.Background(), 0.1)
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Details, "manual override active")

	time.Sleep(60 * time.Millisecond)

	intent, err := loop.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	_, ok := intent.(mechtypes.Drive)
	require.True(t, ok)
	assert.False(t, loop.IsOverrideActive())
}

func TestLidarScanIngestOccupiesNearbyOctreeRegion(t *testing.T) {
	llm := &scriptedLLM{responses: []string{driveJSON(0.5, 0.0)}}
	loop, _, _ := newTestLoop(t, llm, 1.0, 1.0)

	ranges := make([]float32, 8)
	for i := range ranges {
		ranges[i] = 0.2
	}
	ev := mechtypes.NewEvent("mechos-hal::lidar", mechtypes.LidarScanPayload(ranges, 0, 0.01))
	loop.handleDrainedEvent(context.Background(), ev)

	probe := mechtypes.NewAABB(
		mechtypes.Point3{X: 1 - probeHalfExtent, Y: 2 - probeHalfExtent, Z: -probeHalfExtent},
		mechtypes.Point3{X: 1 + probeHalfExtent, Y: 2 + probeHalfExtent, Z: probeHalfExtent},
	)
	assert.True(t, loop.octree.QueryAABB(probe))
}

func TestPausedLoopRejectsTick(t *testing.T) {
	llm := &scriptedLLM{responses: []string{driveJSON(0.5, 0.0)}}
	loop, _, _ := newTestLoop(t, llm, 1.0, 1.0)
	loop.SetPaused(true)

	_, err := loop.Tick(context.Background(), 0.1)
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Details, "paused")
}

func TestRepetitiveOutputTripsLoopGuard(t *testing.T) {
	same := driveJSON(0.5, 0.0)
	llm := &scriptedLLM{responses: []string{same, same, same}}
	loop, _, _ := newTestLoop(t, llm, 1.0, 1.0)

	_, err := loop.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	_, err = loop.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	_, err = loop.Tick(context.Background(), 0.1)
	require.Error(t, err)
	var merr *mechtypes.MechError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mechtypes.KindLlmInferenceFailed, merr.Kind)
	assert.Contains(t, merr.Details, "repetitive")
}
