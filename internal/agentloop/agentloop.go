// Package agentloop implements the OODA orchestrator: one Tick call drives
// a complete Observe -> Orient -> Decide -> Act -> Gatekeep -> Bookkeep
// cycle, returning the approved HardwareIntent or a *mechtypes.MechError.
package agentloop

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mechos/internal/bus"
	"mechos/internal/episodic"
	"mechos/internal/fusion"
	"mechos/internal/kernel"
	"mechos/internal/llmclient"
	"mechos/internal/logging"
	"mechos/internal/loopguard"
	"mechos/internal/mechtypes"
	"mechos/internal/rosbridge"
	"mechos/internal/spatial"
)

const probeHalfExtent = 0.5
const recentMemoryCount = 3
const obstacleBeliefLabel = "obstacle_ahead"
const obstacleObservationConfidence = 0.6
const obstacleBeliefDecay = 0.9

// LLMClient is the Decide step's dependency on a chat-completion backend.
// *llmclient.Client satisfies it; tests supply a fake.
type LLMClient interface {
	Complete(ctx context.Context, messages []llmclient.Message, temperature float64) (string, error)
}

// Config wires every collaborator the loop needs. Namespace is the
// colon-prefixed component name prefix used for published event sources
// (e.g. "mechos-runtime" produces "mechos-runtime::agent_loop").
type Config struct {
	Bus                *bus.Bus
	Fusion             *fusion.SensorFusion
	Octree             *spatial.Octree
	Episodic           *episodic.Store
	Semantic           *episodic.SemanticTracker
	Gate               *kernel.KernelGate
	Guard              *loopguard.LoopGuard
	LLM                LLMClient
	AgentID            string
	Namespace          string
	OverrideSuspension time.Duration
	Temperature        float64

	// OverrideFlag is shared with the kernel's ManualOverrideInterlock rule
	// so both sides observe the same instance. If nil, the loop allocates
	// its own (the interlock rule then cannot see it, which is only
	// correct for tests that do not exercise override rejection).
	OverrideFlag *atomic.Bool
}

// Loop is the Go analogue of the original runtime's AgentLoop.
type Loop struct {
	bus      *bus.Bus
	busRecv  *bus.Receiver
	fusion   *fusion.SensorFusion
	octree   *spatial.Octree
	episodic *episodic.Store
	semantic *episodic.SemanticTracker
	gate     *kernel.KernelGate
	guard    *loopguard.LoopGuard
	llm      LLMClient

	agentID            string
	namespace          string
	overrideSuspension time.Duration
	temperature        float64

	// overrideActive is shared by pointer with the kernel's
	// ManualOverrideInterlock rule: one owner (this loop), one observer.
	overrideActive   *atomic.Bool
	paused           *atomic.Bool

	mu                   sync.Mutex
	overrideLastSeen     time.Time
	waitingForHuman      bool
	pendingHumanResponse *string

	tracer trace.Tracer
}

func New(cfg Config) *Loop {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "mechos-runtime"
	}
	suspension := cfg.OverrideSuspension
	if suspension <= 0 {
		suspension = 10 * time.Second
	}
	overrideActive := cfg.OverrideFlag
	if overrideActive == nil {
		overrideActive = &atomic.Bool{}
	}
	semantic := cfg.Semantic
	if semantic == nil {
		semantic = episodic.NewSemanticTracker()
	}
	return &Loop{
		bus:                cfg.Bus,
		busRecv:            cfg.Bus.Subscribe(),
		fusion:             cfg.Fusion,
		octree:             cfg.Octree,
		episodic:           cfg.Episodic,
		semantic:           semantic,
		gate:               cfg.Gate,
		guard:              cfg.Guard,
		llm:                cfg.LLM,
		agentID:            cfg.AgentID,
		namespace:          namespace,
		overrideSuspension: suspension,
		temperature:        cfg.Temperature,
		overrideActive:     overrideActive,
		paused:             &atomic.Bool{},
		tracer:             otel.Tracer("mechos/agentloop"),
	}
}

// OverrideFlag exposes the shared atomic override flag so the kernel's
// ManualOverrideInterlock rule can observe the same instance this loop
// writes.
func (l *Loop) OverrideFlag() *atomic.Bool { return l.overrideActive }

func (l *Loop) sourceAgentLoop() string       { return l.namespace + "::agent_loop" }
func (l *Loop) sourceManualOverride() string  { return l.namespace + "::manual_override" }

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// Tick performs one complete OODA cycle.
func (l *Loop) Tick(ctx context.Context, dt float64) (mechtypes.HardwareIntent, error) {
	ctx, span := l.tracer.Start(ctx, "agentloop.tick")
	defer span.End()

	l.drainBus(ctx)

	if err := l.checkPreconditions(); err != nil {
		return nil, err
	}

	fused := l.observe(ctx, dt)
	memories, pathClear := l.orient(ctx, fused)

	obstacleBelief := l.updateObstacleBelief(pathClear)

	raw, err := l.decide(ctx, fused, pathClear, obstacleBelief, memories)
	if err != nil {
		return nil, err
	}

	if l.loopGuardTriggered(raw) {
		return nil, mechtypes.NewLlmInferenceFailed("repetitive LLM output detected; human intervention required")
	}

	intent, err := mechtypes.ParseIntent([]byte(raw))
	if err != nil {
		return nil, err
	}

	gateCtx, gateSpan := l.tracer.Start(ctx, "agentloop.gatekeep")
	err = l.gate.AuthorizeAndVerify(l.agentID, intent)
	gateSpan.End()
	if err != nil {
		logging.PhaseLogger(gateCtx, "gatekeep").Warn().Err(err).Str("agent_id", l.agentID).Msg("intent rejected by kernel gate")
		return nil, err
	}

	l.act(ctx, intent)
	l.bookkeep(ctx, intent)

	return intent, nil
}

func (l *Loop) checkPreconditions() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused.Load() {
		return mechtypes.NewHardwareFault("agent_loop", "paused by operator")
	}

	if l.overrideActive.Load() {
		if time.Since(l.overrideLastSeen) < l.overrideSuspension {
			return mechtypes.NewHardwareFault("agent_loop", "manual override active")
		}
		l.overrideActive.Store(false)
	}

	if l.waitingForHuman {
		if l.pendingHumanResponse == nil {
			return mechtypes.NewLlmInferenceFailed("waiting for human response")
		}
		l.waitingForHuman = false
	}

	return nil
}

// drainBus processes every event currently buffered for this loop's global
// receiver, non-blocking.
func (l *Loop) drainBus(ctx context.Context) {
	for {
		ev, err, ok := l.busRecv.TryRecv()
		if !ok {
			return
		}
		if err != nil {
			logging.PhaseLogger(ctx, "observe").Debug().Err(err).Msg("bus lag on agent loop receiver, continuing")
			continue
		}
		l.handleDrainedEvent(ctx, ev)
	}
}

func (l *Loop) handleDrainedEvent(ctx context.Context, ev mechtypes.Event) {
	switch ev.Payload.Kind {
	case mechtypes.PayloadHumanResponse:
		l.mu.Lock()
		resp := ev.Payload.HumanResponse
		l.pendingHumanResponse = &resp
		l.waitingForHuman = false
		l.mu.Unlock()

	case mechtypes.PayloadAgentModeToggle:
		l.paused.Store(ev.Payload.AgentModeTogglePaused)

	case mechtypes.PayloadLidarScan:
		l.ingestLidarScan(ev.Payload)

	case mechtypes.PayloadAgentThought:
		if hasSuffix(ev.Source, "::dashboard_override") {
			l.armOverrideFromDashboard(ctx, ev.Payload.AgentThought)
		}
	}
}

func (l *Loop) ingestLidarScan(p mechtypes.EventPayload) {
	fused := l.fusion.FusedState(0)
	for i, r := range p.LidarRanges {
		if math.IsNaN(float64(r)) || math.IsInf(float64(r), 0) || r <= 0 {
			continue
		}
		bearing := fused.HeadingRad + float64(p.LidarAngleMinRad) + float64(i)*float64(p.LidarAngleIncrementRad)
		x := fused.PositionX + float64(r)*math.Cos(bearing)
		y := fused.PositionY + float64(r)*math.Sin(bearing)
		l.octree.Insert(mechtypes.Point3{X: x, Y: y, Z: 0})
	}
}

func (l *Loop) armOverrideFromDashboard(ctx context.Context, thoughtJSON string) {
	linear, angular, err := rosbridge.TwistLinearAngular(thoughtJSON)
	if err != nil {
		logging.PhaseLogger(ctx, "act").Warn().Err(err).Msg("malformed dashboard override twist, ignoring")
		return
	}
	l.armOverride(ctx, linear, angular, l.sourceManualOverride())
}

func (l *Loop) armOverride(ctx context.Context, linear, angular float64, source string) {
	l.mu.Lock()
	l.overrideLastSeen = time.Now()
	l.mu.Unlock()
	l.overrideActive.Store(true)

	raw, err := mechtypes.MarshalIntent(mechtypes.Drive{LinearVelocity: linear, AngularVelocity: angular})
	if err != nil {
		logging.PhaseLogger(ctx, "act").Error().Err(err).Msg("failed to marshal manual override drive intent")
		return
	}
	l.bus.PublishToBestEffort(mechtypes.TopicHardwareCommands, mechtypes.NewEvent(source, mechtypes.AgentThoughtPayload(string(raw))))
}

// HandleManualOverride arms the interlock and publishes a Twist event on
// the bus sourced with the manual-override tag, bypassing authorization
// entirely.
func (l *Loop) HandleManualOverride(linear, angular float64) {
	l.armOverride(context.Background(), linear, angular, l.sourceManualOverride())
}

func (l *Loop) IsOverrideActive() bool { return l.overrideActive.Load() }

// SetPaused immediately toggles the Cockpit pause, independent of override.
func (l *Loop) SetPaused(paused bool) { l.paused.Store(paused) }

func (l *Loop) IsPaused() bool { return l.paused.Load() }

// SubmitHumanResponse stores a pending HITL response for the next tick to
// consume.
func (l *Loop) SubmitHumanResponse(response string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingHumanResponse = &response
}

func (l *Loop) IsWaitingForHuman() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waitingForHuman
}

func (l *Loop) observe(ctx context.Context, dt float64) mechtypes.FusedState {
	_, span := l.tracer.Start(ctx, "agentloop.observe")
	defer span.End()
	return l.fusion.FusedState(dt)
}

func (l *Loop) orient(ctx context.Context, state mechtypes.FusedState) ([]mechtypes.MemoryEntry, bool) {
	ctx, span := l.tracer.Start(ctx, "agentloop.orient")
	defer span.End()

	probe := mechtypes.NewAABB(
		mechtypes.Point3{X: state.PositionX - probeHalfExtent, Y: state.PositionY - probeHalfExtent, Z: -probeHalfExtent},
		mechtypes.Point3{X: state.PositionX + probeHalfExtent, Y: state.PositionY + probeHalfExtent, Z: probeHalfExtent},
	)
	pathClear := !l.octree.QueryAABB(probe)

	memories, err := l.recallRecentMemories(ctx)
	if err != nil {
		logging.PhaseLogger(ctx, "orient").Warn().Err(err).Msg("episodic recall failed, proceeding without memory context")
		memories = nil
	}
	return memories, pathClear
}

// updateObstacleBelief folds this tick's instantaneous octree probe into a
// decaying confidence belief, so a single stale occupied cell does not
// dominate the system prompt the way an instantaneous query would: the
// belief only rises when the obstacle keeps reappearing tick over tick.
func (l *Loop) updateObstacleBelief(pathClear bool) float32 {
	if !pathClear {
		l.semantic.Observe(obstacleBeliefLabel, []float32{1}, obstacleObservationConfidence)
	}
	l.semantic.DecayAll(obstacleBeliefDecay)
	belief, _ := l.semantic.Query(obstacleBeliefLabel)
	return belief.Confidence
}

// recallRecentMemories dispatches the blocking episodic read to a worker
// goroutine so the cooperative tick is not blocked synchronously on disk I/O.
func (l *Loop) recallRecentMemories(ctx context.Context) ([]mechtypes.MemoryEntry, error) {
	type result struct {
		entries []mechtypes.MemoryEntry
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		entries, err := l.episodic.RecentEntries(ctx, recentMemoryCount)
		ch <- result{entries, err}
	}()

	select {
	case res := <-ch:
		return res.entries, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func buildSystemPrompt(state mechtypes.FusedState, pathClear bool, obstacleBelief float32, memories []mechtypes.MemoryEntry) string {
	prompt := fmt.Sprintf(
		"You are the cognition core of an autonomous robot.\nPosition: (%.3f, %.3f)\nHeading: %.3f rad\nVelocity: (%.3f, %.3f)\nPath clear: %t\nObstacle confidence: %.2f\n",
		state.PositionX, state.PositionY, state.HeadingRad, state.VelocityX, state.VelocityY, pathClear, obstacleBelief,
	)
	if len(memories) > 0 {
		prompt += "Recent memories:\n"
		for _, m := range memories {
			prompt += fmt.Sprintf("- [%s] %s\n", m.Source, m.Summary)
		}
	}
	prompt += "Respond with exactly one JSON object shaped {\"action\": ..., \"payload\": {...}}."
	return prompt
}

func (l *Loop) decide(ctx context.Context, state mechtypes.FusedState, pathClear bool, obstacleBelief float32, memories []mechtypes.MemoryEntry) (string, error) {
	ctx, span := l.tracer.Start(ctx, "agentloop.decide")
	defer span.End()

	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: buildSystemPrompt(state, pathClear, obstacleBelief, memories)},
		{Role: llmclient.RoleUser, Content: "What should I do next?"},
	}

	l.mu.Lock()
	pending := l.pendingHumanResponse
	l.pendingHumanResponse = nil
	l.mu.Unlock()
	if pending != nil {
		messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: *pending})
	}

	return l.llm.Complete(ctx, messages, l.temperature)
}

func (l *Loop) loopGuardTriggered(raw string) bool {
	h := fnv.New64a()
	_, _ = h.Write([]byte(raw))
	return l.guard.Record(h.Sum64())
}

func (l *Loop) act(ctx context.Context, intent mechtypes.HardwareIntent) {
	raw, err := mechtypes.MarshalIntent(intent)
	if err != nil {
		logging.PhaseLogger(ctx, "act").Error().Err(err).Msg("failed to marshal approved intent")
		return
	}
	l.bus.PublishToBestEffort(mechtypes.TopicHardwareCommands, mechtypes.NewEvent(l.sourceAgentLoop(), mechtypes.AgentThoughtPayload(string(raw))))
}

func (l *Loop) bookkeep(ctx context.Context, intent mechtypes.HardwareIntent) {
	if _, ok := intent.(mechtypes.AskHuman); ok {
		logging.PhaseLogger(ctx, "bookkeep").Debug().Msg("awaiting human response before next tick")
		l.mu.Lock()
		l.waitingForHuman = true
		l.mu.Unlock()
	}
}
