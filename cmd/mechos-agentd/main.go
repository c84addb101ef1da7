// Command mechos-agentd is the process entrypoint for the robot cognition
// and safety control plane: it wires the event bus, kernel gate, sensor
// fusion, hardware registry, episodic memory and the OODA agent loop
// together, then serves an operator HTTP surface alongside the tick loop.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mechos/internal/agentloop"
	"mechos/internal/bus"
	"mechos/internal/config"
	"mechos/internal/episodic"
	"mechos/internal/fusion"
	"mechos/internal/hwregistry"
	"mechos/internal/kernel"
	"mechos/internal/llmclient"
	"mechos/internal/logging"
	"mechos/internal/loopguard"
	"mechos/internal/mechtypes"
	"mechos/internal/redisrelay"
	"mechos/internal/spatial"
	"mechos/internal/swarmbridge"
	"mechos/internal/telemetry"
	"mechos/internal/watchdog"
)

const (
	redisOutboundChannel = "mechos:events"
	redisInboundChannel  = "mechos:dashboard_in"
)

const (
	tickInterval     = 200 * time.Millisecond
	hardwareTimeout  = 2 * time.Second
	loopGuardWindow  = 5
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(os.Getenv("MECHOS_CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logging.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     os.Getenv("MECHOS_OTEL_ENABLED") == "true",
		Endpoint:    os.Getenv("MECHOS_OTEL_ENDPOINT"),
		Insecure:    true,
		ServiceName: "mechos-agentd",
		RobotID:     cfg.AgentID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer shutdownTelemetry(context.Background())

	eventBus := bus.New(cfg.BusCapacity)

	sensorFusion := fusion.New(0.8)
	octree := spatial.New(mechtypes.NewAABB(
		mechtypes.Point3{X: -50, Y: -50, Z: -5},
		mechtypes.Point3{X: 50, Y: 50, Z: 5},
	))

	store, err := episodic.Open(cfg.EpisodicDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open episodic store")
	}
	defer store.Close()

	registry := hwregistry.New()
	registry.RegisterActuator("left_wheel", hwregistry.NewSimActuator())
	registry.RegisterActuator("right_wheel", hwregistry.NewSimActuator())
	registry.RegisterActuator("end_effector", hwregistry.NewSimActuator())
	registry.RegisterRelay("estop_lamp", hwregistry.NewSimRelay())

	capabilities := kernel.NewCapabilityManager()
	capabilities.Grant(cfg.AgentID, mechtypes.HardwareInvoke("drive_base"))
	capabilities.Grant(cfg.AgentID, mechtypes.HardwareInvoke("end_effector"))
	capabilities.Grant(cfg.AgentID, mechtypes.HardwareInvoke("hitl"))

	overrideActive := &atomic.Bool{}
	verifier := kernel.NewStateVerifier(
		kernel.SpeedCapRule{MaxLinear: cfg.MaxLinearSpeed, MaxAngular: cfg.MaxAngularSpeed},
		kernel.NewManualOverrideInterlock(overrideActive),
	)
	gate := kernel.NewKernelGate(capabilities, verifier)

	llm := llmclient.New(cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMModel, telemetry.TracedHTTPClient(nil))

	loop := agentloop.New(agentloop.Config{
		Bus:                eventBus,
		Fusion:             sensorFusion,
		Octree:             octree,
		Episodic:           store,
		Semantic:           episodic.NewSemanticTracker(),
		Gate:               gate,
		Guard:              loopguard.New(loopGuardWindow),
		LLM:                llm,
		AgentID:            cfg.AgentID,
		Namespace:          "mechos-runtime",
		OverrideSuspension: cfg.OverrideSuspension,
		Temperature:        0.2,
		OverrideFlag:       overrideActive,
	})

	wd := watchdog.New()
	wd.Register("agent_loop", hardwareTimeout*3)
	wd.Register("hal_adapter", hardwareTimeout)

	// background runs every long-lived goroutine; canceling ctx drains them
	// all, and Wait reports the first one that returned a real error.
	var fleet *swarmbridge.Relay
	if len(cfg.KafkaBrokers) > 0 {
		fleet = swarmbridge.New(swarmbridge.Config{
			Brokers:   cfg.KafkaBrokers,
			Topic:     cfg.KafkaTopic,
			GroupID:   cfg.KafkaGroupID,
			RobotID:   cfg.AgentID,
			Namespace: "mechos-runtime",
			Bus:       eventBus,
		})
		defer fleet.Close()
	}

	background, gctx := errgroup.WithContext(ctx)
	background.Go(func() error { runHALAdapter(gctx, eventBus, registry, fleet, wd); return nil })
	background.Go(func() error { runTickLoop(gctx, loop, wd); return nil })
	if fleet != nil {
		background.Go(func() error { return fleet.Run(gctx, 4) })
	}

	if cfg.RedisAddr != "" {
		outbound := redisrelay.New(cfg.RedisAddr, redisOutboundChannel)
		inbound := redisrelay.New(cfg.RedisAddr, redisInboundChannel)
		defer outbound.Close()
		defer inbound.Close()
		background.Go(func() error { forwardBusToRedis(gctx, eventBus, outbound); return nil })
		background.Go(func() error { forwardRedisToBus(gctx, eventBus, inbound); return nil })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if dead := wd.CheckAll(); len(dead) > 0 {
			http.Error(w, "components unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/hitl/response", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Response string `json:"response"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		loop.SubmitHumanResponse(body.Response)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/override", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Linear  float64 `json:"linear"`
			Angular float64 `json:"angular"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		loop.HandleManualOverride(body.Linear, body.Angular)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/pause", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Paused bool `json:"paused"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		loop.SetPaused(body.Paused)
		w.WriteHeader(http.StatusAccepted)
	})

	server := &http.Server{Addr: cfg.WebSocketBindAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.WebSocketBindAddr).Msg("mechos-agentd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down mechos-agentd")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if err := background.Wait(); err != nil {
		log.Warn().Err(err).Msg("background task exited with error")
	}
}

// runTickLoop drives the OODA cycle on a fixed interval until ctx is done.
func runTickLoop(ctx context.Context, loop *agentloop.Loop, wd *watchdog.Watchdog) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	dt := tickInterval.Seconds()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wd.Heartbeat("agent_loop")
			if _, err := loop.Tick(ctx, dt); err != nil {
				log.Debug().Err(err).Msg("tick did not produce an approved intent")
			}
		}
	}
}

// forwardBusToRedis mirrors every locally published event onto Redis so a
// separate mechos-cockpit-bridge process can relay it to the dashboard.
func forwardBusToRedis(ctx context.Context, b *bus.Bus, relay *redisrelay.Relay) {
	recv := b.Subscribe()
	defer recv.Unsubscribe()
	for {
		ev, err := recv.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("bus-to-redis forwarder lag")
			continue
		}
		if err := relay.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("failed to publish event to redis")
		}
	}
}

// forwardRedisToBus injects dashboard-originated events (already converted
// to mechtypes.Event by the cockpit bridge) onto the local bus. The topic
// chosen here does not matter to the agent loop's drain step, which reads
// the global channel regardless of topic.
func forwardRedisToBus(ctx context.Context, b *bus.Bus, relay *redisrelay.Relay) {
	for ev := range relay.Subscribe(ctx) {
		b.PublishToBestEffort(mechtypes.TopicSystemAlerts, ev)
	}
}

// runHALAdapter subscribes to HardwareCommands and dispatches every
// approved intent to the hardware registry, exactly the "external HAL
// adapter" the agent loop's Act step expects to be listening. Fleet-ops
// intents (BroadcastFleet/MessagePeer/PostTask) are no-ops at the hardware
// registry, so they are forwarded to the swarm relay instead, when one is
// configured.
func runHALAdapter(ctx context.Context, b *bus.Bus, registry *hwregistry.Registry, fleet *swarmbridge.Relay, wd *watchdog.Watchdog) {
	recv := b.SubscribeTo(mechtypes.TopicHardwareCommands)
	defer recv.Unsubscribe()

	for {
		ev, err := recv.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("hal adapter bus lag")
			continue
		}
		wd.Heartbeat("hal_adapter")
		if ev.Payload.Kind != mechtypes.PayloadAgentThought {
			continue
		}
		intent, err := mechtypes.ParseIntent([]byte(ev.Payload.AgentThought))
		if err != nil {
			log.Warn().Err(err).Msg("hal adapter failed to parse intent")
			continue
		}
		if err := registry.Dispatch(intent); err != nil {
			log.Error().Err(err).Str("source", ev.Source).Msg("hal adapter dispatch failed")
		}
		if fleet != nil {
			if err := fleet.Publish(ctx, intent); err != nil && err != swarmbridge.ErrNotFleetIntent {
				log.Warn().Err(err).Msg("hal adapter failed to publish fleet intent")
			}
		}
	}
}
