// Command mechos-cockpit-bridge is the WebSocket-facing half of the
// operator dashboard: it upgrades browser connections, relays incoming
// rosbridge-style frames to the agent daemon over Redis, and streams
// outbound bus events back down to every connected dashboard client.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"mechos/internal/config"
	"mechos/internal/logging"
	"mechos/internal/mechtypes"
	"mechos/internal/redisrelay"
	"mechos/internal/rosbridge"
)

const (
	redisOutboundChannel = "mechos:events"
	redisInboundChannel  = "mechos:dashboard_in"
	writeWait            = 10 * time.Second
	pingInterval         = 30 * time.Second
	pongWait             = 60 * time.Second
)

// outboundFrame is what a dashboard client receives for every bus event.
type outboundFrame struct {
	Source  string          `json:"source"`
	Kind    string          `json:"kind"`
	Payload mechtypes.Event `json:"payload"`
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan outboundFrame
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan outboundFrame)}
}

func (h *hub) add(conn *websocket.Conn) chan outboundFrame {
	send := make(chan outboundFrame, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()
	return send
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		close(send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(frame outboundFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, send := range h.clients {
		select {
		case send <- frame:
		default:
		}
	}
}

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(os.Getenv("MECHOS_CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	logging.InitLogger(cfg.LogPath, cfg.LogLevel)

	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := redisrelay.New(redisAddr, redisOutboundChannel)
	inbound := redisrelay.New(redisAddr, redisInboundChannel)
	defer outbound.Close()
	defer inbound.Close()

	h := newHub()
	go func() {
		for ev := range outbound.Subscribe(ctx) {
			h.broadcast(outboundFrame{Source: ev.Source, Kind: "event", Payload: ev})
		}
	}()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		send := h.add(conn)
		go writePump(conn, send)
		readPump(ctx, conn, inbound, h)
	})

	server := &http.Server{Addr: cfg.WebSocketBindAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.WebSocketBindAddr).Msg("mechos-cockpit-bridge listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down mechos-cockpit-bridge")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func writePump(conn *websocket.Conn, send chan outboundFrame) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(ctx context.Context, conn *websocket.Conn, inbound *redisrelay.Relay, h *hub) {
	defer h.remove(conn)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := rosbridge.ParseFrame(raw)
		if err != nil {
			log.Warn().Err(err).Msg("failed to parse dashboard frame")
			continue
		}
		ev, ok, err := frame.ToEvent("mechos-cockpit")
		if err != nil {
			log.Warn().Err(err).Msg("failed to convert dashboard frame")
			continue
		}
		if !ok {
			continue
		}
		if err := inbound.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("failed to publish dashboard event to redis")
		}
	}
}
