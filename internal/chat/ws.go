// ABOUTME: WebSocket ingress: upgrade HTTP requests and hand off to connections
// ABOUTME: Holds the tunable timeouts for handshake, keepalive, and sends

package chat

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/presence"
)

// Config holds the per-connection timing knobs. Zero values are replaced
// with defaults, so an empty Config is usable.
type Config struct {
	// HandshakeTimeout is how long a connection may sit unauthenticated
	// before it is reclaimed.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
	// PongWait is how long to wait for a pong before declaring the peer
	// gone. PingInterval must be shorter.
	PongWait     time.Duration
	PingInterval time.Duration
	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64
	// SendTimeout bounds the persist-and-route path for one message.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Handler upgrades HTTP requests to websocket connections and runs them.
type Handler struct {
	verifier auth.Verifier
	tracker  *presence.Tracker
	router   *Router
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket ingress. Authentication happens after
// the upgrade, over the socket itself, so the upgrader accepts any origin.
func NewHandler(verifier auth.Verifier, tracker *presence.Tracker, router *Router, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier: verifier,
		tracker:  tracker,
		router:   router,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "chat"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newConnection(ws, h.verifier, h.tracker, h.router, h.cfg, h.logger)
	h.logger.Debug("connection accepted", "conn_id", conn.ID(), "remote", r.RemoteAddr)
	go conn.run()
}
