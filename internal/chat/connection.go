// ABOUTME: Per-connection lifecycle: handshake, authentication, teardown
// ABOUTME: State machine PENDING -> AUTHENTICATED -> CLOSED with re-auth self-loop

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/presence"
	"github.com/skilloc/skilloc/internal/store"
)

// State is the lifecycle state of one connection.
type State int32

const (
	// StatePending: transport is open, no credential verified yet.
	StatePending State = iota
	// StateAuthenticated: credential verified, registered with presence.
	StateAuthenticated
	// StateClosed: torn down; terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sendBufferSize is the per-connection outbound channel buffer. A full
// buffer means the consumer is too slow; pushes then fail as delivery
// failures rather than blocking the router.
const sendBufferSize = 64

// Connection owns the lifecycle of a single websocket connection. It is the
// only writer of its own connection record; the presence tracker holds a
// non-owning reference while the connection is authenticated.
//
// A fresh transport connection always starts at PENDING: credentials never
// survive a reconnect implicitly. Re-authenticating an already
// authenticated connection is allowed (the AUTHENTICATED self-loop) and is
// how client sessions recover after a transport drop.
type Connection struct {
	id       string
	ws       *websocket.Conn
	verifier auth.Verifier
	tracker  *presence.Tracker
	router   *Router
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	identity *auth.Identity

	// writeMu serializes all websocket writes: the write pump and the
	// synchronous rejection path during teardown.
	writeMu sync.Mutex

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, verifier auth.Verifier, tracker *presence.Tracker, router *Router, cfg Config, logger *slog.Logger) *Connection {
	id := uuid.New().String()
	return &Connection{
		id:       id,
		ws:       ws,
		verifier: verifier,
		tracker:  tracker,
		router:   router,
		cfg:      cfg,
		logger:   logger.With("conn_id", id),
		state:    StatePending,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// ID implements presence.Conn.
func (c *Connection) ID() string { return c.id }

// Deliver implements presence.Conn: queue one persisted message for the
// write pump. Never blocks; a closed connection or a full buffer is a
// delivery failure for this handle only.
func (c *Connection) Deliver(msg *store.Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s is closed", c.id)
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer full", c.id)
	}
}

// run drives the connection until the transport drops or teardown. It owns
// the read side; the write pump runs alongside it.
func (c *Connection) run() {
	defer c.close()

	go c.writePump()

	// A connection stuck in PENDING is reclaimed after the handshake
	// grace period.
	handshake := time.AfterFunc(c.cfg.HandshakeTimeout, func() {
		if c.State() == StatePending {
			c.logger.Debug("handshake timeout, closing pending connection")
			c.rejectAndClose("authentication timeout")
		}
	})
	defer handshake.Stop()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("malformed frame dropped", "error", err)
			continue
		}

		switch env.Event {
		case EventAuthenticate:
			c.handleAuthenticate(env.Data)
		case EventPrivateMessage:
			c.handlePrivateMessage(env.Data)
		default:
			c.logger.Debug("unknown event dropped", "event", env.Event)
		}
	}
}

// handleAuthenticate drives PENDING -> AUTHENTICATED, or the
// AUTHENTICATED self-loop on re-authentication. On failure the connection
// emits unauthorized and tears down; the client must reconnect and start
// over.
func (c *Connection) handleAuthenticate(data json.RawMessage) {
	var p AuthenticatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.rejectAndClose("malformed authenticate payload")
		return
	}

	id, err := c.verifier.Verify(p.Token)
	if err != nil {
		c.logger.Info("authentication failed", "error", err)
		c.rejectAndClose("unauthorized")
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.identity
	c.identity = id
	c.state = StateAuthenticated
	c.mu.Unlock()

	// Re-auth under a different identity moves this handle between
	// presence sets; same identity re-registers, which is a no-op.
	if prev != nil && prev.ID != id.ID {
		c.tracker.Deregister(prev.ID, c)
	}
	c.tracker.Register(id.ID, c)

	// Teardown may have run between releasing mu and registering, in
	// which case its deregister came first and the handle above would
	// stay behind as a permanently online ghost. Re-check and undo.
	c.mu.Lock()
	closedMeanwhile := c.state == StateClosed
	c.mu.Unlock()
	if closedMeanwhile {
		c.tracker.Deregister(id.ID, c)
		return
	}

	c.logger.Info("connection authenticated", "user_id", id.ID, "role", id.Role)

	ack, err := Encode(EventAuthenticated, AuthenticatedPayload{UserID: id.ID, Role: string(id.Role)})
	if err == nil {
		c.enqueue(ack)
	}
}

// handlePrivateMessage forwards a send intent to the router. Persistence is
// detached from the transport: a disconnect mid-send must not cancel an
// in-flight append.
func (c *Connection) handlePrivateMessage(data json.RawMessage) {
	c.mu.Lock()
	id := c.identity
	authenticated := c.state == StateAuthenticated
	c.mu.Unlock()

	if !authenticated {
		c.sendUnauthorized("authenticate first")
		return
	}

	var p PrivateMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(ErrorKindInvalidMessage, "malformed private_message payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()

	stored, err := c.router.Send(ctx, id, p.ToID, p.Text, c.id)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidMessage):
			c.sendError(ErrorKindInvalidMessage, err.Error())
		default:
			c.logger.Error("send failed", "error", err)
			c.sendError(ErrorKindStorageFailure, "message not sent, retry")
		}
		return
	}

	// Sender ack: the persisted record comes back on the originating
	// handle so the UI can render it without waiting on the recipient.
	if err := c.Deliver(stored); err != nil {
		c.logger.Warn("sender ack delivery failed", "error", err)
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the authenticated identity, or nil while pending.
func (c *Connection) Identity() *auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// close tears the connection down: transition to CLOSED, deregister from
// presence, release the transport. Safe to call any number of times from
// any goroutine; the teardown runs once.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		id := c.identity
		c.state = StateClosed
		c.mu.Unlock()

		close(c.done)
		if id != nil {
			c.tracker.Deregister(id.ID, c)
		}
		c.ws.Close()
		c.logger.Debug("connection closed")
	})
}

func (c *Connection) sendUnauthorized(reason string) {
	data, err := Encode(EventUnauthorized, UnauthorizedPayload{Reason: reason})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// rejectAndClose delivers an unauthorized event and tears the connection
// down. The frame is written synchronously: close releases the transport
// immediately, so a queued frame would be lost and the peer would see an
// abnormal closure instead of the rejection.
func (c *Connection) rejectAndClose(reason string) {
	data, err := Encode(EventUnauthorized, UnauthorizedPayload{Reason: reason})
	if err == nil {
		if werr := c.writeFrame(websocket.TextMessage, data); werr != nil {
			c.logger.Debug("rejection write failed", "error", werr)
		}
	}
	c.close()
}

// writeFrame performs one websocket write under writeMu with the write
// deadline applied.
func (c *Connection) writeFrame(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) sendError(kind, reason string) {
	data, err := Encode(EventError, ErrorPayload{Kind: kind, Reason: reason})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// writePump owns all writes to the websocket: queued frames plus keepalive
// pings. One writer goroutine per connection, as gorilla requires.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.writeFrame(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.writeFrame(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
