// ABOUTME: Client session: websocket chat with reconnect and re-auth
// ABOUTME: Merges pushed and confirmed messages into one local cache

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skilloc/skilloc/internal/chat"
	"github.com/skilloc/skilloc/internal/conversation"
	"github.com/skilloc/skilloc/internal/store"
)

// ErrSignedOut is returned once the server has rejected the session's
// credential. The session will not reconnect; the caller must obtain a new
// token and dial again.
var ErrSignedOut = errors.New("signed out")

// ErrClosed is returned from operations on a closed session.
var ErrClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	// ServerURL is the http(s) base URL of the server.
	ServerURL string
	// Token is the bearer credential from login.
	Token string

	// OnMessage is called for every new message merged into the cache,
	// pushed or confirmed, exactly once per message id. Optional.
	OnMessage func(msg store.Message)
	// OnSignedOut is called when the server rejects the credential during
	// a reconnect. The session stops; it never retries a bad token.
	OnSignedOut func(reason string)

	// Reconnect backoff bounds. Zero values get defaults.
	ReconnectMinWait time.Duration
	ReconnectMaxWait time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ReconnectMinWait <= 0 {
		o.ReconnectMinWait = time.Second
	}
	if o.ReconnectMaxWait <= 0 {
		o.ReconnectMaxWait = 30 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Session is a live connection to the chat server. It keeps a local cache
// of conversations, merging pushed messages, send confirmations, and
// history fetches, deduplicated by message id: a message the session saw
// live and later fetches again via history surfaces only once.
type Session struct {
	opts   Options
	userID string
	logger *slog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	convos map[string][]store.Message
	seen   map[string]bool
	closed bool

	done chan struct{}
}

// Dial connects, authenticates, and starts the session's read loop. The
// context bounds the initial connection only.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	s := &Session{
		opts:   opts,
		logger: opts.Logger.With("component", "session"),
		convos: make(map[string][]store.Message),
		seen:   make(map[string]bool),
		done:   make(chan struct{}),
	}

	ws, userID, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.ws = ws
	s.userID = userID

	go s.readLoop(ws)
	return s, nil
}

// connect dials the websocket endpoint and performs the authenticate
// handshake. Every new transport starts unauthenticated, so this runs on
// the first dial and on every reconnect.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, string, error) {
	wsURL := strings.Replace(s.opts.ServerURL, "http", "ws", 1) + "/ws"

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	data, err := chat.Encode(chat.EventAuthenticate, chat.AuthenticatePayload{Token: s.opts.Token})
	if err != nil {
		ws.Close()
		return nil, "", err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.Close()
		return nil, "", fmt.Errorf("sending credentials: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, resp, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, "", fmt.Errorf("waiting for handshake: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	var env chat.Envelope
	if err := json.Unmarshal(resp, &env); err != nil {
		ws.Close()
		return nil, "", fmt.Errorf("malformed handshake response: %w", err)
	}

	switch env.Event {
	case chat.EventAuthenticated:
		var p chat.AuthenticatedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			ws.Close()
			return nil, "", fmt.Errorf("malformed handshake response: %w", err)
		}
		return ws, p.UserID, nil
	case chat.EventUnauthorized:
		ws.Close()
		return nil, "", ErrSignedOut
	default:
		ws.Close()
		return nil, "", fmt.Errorf("unexpected handshake event %q", env.Event)
	}
}

// readLoop consumes frames until the transport drops, then hands off to
// the reconnect loop.
func (s *Session) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Debug("connection lost, reconnecting", "error", err)
			// Release the dead transport before dialing a fresh one,
			// or its file descriptor leaks for the session lifetime.
			ws.Close()
			s.reconnect()
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		switch env.Event {
		case chat.EventMessage:
			var msg store.Message
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				s.logger.Debug("dropping malformed message", "error", err)
				continue
			}
			s.merge(msg)
		case chat.EventUnauthorized:
			s.signOut("server revoked the session")
			return
		case chat.EventError:
			var p chat.ErrorPayload
			_ = json.Unmarshal(env.Data, &p)
			s.logger.Warn("server rejected a send", "kind", p.Kind, "reason", p.Reason)
		}
	}
}

// reconnect re-dials with exponential backoff and re-authenticates. A
// rejected credential ends the session; transport errors retry forever
// until Close.
func (s *Session) reconnect() {
	wait := s.opts.ReconnectMinWait

	for {
		select {
		case <-s.done:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ws, _, err := s.connect(ctx)
		cancel()

		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				ws.Close()
				return
			}
			s.ws = ws
			s.mu.Unlock()
			s.logger.Info("reconnected")
			go s.readLoop(ws)
			return
		}

		if errors.Is(err, ErrSignedOut) {
			s.signOut("credential rejected on reconnect")
			return
		}

		s.logger.Debug("reconnect failed", "error", err, "next_wait", wait)
		wait *= 2
		if wait > s.opts.ReconnectMaxWait {
			wait = s.opts.ReconnectMaxWait
		}
	}
}

func (s *Session) signOut(reason string) {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	if s.ws != nil {
		s.ws.Close()
	}
	s.mu.Unlock()

	if alreadyClosed {
		return
	}
	close(s.done)
	s.logger.Info("session signed out", "reason", reason)
	if s.opts.OnSignedOut != nil {
		s.opts.OnSignedOut(reason)
	}
}

// merge adds a message to the conversation cache unless its id was already
// seen, and fires OnMessage for new ones.
func (s *Session) merge(msg store.Message) {
	s.mu.Lock()
	if s.seen[msg.ID] {
		s.mu.Unlock()
		return
	}
	s.seen[msg.ID] = true

	key := conversation.Key(msg.From, msg.To)
	msgs := append(s.convos[key], msg)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].TS.Before(msgs[j].TS) })
	s.convos[key] = msgs
	s.mu.Unlock()

	if s.opts.OnMessage != nil {
		s.opts.OnMessage(msg)
	}
}

// Send dispatches a message over the live connection. Delivery of the
// confirmation arrives asynchronously as a message event.
func (s *Session) Send(toID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ws == nil {
		return ErrClosed
	}

	data, err := chat.Encode(chat.EventPrivateMessage, chat.PrivateMessagePayload{ToID: toID, Text: text})
	if err != nil {
		return err
	}
	if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// LoadHistory fetches the conversation with otherID over REST and merges
// it into the cache. Messages the session already saw live are not
// duplicated.
func (s *Session) LoadHistory(ctx context.Context, clientID, workerID string) error {
	url := fmt.Sprintf("%s/api/messages?client_id=%s&worker_id=%s", s.opts.ServerURL, clientID, workerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.Token)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSignedOut
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching history: status %d", resp.StatusCode)
	}

	var body struct {
		Messages []store.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding history: %w", err)
	}

	for _, msg := range body.Messages {
		s.merge(msg)
	}
	return nil
}

// Conversation returns the cached messages with otherID, oldest first.
func (s *Session) Conversation(otherID string) []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conversation.Key(s.userID, otherID)
	msgs := s.convos[key]
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out
}

// UserID returns the authenticated user id for this session.
func (s *Session) UserID() string { return s.userID }

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ws := s.ws
	s.mu.Unlock()

	close(s.done)
	if ws != nil {
		return ws.Close()
	}
	return nil
}
