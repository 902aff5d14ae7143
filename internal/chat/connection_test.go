// ABOUTME: End-to-end websocket tests: handshake, auth, live delivery
// ABOUTME: Dials a real server via httptest and speaks the wire protocol

package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/conversation"
	"github.com/skilloc/skilloc/internal/presence"
	"github.com/skilloc/skilloc/internal/store"
)

type chatFixture struct {
	server   *httptest.Server
	verifier *auth.JWTVerifier
	tracker  *presence.Tracker
	log      *conversation.Log
}

func newChatFixture(t *testing.T, cfg Config) *chatFixture {
	t.Helper()

	verifier, err := auth.NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	records, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	log := conversation.NewLog(records, nil)
	tracker := presence.NewTracker(nil)
	dir := &fakeDirectory{roles: map[string]auth.Role{
		"client-1": auth.RoleClient,
		"worker-1": auth.RoleWorker,
	}}
	router := NewRouter(log, tracker, dir, nil)
	handler := NewHandler(verifier, tracker, router, cfg, nil)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &chatFixture{server: server, verifier: verifier, tracker: tracker, log: log}
}

func (f *chatFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (f *chatFixture) token(t *testing.T, id string, role auth.Role) string {
	t.Helper()
	token, err := f.verifier.Generate(&auth.Identity{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func sendEvent(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func authenticate(t *testing.T, f *chatFixture, ws *websocket.Conn, id string, role auth.Role) {
	t.Helper()
	sendEvent(t, ws, EventAuthenticate, AuthenticatePayload{Token: f.token(t, id, role)})
	env := readEvent(t, ws)
	require.Equal(t, EventAuthenticated, env.Event)

	var p AuthenticatedPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, id, p.UserID)
	assert.Equal(t, string(role), p.Role)
}

func TestConnectionAuthenticate(t *testing.T) {
	f := newChatFixture(t, Config{})
	ws := f.dial(t)

	authenticate(t, f, ws, "client-1", auth.RoleClient)

	require.Eventually(t, func() bool {
		return f.tracker.IsOnline("client-1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionRejectsBadToken(t *testing.T) {
	f := newChatFixture(t, Config{})
	ws := f.dial(t)

	sendEvent(t, ws, EventAuthenticate, AuthenticatePayload{Token: "not-a-token"})

	env := readEvent(t, ws)
	assert.Equal(t, EventUnauthorized, env.Event)

	// The server tears the connection down after a failed handshake.
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestConnectionRequiresAuthBeforeSend(t *testing.T) {
	f := newChatFixture(t, Config{})
	ws := f.dial(t)

	sendEvent(t, ws, EventPrivateMessage, PrivateMessagePayload{ToID: "worker-1", Text: "hi"})
	env := readEvent(t, ws)
	assert.Equal(t, EventUnauthorized, env.Event)

	// The connection stays open inside the handshake grace period, so
	// authenticating afterwards still works.
	authenticate(t, f, ws, "client-1", auth.RoleClient)
}

func TestConnectionLiveDelivery(t *testing.T) {
	f := newChatFixture(t, Config{})

	clientWS := f.dial(t)
	workerWS := f.dial(t)
	authenticate(t, f, clientWS, "client-1", auth.RoleClient)
	authenticate(t, f, workerWS, "worker-1", auth.RoleWorker)

	sendEvent(t, clientWS, EventPrivateMessage, PrivateMessagePayload{ToID: "worker-1", Text: "need a plumber"})

	// The recipient gets a push with the persisted record.
	env := readEvent(t, workerWS)
	require.Equal(t, EventMessage, env.Event)
	var pushed store.Message
	require.NoError(t, json.Unmarshal(env.Data, &pushed))
	assert.Equal(t, "client-1", pushed.From)
	assert.Equal(t, "worker-1", pushed.To)
	assert.Equal(t, "need a plumber", pushed.Text)
	assert.NotEmpty(t, pushed.ID)

	// The sender gets the same record back as its ack.
	ack := readEvent(t, clientWS)
	require.Equal(t, EventMessage, ack.Event)
	var acked store.Message
	require.NoError(t, json.Unmarshal(ack.Data, &acked))
	assert.Equal(t, pushed.ID, acked.ID)
}

func TestConnectionInvalidSendReturnsError(t *testing.T) {
	f := newChatFixture(t, Config{})
	ws := f.dial(t)
	authenticate(t, f, ws, "client-1", auth.RoleClient)

	sendEvent(t, ws, EventPrivateMessage, PrivateMessagePayload{ToID: "client-1", Text: "talking to myself"})

	env := readEvent(t, ws)
	require.Equal(t, EventError, env.Event)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, ErrorKindInvalidMessage, p.Kind)
}

func TestConnectionHandshakeTimeout(t *testing.T) {
	f := newChatFixture(t, Config{HandshakeTimeout: 100 * time.Millisecond})
	ws := f.dial(t)

	env := readEvent(t, ws)
	assert.Equal(t, EventUnauthorized, env.Event)

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "unauthenticated connection is reclaimed")
}

func TestConnectionReauthRequiredAfterReconnect(t *testing.T) {
	f := newChatFixture(t, Config{})

	ws := f.dial(t)
	authenticate(t, f, ws, "client-1", auth.RoleClient)
	ws.Close()

	require.Eventually(t, func() bool {
		return !f.tracker.IsOnline("client-1")
	}, 2*time.Second, 10*time.Millisecond, "disconnect deregisters presence")

	// A fresh transport starts over at pending: the previous session's
	// authentication does not carry across.
	ws2 := f.dial(t)
	sendEvent(t, ws2, EventPrivateMessage, PrivateMessagePayload{ToID: "worker-1", Text: "still me"})
	env := readEvent(t, ws2)
	assert.Equal(t, EventUnauthorized, env.Event)

	authenticate(t, f, ws2, "client-1", auth.RoleClient)
}

func TestConnectionRejectionDeliveredEveryTime(t *testing.T) {
	f := newChatFixture(t, Config{})

	// A failed handshake must always surface as an unauthorized event,
	// never as a bare transport drop, or clients cannot distinguish a
	// revoked credential from network loss.
	for i := 0; i < 20; i++ {
		ws := f.dial(t)
		sendEvent(t, ws, EventAuthenticate, AuthenticatePayload{Token: "bad-token"})
		env := readEvent(t, ws)
		require.Equal(t, EventUnauthorized, env.Event, "attempt %d", i)
		ws.Close()
	}
}

// serverSideConn upgrades one websocket and hands back the server half.
func serverSideConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		upgraded <- ws
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	ws := <-upgraded
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestConnectionCloseDuringAuthenticateLeavesNoHandle(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)
	tracker := presence.NewTracker(nil)

	conn := newConnection(serverSideConn(t), verifier, tracker, nil, Config{}.withDefaults(), slog.Default())

	token, err := verifier.Generate(&auth.Identity{ID: "client-1", Role: auth.RoleClient}, time.Hour)
	require.NoError(t, err)
	payload, err := json.Marshal(AuthenticatePayload{Token: token})
	require.NoError(t, err)

	// Teardown racing the handshake must never leave the handle
	// registered, whichever side wins.
	done := make(chan struct{})
	go func() {
		conn.handleAuthenticate(payload)
		close(done)
	}()
	conn.close()
	<-done

	assert.False(t, tracker.IsOnline("client-1"), "closed connection must not stay registered")
}

func TestConnectionDisconnectedRecipientStoresMessage(t *testing.T) {
	f := newChatFixture(t, Config{})

	clientWS := f.dial(t)
	authenticate(t, f, clientWS, "client-1", auth.RoleClient)

	sendEvent(t, clientWS, EventPrivateMessage, PrivateMessagePayload{ToID: "worker-1", Text: "call me back"})

	ack := readEvent(t, clientWS)
	require.Equal(t, EventMessage, ack.Event)

	history, err := f.log.History(t.Context(), "worker-1", "client-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "call me back", history[0].Text)
}
