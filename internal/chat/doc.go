// ABOUTME: Realtime chat plane: websocket ingress, connection lifecycle, routing
// ABOUTME: Connects authenticated sockets to the conversation log and presence

// Package chat implements the realtime messaging plane.
//
// The Handler upgrades HTTP requests to websocket connections. Each
// Connection runs a small state machine (pending, authenticated, closed):
// the peer must present a credential over the socket before any message is
// accepted, and must do so again after every reconnect. The Router sits
// between connections and storage: it validates a send, appends it to the
// conversation log exactly once, then fans the persisted record out to
// whatever handles the recipient and sender have online. Delivery is best
// effort; the log is the source of truth.
package chat
