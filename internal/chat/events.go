// ABOUTME: Wire protocol for the real-time channel
// ABOUTME: JSON envelopes and payloads for the authenticate/message events

package chat

import (
	"encoding/json"
	"fmt"

	"github.com/skilloc/skilloc/internal/store"
)

// Event names carried in the envelope. Client-to-server: authenticate,
// private_message. Server-to-client: authenticated, unauthorized, message,
// error.
const (
	EventAuthenticate   = "authenticate"
	EventAuthenticated  = "authenticated"
	EventUnauthorized   = "unauthorized"
	EventPrivateMessage = "private_message"
	EventMessage        = "message"
	EventError          = "error"
)

// Error kinds carried by the error event.
const (
	ErrorKindInvalidMessage = "invalid_message"
	ErrorKindStorageFailure = "storage_failure"
)

// Envelope frames every message on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload carries the bearer credential for the handshake.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// AuthenticatedPayload acknowledges a successful handshake.
type AuthenticatedPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// UnauthorizedPayload reports a handshake or authorization failure. The
// reason is deliberately generic.
type UnauthorizedPayload struct {
	Reason string `json:"reason"`
}

// PrivateMessagePayload is an outbound message intent from a client.
type PrivateMessagePayload struct {
	ToID string `json:"to_id"`
	Text string `json:"text"`
}

// ErrorPayload reports a non-fatal send failure back to the sender.
type ErrorPayload struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Encode builds a wire frame for the given event and payload.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// EncodeMessage builds the push frame for a persisted message.
func EncodeMessage(msg *store.Message) ([]byte, error) {
	return Encode(EventMessage, msg)
}
