// ABOUTME: Message router: validate, persist exactly once, fan out best-effort
// ABOUTME: Shared by the websocket ingress and the REST fallback path

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/conversation"
	"github.com/skilloc/skilloc/internal/presence"
	"github.com/skilloc/skilloc/internal/store"
)

// Router errors. Delivery failures are not errors: the router swallows them
// after persistence has succeeded.
var (
	// ErrInvalidMessage means the send intent failed validation: empty
	// text, self-addressed, or an unknown or same-role recipient.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrStorageFailure means persistence failed. The message is not sent
	// and the caller may retry.
	ErrStorageFailure = errors.New("storage failure")
)

// Directory resolves a user id to its role. The account service implements
// this; returns store.ErrNotFound for unknown ids.
type Directory interface {
	RoleOf(ctx context.Context, userID string) (auth.Role, error)
}

// Router is the dispatch core. Both ingress paths, the live websocket
// channel and the REST fallback, converge on Send.
type Router struct {
	log       *conversation.Log
	presence  *presence.Tracker
	directory Directory
	logger    *slog.Logger
}

// NewRouter creates a message router. Pass nil logger for default.
func NewRouter(log *conversation.Log, tracker *presence.Tracker, directory Directory, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		log:       log,
		presence:  tracker,
		directory: directory,
		logger:    logger.With("component", "router"),
	}
}

// Send accepts an outbound message intent from an authenticated sender.
//
// The message is validated, persisted exactly once, then pushed to every
// live handle of the recipient and to the sender's other handles so
// multi-tab views converge. originConnID names the handle the intent
// arrived on, which is skipped during the sender echo (its ack travels back
// on the ingress path itself); pass "" for the REST path.
//
// Push is best-effort: a failed delivery to one handle is logged and
// swallowed, never rolled back. An offline recipient simply gets no push;
// the persisted message is retrievable via History (store-and-forward).
// The persisted record is returned regardless of delivery outcome.
func (r *Router) Send(ctx context.Context, from *auth.Identity, toID, text, originConnID string) (*store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	if toID == from.ID {
		return nil, fmt.Errorf("%w: self-addressed", ErrInvalidMessage)
	}

	role, err := r.directory.RoleOf(ctx, toID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown recipient", ErrInvalidMessage)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving recipient: %w", err)
	}
	if role == from.Role {
		return nil, fmt.Errorf("%w: recipient is not on the opposite side", ErrInvalidMessage)
	}

	msg, err := store.NewMessage(from.ID, toID, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	// Durability point. Exactly once, regardless of delivery path.
	stored, err := r.log.Append(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	r.push(toID, stored, "")
	r.push(from.ID, stored, originConnID)

	return stored, nil
}

// push fans a persisted message out to every live handle of one user,
// skipping excludeConnID. Failures are logged and swallowed.
func (r *Router) push(userID string, msg *store.Message, excludeConnID string) {
	handles := r.presence.HandlesFor(userID)
	if len(handles) == 0 {
		r.logger.Debug("recipient offline, store-and-forward",
			"user_id", userID,
			"message_id", msg.ID,
		)
		return
	}

	for _, h := range handles {
		if excludeConnID != "" && h.ID() == excludeConnID {
			continue
		}
		if err := h.Deliver(msg); err != nil {
			r.logger.Warn("delivery failed",
				"user_id", userID,
				"conn_id", h.ID(),
				"message_id", msg.ID,
				"error", err,
			)
		}
	}
}
