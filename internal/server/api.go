// ABOUTME: REST message endpoints: send fallback and history
// ABOUTME: Shares the router with the websocket path; adds dedup replay

package server

import (
	"errors"
	"net/http"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/chat"
	"github.com/skilloc/skilloc/internal/store"
)

type sendMessageRequest struct {
	ToID     string `json:"to_id"`
	Text     string `json:"text"`
	DedupKey string `json:"dedup_key,omitempty"`
}

// handleSendMessage is the REST fallback for clients without a live
// websocket. Persistence and fan-out are exactly the websocket path; a
// dedup_key makes retries idempotent within the cache TTL.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	send := func() (*store.Message, error) {
		return s.router.Send(r.Context(), id, req.ToID, req.Text, "")
	}

	var msg *store.Message
	var err error
	if req.DedupKey != "" {
		// Dedup keys are scoped per sender so clients cannot collide.
		// DoOnce holds the key across lookup and send: two concurrent
		// retries of one request persist a single message.
		msg, _, err = s.dedup.DoOnce(id.ID+":"+req.DedupKey, send)
	} else {
		msg, err = send()
	}
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidMessage):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("rest send failed", "error", err)
			writeError(w, http.StatusInternalServerError, "message not sent")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

// handleGetMessages returns a conversation's history, oldest first. Only a
// participant may read it.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	clientID := r.URL.Query().Get("client_id")
	workerID := r.URL.Query().Get("worker_id")
	if clientID == "" || workerID == "" {
		writeError(w, http.StatusBadRequest, "client_id and worker_id are required")
		return
	}
	if id.ID != clientID && id.ID != workerID {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	messages, err := s.log.History(r.Context(), clientID, workerID)
	if err != nil {
		s.logger.Error("reading history", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
