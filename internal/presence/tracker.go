// ABOUTME: Tracks which users currently have live, authenticated connections
// ABOUTME: Maps user id to a set of connection handles for router fan-out

package presence

import (
	"log/slog"
	"sync"

	"github.com/skilloc/skilloc/internal/store"
)

// Conn is a live connection handle as seen by the tracker and the router.
// The tracker never calls Deliver and never closes a connection; it only
// holds non-owning references so the router can fan out. Deliver pushes one
// persisted message to the connection and reports failure without blocking.
type Conn interface {
	ID() string
	Deliver(msg *store.Message) error
}

// Tracker maps user ids to their live connection handles. A user may hold
// any number of concurrent handles (multi-tab). State is process-lifetime
// only; nothing here is persisted.
type Tracker struct {
	mu     sync.RWMutex
	conns  map[string]map[string]Conn // userID -> connID -> handle
	logger *slog.Logger
}

// NewTracker creates a presence tracker. Pass nil logger for default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		conns:  make(map[string]map[string]Conn),
		logger: logger.With("component", "presence"),
	}
}

// Register adds a handle to the user's connection set.
func (t *Tracker) Register(userID string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]Conn)
		t.conns[userID] = set
	}
	set[conn.ID()] = conn

	t.logger.Debug("connection registered",
		"user_id", userID,
		"conn_id", conn.ID(),
		"total", len(set),
	)
}

// Deregister removes one handle from the user's set. A second call for the
// same handle, or a call for a handle that was never registered, is a no-op.
func (t *Tracker) Deregister(userID string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		return
	}
	if _, ok := set[conn.ID()]; !ok {
		return
	}

	delete(set, conn.ID())
	if len(set) == 0 {
		delete(t.conns, userID)
	}

	t.logger.Debug("connection deregistered",
		"user_id", userID,
		"conn_id", conn.ID(),
		"remaining", len(set),
	)
}

// IsOnline reports whether the user has at least one live handle.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}

// HandlesFor returns a snapshot of the user's live handles. Handles that go
// stale after the snapshot is taken surface as delivery failures at push
// time, not as tracker errors.
func (t *Tracker) HandlesFor(userID string) []Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.conns[userID]
	handles := make([]Conn, 0, len(set))
	for _, c := range set {
		handles = append(handles, c)
	}
	return handles
}
