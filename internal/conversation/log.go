// ABOUTME: Append-only per-pair conversation log over the Records store
// ABOUTME: Serializes appends per conversation key so concurrent sends never lose updates

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skilloc/skilloc/internal/store"
)

// Log is the conversation store: an append-only message log per conversation
// key, persisted through a Records backend. All writers must go through
// Append; nothing else mutates a conversation collection.
type Log struct {
	records store.Records
	logger  *slog.Logger

	mu   sync.Mutex
	keys map[string]*sync.Mutex // conversation key -> append lock
}

// NewLog creates a conversation log. Pass nil logger for default.
func NewLog(records store.Records, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		records: records,
		logger:  logger.With("component", "conversation"),
		keys:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the append lock for one conversation key, creating it on
// first use. Appends to different keys proceed independently.
func (l *Log) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		l.keys[key] = lock
	}
	return lock
}

// Append persists a message to its conversation log and returns the stored
// record with id and timestamp assigned. The read-current-then-append
// critical section is held under the per-key lock: two concurrent senders on
// the same key serialize here, and the persisted order is the order the lock
// was acquired. A failed persist leaves the log untouched.
func (l *Log) Append(ctx context.Context, msg *store.Message) (*store.Message, error) {
	key := Key(msg.From, msg.To)

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.TS.IsZero() {
		stored.TS = time.Now().UTC()
	}

	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var log []store.Message
	if err := l.records.Read(ctx, key, &log); err != nil {
		return nil, fmt.Errorf("reading conversation %q: %w", key, err)
	}

	log = append(log, stored)
	if err := l.records.Write(ctx, key, log); err != nil {
		return nil, fmt.Errorf("appending to conversation %q: %w", key, err)
	}

	l.logger.Debug("message appended",
		"conversation_key", key,
		"message_id", stored.ID,
		"from", stored.From,
		"to", stored.To,
	)
	return &stored, nil
}

// History returns the full log for the pair (a, b), oldest first. An unknown
// pair yields an empty slice, not an error.
func (l *Log) History(ctx context.Context, a, b string) ([]store.Message, error) {
	key := Key(a, b)

	var log []store.Message
	if err := l.records.Read(ctx, key, &log); err != nil {
		return nil, fmt.Errorf("reading conversation %q: %w", key, err)
	}
	if log == nil {
		log = []store.Message{}
	}
	return log, nil
}
