// ABOUTME: Records interface and data types for Skilloc persistence
// ABOUTME: Defines Client, Worker, Message records and the collection store contract

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidMessage is returned by NewMessage when the stated invariants do
// not hold (empty text after trimming, or a self-addressed message).
var ErrInvalidMessage = errors.New("invalid message")

// Records is a key-value store of record collections. Each collection is a
// JSON array of records, durable across restarts. Reads of a missing
// collection yield an empty collection, never an error. Write replaces the
// collection atomically: a failed write must not leave a partially written
// collection visible to subsequent reads.
type Records interface {
	// Read decodes the named collection into out, which must be a pointer
	// to a slice.
	Read(ctx context.Context, collection string, out any) error

	// Write replaces the named collection with the given slice of records.
	Write(ctx context.Context, collection string, records any) error

	// Close releases any resources held by the store.
	Close() error
}

// Collection names for the account and directory records. Conversation logs
// use the conversation key itself as the collection name.
const (
	CollectionClients  = "clients"
	CollectionWorkers  = "workers"
	CollectionWorkerDB = "workerdb"
)

// validCollection reports whether a collection name is safe to use as a
// storage key. Conversation keys ("conv:a_b") must pass this.
func validCollection(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ':' || r == '_' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return !strings.Contains(name, "..")
}

// Client is a registered client account record.
type Client struct {
	ID             string     `json:"id"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName,omitempty"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	City           string     `json:"city,omitempty"`
	Address        string     `json:"address,omitempty"`
	Services       []string   `json:"services,omitempty"`
	Radius         *float64   `json:"radius,omitempty"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	PasswordHash   string     `json:"password,omitempty"`
	FailedAttempts int        `json:"failedAttempts,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}

// Worker is a registered service-worker account record.
type Worker struct {
	ID             string   `json:"id"`
	FirstName      string   `json:"firstName"`
	LastName       string   `json:"lastName,omitempty"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone,omitempty"`
	Profession     string   `json:"profession"`
	Experience     int      `json:"experience,omitempty"`
	Skills         string   `json:"skills,omitempty"`
	Certifications string   `json:"certifications,omitempty"`
	HourlyRate     *float64 `json:"hourlyRate,omitempty"`
	ServiceRadius  *float64 `json:"serviceRadius,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	PasswordHash   string   `json:"password,omitempty"`
}

// WorkerLogin is a worker-directory entry, refreshed on each successful
// worker login. Served by GET /api/workerdb for the client chat roster.
type WorkerLogin struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName,omitempty"`
	Profession string    `json:"profession"`
	Phone      string    `json:"phone,omitempty"`
	LastLogin  time.Time `json:"lastLogin"`
	Status     string    `json:"status"`
}

// Message is a single chat message. Once persisted it is immutable;
// conversation logs are append-only.
type Message struct {
	ID   string    `json:"id"`
	From string    `json:"from"`
	To   string    `json:"to"`
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// NewMessage builds a Message, enforcing the invariants at creation time:
// text must be non-empty after trimming and a message may not be
// self-addressed. ID and TS are assigned by the conversation log at append.
func NewMessage(from, to, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: missing participant", ErrInvalidMessage)
	}
	if from == to {
		return nil, fmt.Errorf("%w: self-addressed", ErrInvalidMessage)
	}
	return &Message{From: from, To: to, Text: text}, nil
}
