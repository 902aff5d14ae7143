// ABOUTME: JSON-file implementation of the Records interface
// ABOUTME: One <collection>.json per collection; atomic replace via temp file + rename

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore persists each collection as a pretty-printed JSON array in its
// own file under a data directory. Writes go through a temp file and rename
// so a crashed write never leaves a half-written collection behind.
type JSONStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-collection write serialization
}

// NewJSONStore creates the data directory if needed and returns a store.
func NewJSONStore(dir string) (*JSONStore, error) {
	if dir == "" {
		return nil, errors.New("data directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &JSONStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex guarding one collection, creating it on first use.
func (s *JSONStore) lockFor(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[collection]
	if !ok {
		l = &sync.Mutex{}
		s.locks[collection] = l
	}
	return l
}

func (s *JSONStore) path(collection string) (string, error) {
	if !validCollection(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	return filepath.Join(s.dir, collection+".json"), nil
}

// Read decodes the collection file into out. A missing file reads as an
// empty array.
func (s *JSONStore) Read(ctx context.Context, collection string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(collection)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte("[]")
	} else if err != nil {
		return fmt.Errorf("reading collection %q: %w", collection, err)
	}

	if len(data) == 0 {
		data = []byte("[]")
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding collection %q: %w", collection, err)
	}
	return nil
}

// Write atomically replaces the collection file with the encoded records.
func (s *JSONStore) Write(ctx context.Context, collection string, records any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(collection)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding collection %q: %w", collection, err)
	}

	lock := s.lockFor(collection)
	lock.Lock()
	defer lock.Unlock()

	tmp, err := os.CreateTemp(s.dir, collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %q: %w", collection, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing collection %q: %w", collection, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %q: %w", collection, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing collection %q: %w", collection, err)
	}
	return nil
}

// Close implements Records. The JSON store holds no open handles.
func (s *JSONStore) Close() error {
	return nil
}
