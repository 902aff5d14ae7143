// ABOUTME: TTL cache mapping client dedup keys to persisted message records
// ABOUTME: Backs idempotent retries on the REST send path

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/skilloc/skilloc/internal/store"
)

type entry struct {
	msg      *store.Message
	storedAt time.Time
	element  *list.Element
}

// Cache remembers which dedup keys have already produced a persisted
// message, so a retried request replays the original record instead of
// appending a duplicate. DoOnce serializes per key, so simultaneous
// retries cannot both persist. Entries expire after the TTL and the
// oldest entry is evicted when the cache is full; insertion order lives in
// a linked list so eviction is O(1).
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex
}

// New creates a dedup cache. A background goroutine sweeps expired entries
// until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
		keys:    make(map[string]*sync.Mutex),
	}
	go c.sweep()
	return c
}

// Lookup returns the message previously stored under key, if the entry has
// not expired. The second return reports whether the key was found.
func (c *Cache) Lookup(key string) (*store.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.storedAt) >= c.ttl {
		return nil, false
	}
	return e.msg, true
}

// Store records the persisted message for key. Storing an existing key
// replaces its record and resets its age. At capacity the oldest entry is
// evicted first.
func (c *Cache) Store(key string, msg *store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.msg = msg
		e.storedAt = time.Now()
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{msg: msg, storedAt: time.Now(), element: elem}
}

// lockFor returns the serialization lock for one dedup key, creating it on
// first use. Retries on different keys proceed independently.
func (c *Cache) lockFor(key string) *sync.Mutex {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	lock, ok := c.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		c.keys[key] = lock
	}
	return lock
}

// DoOnce runs fn at most once per live key: concurrent callers with the
// same key serialize, and whichever runs first stores its result for the
// rest to replay. The lookup-run-store sequence is held under the per-key
// lock so two simultaneous retries cannot both reach fn. The second return
// reports whether the message was replayed from the cache.
func (c *Cache) DoOnce(key string, fn func() (*store.Message, error)) (*store.Message, bool, error) {
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if msg, ok := c.Lookup(key); ok {
		return msg, true, nil
	}

	msg, err := fn()
	if err != nil {
		return nil, false, err
	}
	c.Store(key, msg)
	return msg, false, nil
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Len returns the number of entries currently held, including ones that
// have expired but not yet been swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
