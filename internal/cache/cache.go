// Package cache provides the content-addressed response cache. Entries are
// keyed by a stable hash of (agent id, normalized prompt) and expire after
// a per-entry TTL; a periodic sweep bounds memory independently of lookups.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// DefaultTTL is one week, in seconds.
const DefaultTTL = 604800

// DefaultSweepInterval is how often the background sweep scans all entries.
const DefaultSweepInterval = 60 * time.Second

// Entry is one cached response. Payload keeps the serialized message shape
// so that a structurally-corrupt persisted entry can be detected at read
// time and treated as a miss.
type Entry struct {
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int             `json:"ttl_seconds"`
}

func (e *Entry) expiredAt(now time.Time) bool {
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLSeconds)*time.Second
}

// Key computes the deterministic cache key for an agent/prompt pair.
// Normalization is lowercase of the raw prompt.
func Key(agentID, prompt string) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(prompt)))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the in-process response cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry

	// now is swappable so TTL behavior is testable without sleeping.
	now func() time.Time

	// onChange, when set, receives a snapshot after mutations so the
	// caller can persist the collection.
	onChange func(map[string]Entry)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a cache seeded with previously persisted entries.
func New(seed map[string]Entry) *Cache {
	entries := make(map[string]Entry, len(seed))
	for k, v := range seed {
		entries[k] = v
	}
	return &Cache{
		entries: entries,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// OnChange registers a persistence hook.
func (c *Cache) OnChange(fn func(map[string]Entry)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Get returns the cached message for key. Expired or unparsable entries are
// evicted and reported as absent.
func (c *Cache) Get(key string) (types.Message, bool) {
	c.mu.Lock()

	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return types.Message{}, false
	}

	if entry.expiredAt(c.now()) {
		delete(c.entries, key)
		c.mu.Unlock()
		c.notify()
		logging.CacheDebug("evicted expired entry %s", key[:8])
		return types.Message{}, false
	}

	msg, err := types.NormalizeMessage(entry.Payload)
	if err != nil {
		// Corrupt payload: evict silently, treat as miss.
		delete(c.entries, key)
		c.mu.Unlock()
		c.notify()
		logging.CacheDebug("evicted corrupt entry %s: %v", key[:8], err)
		return types.Message{}, false
	}

	c.mu.Unlock()
	logging.Cache("hit %s", key[:8])
	return msg, true
}

// Set stores a response message under key with the given TTL in seconds.
// A non-positive ttl selects DefaultTTL.
func (c *Cache) Set(key string, msg types.Message, ttlSeconds int) error {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTL
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[key] = Entry{
		Payload:    payload,
		CreatedAt:  c.now(),
		TTLSeconds: ttlSeconds,
	}
	c.mu.Unlock()
	c.notify()

	logging.CacheDebug("set %s ttl=%ds", key[:8], ttlSeconds)
	return nil
}

// Sweep removes every expired entry in one pass and returns how many were
// removed. Runs as read-modify-write over the whole map, so an interleaved
// Set is simply last-write-wins.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if e.expiredAt(now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.notify()
		logging.Cache("sweep removed %d expired entries", removed)
	}
	return removed
}

// StartSweep launches the periodic sweep goroutine. Stop terminates it.
func (c *Cache) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sweep goroutine. Safe to call multiple times.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns a copy of all entries for persistence.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *Cache) notify() {
	c.mu.Lock()
	fn := c.onChange
	var snapshot map[string]Entry
	if fn != nil {
		snapshot = make(map[string]Entry, len(c.entries))
		for k, v := range c.entries {
			snapshot[k] = v
		}
	}
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}
