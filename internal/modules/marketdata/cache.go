package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Default TTLs for cached calculation results.
const (
	TTLReturns    = 6 * time.Hour
	TTLCovariance = 24 * time.Hour
)

// Cache is an explicit in-process TTL cache for intermediate calculation
// results (aligned returns, covariance matrices). Entries are stored
// msgpack-encoded so cached values are decoupled from the caller's types.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
	log     zerolog.Logger
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCache creates a new calculation cache.
func NewCache(log zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		log:     log.With().Str("component", "calc_cache").Logger(),
	}
}

// Set stores a value under key with the given TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()

	return nil
}

// Get decodes the value stored under key into dest. Returns false on a miss
// or an expired entry.
func (c *Cache) Get(key string, dest interface{}) bool {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return false
	}

	if err := msgpack.Unmarshal(entry.data, dest); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to decode cached entry, dropping it")
		c.Delete(key)
		return false
	}

	return true
}

// Delete removes an entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep removes all expired entries and returns the number removed.
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.log.Debug().Int("removed", removed).Msg("Swept expired cache entries")
	}

	return removed
}

// Len returns the number of live entries (including not-yet-swept expired ones).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Do runs compute for key at most once across concurrent callers
// (singleflight), caching the encoded result with the given TTL. dest
// receives the cached or freshly computed value.
func (c *Cache) Do(key string, ttl time.Duration, dest interface{}, compute func() (interface{}, error)) error {
	if c.Get(key, dest) {
		return nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := compute()
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, value, ttl); err != nil {
			return nil, err
		}
		return msgpack.Marshal(value)
	})
	if err != nil {
		return err
	}

	data, ok := result.([]byte)
	if !ok {
		return fmt.Errorf("unexpected singleflight result type for %s", key)
	}

	if err := msgpack.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode computed entry %s: %w", key, err)
	}

	return nil
}
