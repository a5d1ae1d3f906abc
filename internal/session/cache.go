package session

import (
	"errors"
	"sync"
	"time"
)

// ErrCacheFull is returned when a bounded cache is at capacity and no entry
// is evictable (should not happen in practice since Set always evicts the
// nearest-to-expiry entry to make room).
var ErrCacheFull = errors.New("session: cache is full")

type entry[V any] struct {
	value     V
	expiresAt time.Time
	timer     *time.Timer
}

// ttlCache is a capacity-bounded, TTL-expiring concurrent map. Inserts and
// reads are linearizable under its mutex; expiry is enforced both lazily
// (on Get) and eagerly via a per-entry time.AfterFunc, mirroring the
// mutex-guarded-map-plus-timer pattern used for pending-request tracking
// elsewhere in this codebase's ancestry.
//
// Eviction when full scans for the entry nearest to expiry and removes it.
// A linear scan is acceptable at the cache sizes this server is configured
// for; a heap would only pay for itself at far larger capacities.
type ttlCache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*entry[V]
	capacity int
	ttl      time.Duration
}

func newTTLCache[K comparable, V any](capacity int, ttl time.Duration) *ttlCache[K, V] {
	return &ttlCache[K, V]{
		items:    make(map[K]*entry[V]),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Set inserts or overwrites key with value, resetting its TTL. If the cache
// is at capacity and key is not already present, the entry nearest to
// expiry is evicted first.
func (c *ttlCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}

	if old, exists := c.items[key]; exists && old.timer != nil {
		old.timer.Stop()
	}

	e := &entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	e.timer = time.AfterFunc(c.ttl, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.items[key]; ok && cur == e {
			delete(c.items, key)
		}
	})
	c.items[key] = e
}

// Get returns the value for key if present and not expired.
func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key, if present. An evicted key never becomes visible
// again without an explicit Set.
func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.items, key)
	}
}

// Len returns the number of live entries. Callers hold no lock guarantee
// across a subsequent operation; this is a point-in-time snapshot.
func (c *ttlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldestLocked removes the entry nearest to expiry. Caller must hold c.mu.
func (c *ttlCache[K, V]) evictOldestLocked() {
	var oldestKey K
	var oldestEntry *entry[V]
	for k, e := range c.items {
		if oldestEntry == nil || e.expiresAt.Before(oldestEntry.expiresAt) {
			oldestKey, oldestEntry = k, e
		}
	}
	if oldestEntry != nil {
		if oldestEntry.timer != nil {
			oldestEntry.timer.Stop()
		}
		delete(c.items, oldestKey)
	}
}

// Cache is the session-UUID to master-key cache. While a uuid is present,
// its master key is the sole authoritative per-session key: every request
// bearing that uuid must authenticate against this value.
type Cache struct {
	inner *ttlCache[ID, []byte]
}

// NewCache creates a session cache with the given capacity and per-session
// time-to-live.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{inner: newTTLCache[ID, []byte](capacity, ttl)}
}

// Put stores masterKey under uuid, resetting its TTL.
func (c *Cache) Put(uuid ID, masterKey []byte) {
	c.inner.Set(uuid, masterKey)
}

// Get returns the master key for uuid, if the session is still live.
func (c *Cache) Get(uuid ID) ([]byte, bool) {
	return c.inner.Get(uuid)
}

// Evict removes uuid, terminating the session immediately.
func (c *Cache) Evict(uuid ID) {
	c.inner.Delete(uuid)
}

// Len reports the number of live sessions.
func (c *Cache) Len() int {
	return c.inner.Len()
}

// nonceKey is the fixed-size form of a PoP nonce.
type nonceKey [16]byte

// NonceCache is the used-PoP-nonce set: presence of a nonce means it has
// already been consumed and any later use must be rejected as a replay.
type NonceCache struct {
	inner *ttlCache[nonceKey, struct{}]
}

// NewNonceCache creates a PoP-nonce cache with the given capacity and
// validity window.
func NewNonceCache(capacity int, validity time.Duration) *NonceCache {
	return &NonceCache{inner: newTTLCache[nonceKey, struct{}](capacity, validity)}
}

// CheckAndSet atomically checks whether nonce has already been used within
// the validity window and, if not, marks it used. Returns true if this is
// the first use (accept), false if it is a replay (reject).
func (c *NonceCache) CheckAndSet(nonce [16]byte) bool {
	key := nonceKey(nonce)
	c.inner.mu.Lock()
	defer c.inner.mu.Unlock()

	if e, ok := c.inner.items[key]; ok && time.Now().Before(e.expiresAt) {
		return false
	}

	if _, exists := c.inner.items[key]; !exists && len(c.inner.items) >= c.inner.capacity {
		c.inner.evictOldestLocked()
	}
	e := &entry[struct{}]{expiresAt: time.Now().Add(c.inner.ttl)}
	e.timer = time.AfterFunc(c.inner.ttl, func() {
		c.inner.mu.Lock()
		defer c.inner.mu.Unlock()
		if cur, ok := c.inner.items[key]; ok && cur == e {
			delete(c.inner.items, key)
		}
	})
	c.inner.items[key] = e
	return true
}
