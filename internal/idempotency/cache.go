// Package idempotency implements the bounded pending-request cache: once a
// request event has been fully handled, the id of its response event is
// kept long enough that a relay-retransmitted duplicate of the same request
// is recognized and not re-executed. Only response event ids are stored, so
// the original response event is not sent again for a duplicate.
package idempotency

import (
	"sort"
	"sync"
	"time"
)

// DefaultMaxEntries and DefaultRetention bound the cache by both age and
// count (≥1024 entries, ≥10 min retention). Over the count bound the
// oldest-stored entries are evicted first; a Lookup does not refresh an
// entry's position, so this is not a least-recently-used order.
const (
	DefaultMaxEntries = 2048
	DefaultRetention  = 15 * time.Minute
)

type entry struct {
	mu               sync.Mutex
	responseEventIDs []string
	cachedAt         time.Time
	expiresAt        time.Time
}

// Cache is a sync.Map-backed, count-and-age bounded cache from source
// request event id to the id of the response event already emitted for
// it. The Map-plus-periodic-sweep shape follows internal/cache's
// MemoryCache design, generalized with an explicit max-entry
// eviction by oldest cachedAt rather than soonest expiresAt, since here
// entries should survive for their full retention window regardless of
// insertion order within that window.
type Cache struct {
	data            sync.Map
	maxEntries      int
	retention       time.Duration
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// New starts a Cache with background eviction. Call Close to stop it.
func New(maxEntries int, retention time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	c := &Cache{
		maxEntries:      maxEntries,
		retention:       retention,
		cleanupInterval: retention / 4,
		stopCh:          make(chan struct{}),
	}
	if c.cleanupInterval < time.Second {
		c.cleanupInterval = time.Second
	}
	go c.cleanupLoop()
	return c
}

// Lookup returns the first cached response event id for a source request
// event id, and whether it was found (and not expired). Single-response
// methods have exactly one id; see LookupAll for multi_pay_* fan-out.
func (c *Cache) Lookup(sourceEventID string) (string, bool) {
	ids, ok := c.LookupAll(sourceEventID)
	if !ok || len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// LookupAll returns every response event id recorded for sourceEventID.
// multi_pay_invoice/multi_pay_keysend/multi_pay_offer record one id per
// sub-request so a relay-retransmitted duplicate of the whole request is
// recognized without re-running any sub-payment.
func (c *Cache) LookupAll(sourceEventID string) ([]string, bool) {
	v, ok := c.data.Load(sourceEventID)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Now().After(e.expiresAt) {
		c.data.Delete(sourceEventID)
		return nil, false
	}
	out := make([]string, len(e.responseEventIDs))
	copy(out, e.responseEventIDs)
	return out, true
}

// Store records that sourceEventID has been answered with exactly one
// responseEventID, replacing whatever was recorded before.
func (c *Cache) Store(sourceEventID, responseEventID string) {
	now := time.Now()
	c.data.Store(sourceEventID, &entry{
		responseEventIDs: []string{responseEventID},
		cachedAt:         now,
		expiresAt:        now.Add(c.retention),
	})
}

// StoreAppend adds one more response event id to sourceEventID's record
// without discarding ids already stored for it, for methods that emit
// several response events per request.
func (c *Cache) StoreAppend(sourceEventID, responseEventID string) {
	now := time.Now()
	fresh := &entry{cachedAt: now, expiresAt: now.Add(c.retention)}
	actual, _ := c.data.LoadOrStore(sourceEventID, fresh)
	e := actual.(*entry)
	e.mu.Lock()
	e.responseEventIDs = append(e.responseEventIDs, responseEventID)
	e.expiresAt = now.Add(c.retention)
	e.mu.Unlock()
}

// Close stops the background eviction loop.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evict()
		}
	}
}

func (c *Cache) evict() {
	now := time.Now()
	type keyed struct {
		key      string
		cachedAt time.Time
	}
	var live []keyed

	c.data.Range(func(k, v interface{}) bool {
		key := k.(string)
		e := v.(*entry)
		if now.After(e.expiresAt) {
			c.data.Delete(key)
			return true
		}
		live = append(live, keyed{key, e.cachedAt})
		return true
	})

	if len(live) <= c.maxEntries {
		return
	}
	sort.Slice(live, func(i, j int) bool { return live[i].cachedAt.Before(live[j].cachedAt) })
	toRemove := len(live) - c.maxEntries
	for i := 0; i < toRemove; i++ {
		c.data.Delete(live[i].key)
	}
}
