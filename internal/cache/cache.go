// Package cache implements the scout's LRU object cache (C4): a bounded
// working set of managed CRDTs keyed by object id, with two refinements a
// plain LRU cannot express on its own — entries an open transaction still
// depends on must never be evicted regardless of recency, and entries
// should also age out on a TTL so a long-idle scout does not serve
// arbitrarily stale reads from cache alone.
//
// The unprotected working set is a github.com/hashicorp/golang-lru/v2
// simplelru.LRU (already an indirect dependency of the teacher's go.mod,
// pulled in transitively but never exercised directly — this promotes it
// to direct use). Protected entries are held out of the LRU entirely, in a
// small refcounted side table, the way the teacher's internal/memory
// buffer pool keeps its hot set outside of sync.Pool's own reclaim
// decisions.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/seasidesky/swiftscout/internal/crdt"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/metrics"
)

// Stats is a point-in-time snapshot of cache activity counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Sweeps    uint64
	Protected int
	Cached    int
}

type entry struct {
	managed   *crdt.Managed
	touchedAt time.Time
	refs      int
}

// Cache is the scout's bounded LRU object cache.
type Cache struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[ids.ObjectID, *entry]
	protected map[ids.ObjectID]*entry
	ttl       time.Duration
	onEvict   func(ids.ObjectID)
	stats     Stats
	quiet     bool // set while an explicit removal must not count as an eviction

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a cache holding up to capacity unprotected entries, evicting
// entries idle for longer than ttl (ttl <= 0 disables TTL-based sweeping).
// onEvict, if non-nil, is called synchronously whenever an entry leaves the
// cache through ordinary LRU or TTL eviction (never when an entry is
// removed because a caller explicitly discarded it) — the scout wires this
// to its subscription bookkeeping so a gone-from-cache object also loses
// its notification registrations. onEvict is invoked with the cache's own
// lock held, so it must not call back into any Cache method.
func New(capacity int, ttl time.Duration, onEvict func(ids.ObjectID)) (*Cache, error) {
	c := &Cache{
		protected: make(map[ids.ObjectID]*entry),
		ttl:       ttl,
		onEvict:   onEvict,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	lru, err := simplelru.NewLRU[ids.ObjectID, *entry](capacity, c.handleEvict)
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

func (c *Cache) handleEvict(id ids.ObjectID, e *entry) {
	if c.quiet {
		return
	}
	c.stats.Evictions++
	metrics.CacheEvictionsTotal.Inc()
	if c.onEvict != nil {
		c.onEvict(id)
	}
}

// Add inserts or replaces the cached value for id. If id is currently
// protected the protected copy is updated in place rather than entering the
// LRU (protection outranks normal insertion).
func (c *Cache) Add(id ids.ObjectID, managed *crdt.Managed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.protected[id]; ok {
		e.managed = managed
		e.touchedAt = time.Now()
		return
	}
	c.lru.Add(id, &entry{managed: managed, touchedAt: time.Now()})
}

// GetAndTouch returns the cached value for id, promoting it to
// most-recently-used if it is not already pinned by a protection.
func (c *Cache) GetAndTouch(id ids.ObjectID) (*crdt.Managed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.protected[id]; ok {
		e.touchedAt = time.Now()
		c.stats.Hits++
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return e.managed, true
	}
	if e, ok := c.lru.Get(id); ok {
		e.touchedAt = time.Now()
		c.stats.Hits++
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return e.managed, true
	}
	c.stats.Misses++
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	return nil, false
}

// GetWithoutTouch returns the cached value for id without affecting its
// recency — used by callers (dependency checks, fetch-in-progress probes)
// that want to peek at the cache without disturbing eviction order.
func (c *Cache) GetWithoutTouch(id ids.ObjectID) (*crdt.Managed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.protected[id]; ok {
		return e.managed, true
	}
	if e, ok := c.lru.Peek(id); ok {
		return e.managed, true
	}
	return nil, false
}

// Protect pins id so it cannot be evicted, incrementing a refcount if it is
// already pinned. It reports whether id was present in the cache at all.
// Open transactions call this for every object their snapshot touches, so
// a transaction in flight never loses the version it is reading against.
func (c *Cache) Protect(id ids.ObjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.protected[id]; ok {
		e.refs++
		return true
	}
	if e, ok := c.lru.Peek(id); ok {
		c.quiet = true
		c.lru.Remove(id)
		c.quiet = false
		e.refs = 1
		c.protected[id] = e
		return true
	}
	return false
}

// RemoveProtection releases one protection held on id. Once the refcount
// reaches zero the entry re-enters the LRU as most-recently-used, once
// again eligible for ordinary eviction.
func (c *Cache) RemoveProtection(id ids.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.protected[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(c.protected, id)
	e.touchedAt = time.Now()
	c.lru.Add(id, e)
}

// Remove drops id from the cache entirely (protected or not), without
// invoking onEvict — used when a caller discards an object outright
// (ErrNoSuchObject, a type mismatch) rather than it aging out naturally.
func (c *Cache) Remove(id ids.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.protected, id)
	c.quiet = true
	c.lru.Remove(id)
	c.quiet = false
}

// Snapshot returns a copy of the cache's activity counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Protected = len(c.protected)
	s.Cached = c.lru.Len() + len(c.protected)
	return s
}

// StartSweeper launches the TTL-based background eviction loop, running
// every period until Stop is called. It is a no-op if the cache was
// constructed with ttl <= 0.
func (c *Cache) StartSweeper(period time.Duration) {
	if c.ttl <= 0 {
		close(c.doneCh)
		return
	}
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// sweep removes unprotected entries idle longer than the configured TTL.
// Protected entries are never swept regardless of age, matching Protect's
// eviction-immunity guarantee.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	c.stats.Sweeps++
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if e.touchedAt.Before(cutoff) {
			c.lru.Remove(key)
		}
	}
}

// Stop halts the background sweeper and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}
