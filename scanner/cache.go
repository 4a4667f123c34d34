package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotCached indicates no live entry exists for the requested host.
var ErrNotCached = errors.New("no cached result")

// Store is the optional persistence adapter behind the cache. Expiry
// travels with the value so a restarted process honors the original TTL.
// A Get on a missing or unreadable entry returns ErrNotCached.
type Store interface {
	Get(host string) (*PortResult, time.Time, error)
	Put(host string, res *PortResult, expiresAt time.Time) error
	Delete(host string) error
	Clear() error
}

// cacheEntry is owned exclusively by PortCache. While inFlight is set the
// entry acts as a single-flight lock: concurrent requesters wait on done
// instead of starting a duplicate sweep.
type cacheEntry struct {
	value     *PortResult
	err       error
	expiresAt time.Time
	inFlight  bool
	done      chan struct{}
}

func (e *cacheEntry) live(now time.Time) bool {
	return !e.inFlight && e.value != nil && now.Before(e.expiresAt)
}

// PortCache maps host to its most recent port sweep result with TTL
// expiry. Expired entries are evicted lazily on access, never by a
// background sweep. The map lock is never held while a sweep runs.
type PortCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	store   Store // optional, may be nil
	logger  *slog.Logger
}

// NewPortCache creates a cache. store may be nil for a purely in-memory
// cache.
func NewPortCache(store Store, logger *slog.Logger) *PortCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortCache{
		entries: make(map[string]*cacheEntry),
		store:   store,
		logger:  logger,
	}
}

// Get returns the live cached result for host, if any. An expired entry
// is evicted and reported as a miss.
func (c *PortCache) Get(host string) (*PortResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[host]
	if !ok || e.inFlight {
		return nil, false
	}
	if !e.live(time.Now()) {
		delete(c.entries, host)
		return nil, false
	}
	return e.value, true
}

// Peek reports cache state without blocking: the live result if one
// exists and whether a sweep for host is currently in flight. Intended
// for UI polling loops that must not block on a running sweep.
func (c *PortCache) Peek(host string) (res *PortResult, hit bool, inFlight bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[host]
	if !ok {
		return nil, false, false
	}
	if e.inFlight {
		return nil, false, true
	}
	if !e.live(time.Now()) {
		delete(c.entries, host)
		return nil, false, false
	}
	return e.value, true, false
}

// GetOrCompute returns the live entry for host, or runs compute to
// produce one. At most one compute per host runs at any time; concurrent
// callers attach to the in-flight computation and share its result. The
// cache lock is never held while compute runs. ctx aborts only the wait,
// not the computation itself.
func (c *PortCache) GetOrCompute(ctx context.Context, host string, ttl time.Duration, compute func() (*PortResult, error)) (*PortResult, error) {
	c.mu.Lock()
	e, ok := c.entries[host]
	now := time.Now()
	switch {
	case ok && e.live(now):
		res := e.value
		c.mu.Unlock()
		return res, nil
	case ok && e.inFlight:
		done := e.done
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// The computing goroutine fills the entry before closing done,
		// so the fields are safe to read here.
		if e.err != nil {
			return nil, e.err
		}
		return e.value, nil
	default:
		// Expired or absent: this caller computes.
		e = &cacheEntry{inFlight: true, done: make(chan struct{})}
		c.entries[host] = e
		c.mu.Unlock()
		return c.compute(host, ttl, e, compute)
	}
}

// compute runs with no cache lock held. A persisted entry that is still
// live short-circuits the network sweep.
func (c *PortCache) compute(host string, ttl time.Duration, e *cacheEntry, fn func() (*PortResult, error)) (*PortResult, error) {
	res, expiresAt, err := c.loadPersisted(host)
	if err != nil {
		res, err = fn()
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	e.value = res
	e.err = err
	e.expiresAt = expiresAt
	e.inFlight = false
	cur, ok := c.entries[host]
	current := ok && cur == e
	if err != nil && current {
		// Failed computes are not cached; the next caller retries.
		delete(c.entries, host)
	}
	close(e.done)
	c.mu.Unlock()

	// An entry evicted mid-compute by Invalidate or Clear must not be
	// re-persisted behind the operator's back.
	if err == nil && current && c.store != nil {
		if perr := c.store.Put(host, res, expiresAt); perr != nil {
			c.logger.Warn("cache persist failed", "host", host, "error", perr)
		}
	}
	return res, err
}

// loadPersisted consults the persistence adapter. Any failure, including
// a corrupt entry, degrades to a miss.
func (c *PortCache) loadPersisted(host string) (*PortResult, time.Time, error) {
	if c.store == nil {
		return nil, time.Time{}, ErrNotCached
	}
	res, expiresAt, err := c.store.Get(host)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			c.logger.Warn("cache load failed, treating as miss", "host", host, "error", err)
		}
		return nil, time.Time{}, ErrNotCached
	}
	if res == nil || !time.Now().Before(expiresAt) {
		return nil, time.Time{}, ErrNotCached
	}
	return res, expiresAt, nil
}

// Age reports how long ago the cached result for host was produced.
func (c *PortCache) Age(host string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[host]
	if !ok || e.inFlight || !e.live(time.Now()) {
		return 0, false
	}
	return time.Since(e.value.ScannedAt), true
}

// Invalidate evicts the entry for host from memory and the persistence
// adapter. An in-flight sweep is not interrupted; its result is simply
// not stored.
func (c *PortCache) Invalidate(host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(host); err != nil {
			c.logger.Warn("cache delete failed", "host", host, "error", err)
		}
	}
}

// Clear evicts every entry. In-flight sweeps finish but their results
// are not stored.
func (c *PortCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.logger.Warn("cache clear failed", "error", err)
		}
	}
}
