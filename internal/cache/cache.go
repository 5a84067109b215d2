// SPDX-License-Identifier: MIT

// Package cache provides the fetch cache: decoded feeds keyed by the start
// date of the requested window, with TTL expiry. Backends: in-memory (with a
// cleanup janitor) and Redis.
package cache

import (
	"sync"
	"time"

	"github.com/sirius-college/attendance-monitoring/internal/seqta"
)

// Cache provides thread-safe feed caching with expiration support. The whole
// feed is cached, timestamp included, so artifacts built from a cached feed
// carry the same provenance as a fresh fetch.
type Cache interface {
	// Get retrieves a cached feed. Returns false if not found or expired.
	Get(key string) (seqta.Feed, bool)
	// Set stores a feed with the specified TTL.
	Set(key string, feed seqta.Feed, ttl time.Duration)
	// Delete removes an entry.
	Delete(key string)
	// Clear removes all entries.
	Clear()
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry struct {
	feed       seqta.Feed
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats
	janitor *janitor
}

// NewMemoryCache creates an in-memory cache with automatic cleanup. The
// cleanupInterval determines how often expired entries are removed; zero
// disables the janitor.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{
		entries: make(map[string]*entry),
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *memoryCache) Get(key string) (seqta.Feed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.isExpired() {
		c.stats.Misses++
		return seqta.Feed{}, false
	}
	c.stats.Hits++
	return e.feed, true
}

func (c *memoryCache) Set(key string, feed seqta.Feed, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{
		feed:       feed,
		expiration: time.Now().Add(ttl),
	}
	c.stats.Sets++
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

func (c *memoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

// Stop stops the background cleanup goroutine.
func (c *memoryCache) Stop() {
	if c.janitor != nil {
		c.janitor.stop <- struct{}{}
	}
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

// NoOpCache is a cache that does nothing (useful for disabling caching).
type noOpCache struct{}

// NewNoOpCache creates a cache that doesn't cache anything.
func NewNoOpCache() Cache {
	return &noOpCache{}
}

func (c *noOpCache) Get(key string) (seqta.Feed, bool)                  { return seqta.Feed{}, false }
func (c *noOpCache) Set(key string, feed seqta.Feed, ttl time.Duration) {}
func (c *noOpCache) Delete(key string)                                  {}
func (c *noOpCache) Clear()                                             {}
func (c *noOpCache) Stats() Stats                                       { return Stats{} }
