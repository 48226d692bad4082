package unpaywall

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// CachedLookup memoizes successful lookups per DOI for a fixed TTL.
// Failures are never cached. With a non-positive TTL every call goes to
// the wrapped Lookuper. Expired entries are dropped when hit and swept at
// most once per TTL on insert, so the map holds roughly one TTL of lookups.
type CachedLookup struct {
	next Lookuper
	ttl  time.Duration
	now  func() time.Time

	mu        sync.Mutex
	entries   map[string]cacheEntry
	lastSweep time.Time
}

type cacheEntry struct {
	resp    *Response
	expires time.Time
}

var _ Lookuper = (*CachedLookup)(nil)

// NewCachedLookup wraps next with a TTL cache.
func NewCachedLookup(next Lookuper, ttl time.Duration) *CachedLookup {
	return &CachedLookup{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Lookup returns a cached response for doi when one is fresh, otherwise
// delegates and caches the result.
func (c *CachedLookup) Lookup(ctx context.Context, doi string) (*Response, error) {
	if c.ttl <= 0 {
		return c.next.Lookup(ctx, doi)
	}

	key := strings.ToLower(domain.NormalizeDOI(doi))
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		if now.Before(entry.expires) {
			c.mu.Unlock()
			return entry.resp, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	resp, err := c.next.Lookup(ctx, doi)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now = c.now()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweep(now)
	}
	c.entries[key] = cacheEntry{resp: resp, expires: now.Add(c.ttl)}
	return resp, nil
}

// sweep drops expired entries. c.mu must be held.
func (c *CachedLookup) sweep(now time.Time) {
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
		}
	}
	c.lastSweep = now
}

// size reports the number of cached entries.
func (c *CachedLookup) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
