package resultcache

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// Defaults applied by New to unset Options fields.
const (
	DefaultTTL       = 2 * time.Minute
	DefaultHighWater = 5000
	DefaultFloor     = 3000
)

// Key identifies a request. The type is the normalized one, so callers that
// label the same request differently share an entry.
type Key struct {
	URL       string
	SourceURL string
	Type      domain.ResourceType
}

// Observer receives cache events, typically to feed metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEvicted(n int)
	CacheSize(n int)
}

type nopObserver struct{}

func (nopObserver) CacheHit()        {}
func (nopObserver) CacheMiss()       {}
func (nopObserver) CacheEvicted(int) {}
func (nopObserver) CacheSize(int)    {}

// Options configure a Cache. Zero values select the defaults.
type Options struct {
	TTL       time.Duration
	HighWater int
	Floor     int
	Clock     clock.Clock
	Observer  Observer
}

// Stats reports cumulative counters and the current size.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Cache memoizes check results for a bounded time.
//
// Eviction runs when an insert pushes the size above the high-water mark:
// expired entries go first, then the least used and oldest entries until
// the size is back at the floor.
type Cache struct {
	mu         sync.Mutex
	entries    map[Key]domain.CheckResult
	generation uint64

	ttl       time.Duration
	highWater int
	floor     int
	clock     clock.Clock
	observer  Observer

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates an empty Cache.
func New(opts Options) *Cache {
	c := &Cache{
		entries:   make(map[Key]domain.CheckResult),
		ttl:       opts.TTL,
		highWater: opts.HighWater,
		floor:     opts.Floor,
		clock:     opts.Clock,
		observer:  opts.Observer,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.highWater <= 0 {
		c.highWater = DefaultHighWater
	}
	if c.floor <= 0 {
		c.floor = DefaultFloor
	}
	if c.floor > c.highWater {
		c.floor = c.highWater
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return c
}

// GetOrCompute returns the cached value for key when it is younger than the
// TTL. Otherwise it runs compute without holding the lock and caches the
// result. A result computed across a Purge is returned but not cached.
func (c *Cache) GetOrCompute(key Key, compute func() bool) bool {
	now := c.clock.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.ComputedAt) < c.ttl {
			e.AccessCount++
			c.entries[key] = e
			c.mu.Unlock()
			c.hits.Add(1)
			c.observer.CacheHit()
			return e.Matched
		}
		delete(c.entries, key)
	}
	gen := c.generation
	c.mu.Unlock()

	c.misses.Add(1)
	c.observer.CacheMiss()
	matched := compute()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return matched
	}
	now = c.clock.Now()
	c.entries[key] = domain.CheckResult{Matched: matched, ComputedAt: now, AccessCount: 1}
	evicted := 0
	if len(c.entries) > c.highWater {
		evicted = c.evictLocked(now)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(uint64(evicted))
		c.observer.CacheEvicted(evicted)
	}
	c.observer.CacheSize(size)
	return matched
}

type entry struct {
	key Key
	res domain.CheckResult
}

func (c *Cache) evictLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.ComputedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	if len(c.entries) <= c.floor {
		return removed
	}

	all := make([]entry, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, entry{key: k, res: e})
	}
	slices.SortFunc(all, func(a, b entry) int {
		if n := cmp.Compare(a.res.AccessCount, b.res.AccessCount); n != 0 {
			return n
		}
		return a.res.ComputedAt.Compare(b.res.ComputedAt)
	})
	for _, e := range all[:len(all)-c.floor] {
		delete(c.entries, e.key)
		removed++
	}
	return removed
}

// Purge drops every entry. In-flight computations started before the purge
// are not cached.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[Key]domain.CheckResult)
	c.generation++
	c.mu.Unlock()
	c.observer.CacheSize(0)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative counters and the current size.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}
