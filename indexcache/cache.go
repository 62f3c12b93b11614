// Package indexcache maintains at most one IVF artifact per collection and
// schedules asynchronous rebuilds.
//
// Reads are hot-path: a lookup takes a shared lock, checks the artifact's
// fingerprint against the collection's current one, and returns a shared
// read-only handle. Builds run on background goroutines gated by a global
// in-flight semaphore and a per-collection cooldown.
package indexcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edgevec/edgevec/ivf"
)

// SourceFn extracts a build source from the live collection under its read
// lock. It returns false when the collection is gone or below the indexing
// threshold.
type SourceFn func() (ivf.Source, bool)

// Options configures a Cache.
type Options struct {
	Build ivf.BuildConfig
	// MaxInFlight bounds concurrent builds across all collections.
	MaxInFlight int
	// Cooldown throttles rebuilds of the same collection.
	Cooldown time.Duration
	Logger   *slog.Logger
}

// Stats exposes cache and build counters.
type Stats struct {
	Lookups        atomic.Uint64
	Hits           atomic.Uint64
	Misses         atomic.Uint64
	BuildRequests  atomic.Uint64
	BuildSuccesses atomic.Uint64
	BuildFailures  atomic.Uint64
	CooldownSkips  atomic.Uint64
}

// Cache holds per-collection artifacts and the build scheduler state.
type Cache struct {
	opts Options

	mu          sync.RWMutex
	artifacts   map[string]*ivf.Artifact
	building    map[string]struct{}
	lastStarted map[string]time.Time

	slots *semaphore.Weighted
	stats Stats
	log   *slog.Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a cache.
func New(opts Options) *Cache {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Build.MinIndexedPoints <= 0 {
		opts.Build = ivf.DefaultBuildConfig()
	}
	return &Cache{
		opts:        opts,
		artifacts:   make(map[string]*ivf.Artifact),
		building:    make(map[string]struct{}),
		lastStarted: make(map[string]time.Time),
		slots:       semaphore.NewWeighted(int64(opts.MaxInFlight)),
		log:         opts.Logger,
	}
}

// BuildConfig returns the build parameters the cache schedules with.
func (c *Cache) BuildConfig() ivf.BuildConfig { return c.opts.Build }

// Stats returns the cache counters.
func (c *Cache) Stats() *Stats { return &c.stats }

// Lookup returns the artifact for name if it matches fingerprint. A stale
// artifact is discarded on sight.
func (c *Cache) Lookup(name string, fingerprint uint64) *ivf.Artifact {
	c.stats.Lookups.Add(1)

	c.mu.RLock()
	artifact := c.artifacts[name]
	c.mu.RUnlock()

	if artifact != nil && artifact.Fingerprint() == fingerprint {
		c.stats.Hits.Add(1)
		return artifact
	}

	c.stats.Misses.Add(1)
	if artifact != nil {
		// Fingerprint mismatch: the artifact can never become valid for a
		// later fingerprint, so drop it.
		c.mu.Lock()
		if cur := c.artifacts[name]; cur == artifact {
			delete(c.artifacts, name)
		}
		c.mu.Unlock()
	}
	return nil
}

// Invalidate drops the artifact for name. Outstanding readers holding the
// artifact handle finish against their snapshot.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.artifacts, name)
	c.mu.Unlock()
}

// ScheduleBuild requests an asynchronous build for name. Requests are
// dropped when a build is already in flight for the collection, or counted
// as cooldown skips when the last build started too recently.
func (c *Cache) ScheduleBuild(name string, fetch SourceFn) {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	if _, inFlight := c.building[name]; inFlight {
		c.mu.Unlock()
		return
	}
	if c.opts.Cooldown > 0 {
		if last, ok := c.lastStarted[name]; ok && time.Since(last) < c.opts.Cooldown {
			c.mu.Unlock()
			c.stats.CooldownSkips.Add(1)
			return
		}
	}
	c.building[name] = struct{}{}
	c.lastStarted[name] = time.Now()
	c.mu.Unlock()

	c.stats.BuildRequests.Add(1)
	c.wg.Add(1)
	go c.runBuild(name, fetch)
}

func (c *Cache) runBuild(name string, fetch SourceFn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.building, name)
		c.mu.Unlock()
	}()

	if err := c.slots.Acquire(context.Background(), 1); err != nil {
		c.stats.BuildFailures.Add(1)
		return
	}
	defer c.slots.Release(1)

	if c.closed.Load() {
		return
	}

	src, ok := fetch()
	if !ok {
		return
	}

	artifact, err := ivf.Build(src, c.opts.Build)
	if err != nil {
		if err != ivf.ErrTooSmall {
			c.stats.BuildFailures.Add(1)
			c.log.Warn("ivf index build failed", "collection", name, "error", err)
		}
		return
	}

	c.mu.Lock()
	c.artifacts[name] = artifact
	c.mu.Unlock()
	c.stats.BuildSuccesses.Add(1)
	c.log.Debug("ivf index built",
		"collection", name,
		"points", artifact.Size(),
		"nlist", artifact.NLists(),
	)
}

// InFlight returns the number of collections with a build in flight.
func (c *Cache) InFlight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.building)
}

// Wait blocks until every scheduled build finishes (for tests and shutdown).
func (c *Cache) Wait() { c.wg.Wait() }

// Close stops accepting builds and waits for in-flight ones.
func (c *Cache) Close() {
	c.closed.Store(true)
	c.wg.Wait()
}
