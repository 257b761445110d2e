// Package loadcache provides a keyed read-through cache whose populations are
// collapsed per key and guarded against racing invalidations.
//
// A population captures the key's generation when it starts. Invalidate and
// Replace bump that generation, so a population that finishes afterwards
// still hands its value to the callers that were waiting on it but never
// installs it as the current entry. Generations are only tracked while a
// population of the key is running.
package loadcache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Loader produces the value for a key. It receives a context that is detached
// from the cancellation of any single caller.
type Loader[V any] func(ctx context.Context) (V, error)

// Options configures a Cache.
type Options struct {
	// TTL bounds how long an installed entry is served. Zero keeps entries until
	// they are invalidated.
	TTL time.Duration
	// CleanupInterval controls the background sweep of expired entries. Zero
	// disables the sweep; expired entries are then dropped lazily on read.
	CleanupInterval time.Duration
	// LoadTimeout bounds a shared population. Zero means unbounded.
	LoadTimeout time.Duration
}

// Cache is a concurrency-safe keyed cache of V values.
type Cache[V any] struct {
	entries     *gocache.Cache
	group       singleflight.Group
	loadTimeout time.Duration

	mu     sync.Mutex
	flight map[string]*flightState
}

// flightState tracks the populations of one key that are still running.
type flightState struct {
	gen     uint64
	running int
}

// New creates a Cache configured by opts.
func New[V any](opts Options) *Cache[V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Cache[V]{
		entries:     gocache.New(ttl, opts.CleanupInterval),
		loadTimeout: opts.LoadTimeout,
		flight:      make(map[string]*flightState),
	}
}

// Get returns the current value for key, if one is installed.
func (c *Cache[V]) Get(key string) (V, bool) {
	raw, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	v, ok := raw.(V)
	return v, ok
}

// GetOrLoad returns the current value for key or populates it with load.
// Concurrent callers for the same key share one invocation of load and all
// receive its result. A caller whose ctx is done returns ctx.Err() without
// cancelling the shared population.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		gen := c.begin(key)
		var loaded *V
		defer func() { c.end(key, gen, loaded) }()

		// A flight that finished just before this one started may have
		// installed the entry already.
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		loadCtx := context.WithoutCancel(ctx)
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, c.loadTimeout)
			defer cancel()
		}

		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		loaded = &v
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Invalidate removes the entry for key and marks any in-flight population as
// stale. It is idempotent.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.supersede(key)
	c.entries.Delete(key)
	c.group.Forget(key)
}

// Replace installs v as the current value for key, superseding any entry or
// in-flight population.
func (c *Cache[V]) Replace(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.supersede(key)
	c.entries.SetDefault(key, v)
	c.group.Forget(key)
}

// Len reports the number of installed entries, including expired entries not
// yet swept.
func (c *Cache[V]) Len() int { return c.entries.ItemCount() }

// begin registers a running population of key and returns its generation.
func (c *Cache[V]) begin(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.flight[key]
	if !ok {
		st = &flightState{}
		c.flight[key] = st
	}
	st.running++
	return st.gen
}

// end unregisters a population of key and installs v when non-nil and no
// invalidation or replacement happened since the population began.
func (c *Cache[V]) end(key string, gen uint64, v *V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.flight[key]
	if v != nil && st.gen == gen {
		c.entries.SetDefault(key, *v)
	}
	st.running--
	if st.running == 0 {
		delete(c.flight, key)
	}
}

// supersede marks every running population of key as stale. Callers hold mu.
func (c *Cache[V]) supersede(key string) {
	if st, ok := c.flight[key]; ok {
		st.gen++
	}
}
