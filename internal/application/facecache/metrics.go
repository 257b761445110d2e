package facecache

import (
	"context"
	"time"
)

// Metrics defines metrics for the face collection cache.
type Metrics interface {
	// IncCacheHit increments the count of lookups served from the cache.
	IncCacheHit(ctx context.Context)

	// IncCacheMiss increments the count of lookups that required a population.
	IncCacheMiss(ctx context.Context)

	// ObserveLoadDuration records how long loading a tenant's faces took.
	ObserveLoadDuration(ctx context.Context, duration time.Duration)

	// IncLoadFailure increments the count of failed populations.
	IncLoadFailure(ctx context.Context)

	// IncInvalidation increments the count of invalidations.
	IncInvalidation(ctx context.Context)
}
