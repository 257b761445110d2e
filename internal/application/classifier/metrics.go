package classifier

import (
	"context"
	"time"
)

// Load outcomes reported to Metrics.ObserveLoadDuration.
const (
	OutcomeLoaded   = "loaded"
	OutcomeTrained  = "trained"
	OutcomeNotFound = "not_found"
	OutcomeCorrupt  = "corrupt"
	OutcomeError    = "error"
)

// Metrics defines metrics for the classifier registry.
type Metrics interface {
	// IncCacheHit increments the count of classifiers served from memory.
	IncCacheHit(ctx context.Context)

	// IncCacheMiss increments the count of lookups that required a population.
	IncCacheMiss(ctx context.Context)

	// ObserveLoadDuration records how long a population took and how it ended.
	ObserveLoadDuration(ctx context.Context, outcome string, duration time.Duration)

	// ObserveTrainingDuration records how long training a classifier took.
	ObserveTrainingDuration(ctx context.Context, duration time.Duration)

	// IncRemoval increments the count of classifier evictions.
	IncRemoval(ctx context.Context)
}
