package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/facerec/internal/application/facecache"
)

var _ facecache.Metrics = (*faceCacheMetrics)(nil)

type faceCacheMetrics struct {
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	loadDuration  metric.Float64Histogram
	loadFailures  metric.Int64Counter
	invalidations metric.Int64Counter
}

// newFaceCacheMetrics creates the face collection cache instruments.
func newFaceCacheMetrics(mp metric.MeterProvider) (*faceCacheMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(faceCacheMetrics)
	var err error

	if m.hits, err = meter.Int64Counter(
		"face_cache_hits_total",
		metric.WithDescription("Total number of face collection lookups served from memory"),
	); err != nil {
		return nil, err
	}

	if m.misses, err = meter.Int64Counter(
		"face_cache_misses_total",
		metric.WithDescription("Total number of face collection lookups that required a load"),
	); err != nil {
		return nil, err
	}

	if m.loadDuration, err = meter.Float64Histogram(
		"face_cache_load_duration_seconds",
		metric.WithDescription("Duration of face collection loads in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.loadFailures, err = meter.Int64Counter(
		"face_cache_load_failures_total",
		metric.WithDescription("Total number of failed face collection loads"),
	); err != nil {
		return nil, err
	}

	if m.invalidations, err = meter.Int64Counter(
		"face_cache_invalidations_total",
		metric.WithDescription("Total number of face collection invalidations"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *faceCacheMetrics) IncCacheHit(ctx context.Context)  { m.hits.Add(ctx, 1) }
func (m *faceCacheMetrics) IncCacheMiss(ctx context.Context) { m.misses.Add(ctx, 1) }

func (m *faceCacheMetrics) ObserveLoadDuration(ctx context.Context, duration time.Duration) {
	m.loadDuration.Record(ctx, duration.Seconds())
}

func (m *faceCacheMetrics) IncLoadFailure(ctx context.Context)  { m.loadFailures.Add(ctx, 1) }
func (m *faceCacheMetrics) IncInvalidation(ctx context.Context) { m.invalidations.Add(ctx, 1) }
