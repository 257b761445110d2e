// Package facecache keeps the current face collection of each tenant in memory
// and mediates every read of face data between callers and the face store.
package facecache

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/pkg/common/loadcache"
	"github.com/ahrav/facerec/pkg/common/logger"
	"github.com/ahrav/facerec/pkg/common/timeutil"
)

// Cache is a read-through, write-invalidate cache of face collections keyed
// by tenant. At most one collection is current per tenant and it is never
// returned partially built.
type Cache struct {
	store   face.Repository
	entries *loadcache.Cache[*face.Collection]
	metrics Metrics
	clock   timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures a Cache.
type Option func(*Cache)

// WithTimeProvider sets the clock used to measure load durations.
func WithTimeProvider(p timeutil.Provider) Option {
	return func(c *Cache) { c.clock = p }
}

// New creates a Cache backed by store.
func New(
	store face.Repository,
	opts loadcache.Options,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
	options ...Option,
) *Cache {
	c := &Cache{
		store:   store,
		entries: loadcache.New[*face.Collection](opts),
		metrics: metrics,
		clock:   timeutil.Default(),
		logger:  logger.With("component", "face_cache"),
		tracer:  tracer,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// GetOrLoad returns the current collection of tenantKey, loading it from the
// face store when none is cached. Concurrent cold lookups share one load.
// Load failures match face.ErrStorageUnavailable and leave no entry behind.
func (c *Cache) GetOrLoad(ctx context.Context, tenantKey string) (*face.Collection, error) {
	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "facecache.GetOrLoad", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
	))
	defer span.End()

	if col, ok := c.entries.Get(tenantKey); ok {
		c.metrics.IncCacheHit(ctx)
		span.SetAttributes(attribute.Bool("cache_hit", true), attribute.Int("face_count", col.Len()))
		return col, nil
	}
	c.metrics.IncCacheMiss(ctx)
	span.SetAttributes(attribute.Bool("cache_hit", false))

	col, err := c.entries.GetOrLoad(ctx, tenantKey, func(loadCtx context.Context) (*face.Collection, error) {
		return c.load(loadCtx, tenantKey)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load face collection")
		return nil, fmt.Errorf("failed to get faces for tenant (%s): %w", tenantKey, err)
	}
	span.SetAttributes(attribute.Int("face_count", col.Len()))

	return col, nil
}

func (c *Cache) load(ctx context.Context, tenantKey string) (*face.Collection, error) {
	start := c.clock.Now()
	faces, err := c.store.FindByTenant(ctx, tenantKey)
	c.metrics.ObserveLoadDuration(ctx, c.clock.Since(start))
	if err != nil {
		c.metrics.IncLoadFailure(ctx)
		c.logger.Error(ctx, "face collection load failed", "tenant_key", tenantKey, "error", err)
		if !errors.Is(err, face.ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %w", face.ErrStorageUnavailable, err)
		}
		return nil, err
	}

	col := face.NewCollection(faces)
	c.logger.Debug(ctx, "face collection loaded", "tenant_key", tenantKey, "face_count", col.Len())
	return col, nil
}

// Invalidate drops the cached collection of tenantKey. A load that started
// before the call is not installed. Invalidating an absent tenant is a no-op.
func (c *Cache) Invalidate(ctx context.Context, tenantKey string) {
	c.entries.Invalidate(tenantKey)
	c.metrics.IncInvalidation(ctx)
	trace.SpanFromContext(ctx).AddEvent("face cache invalidated", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
	))
	c.logger.Debug(ctx, "face cache invalidated", "tenant_key", tenantKey)
}
