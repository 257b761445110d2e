// Package classifier manages the lifecycle of per-tenant face classifiers:
// loading them from the trained model store, training and persisting new
// ones, and evicting them when a tenant's faces go away.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	classifierDomain "github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/pkg/common/keylock"
	"github.com/ahrav/facerec/pkg/common/loadcache"
	"github.com/ahrav/facerec/pkg/common/logger"
	"github.com/ahrav/facerec/pkg/common/timeutil"
)

// CollectionProvider supplies the current face collection of a tenant.
type CollectionProvider interface {
	GetOrLoad(ctx context.Context, tenantKey string) (*face.Collection, error)
}

// Config controls how the registry caches and trains classifiers.
type Config struct {
	Cache loadcache.Options
	// TrainOnMiss trains and persists a classifier when the store has none
	// for the tenant, instead of reporting ErrModelNotFound.
	TrainOnMiss  bool
	TrainOptions classifierDomain.TrainOptions
}

// Registry holds at most one current classifier per tenant. Lookups populate
// lazily and concurrent lookups of a tenant collapse into one.
type Registry struct {
	models  classifierDomain.Repository
	faces   CollectionProvider
	entries *loadcache.Cache[classifierDomain.Classifier]
	locks   *keylock.Map
	cfg     Config

	// queued holds, per tenant, the retrain run that has not yet read the
	// tenant's faces. Only such a run may be joined.
	queuedMu sync.Mutex
	queued   map[string]*retrainRun

	metrics Metrics
	clock   timeutil.Provider
	logger  *logger.Logger
	tracer  trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeProvider sets the clock used to measure load and training durations.
func WithTimeProvider(p timeutil.Provider) Option {
	return func(r *Registry) { r.clock = p }
}

// NewRegistry creates a Registry over the trained model store.
func NewRegistry(
	models classifierDomain.Repository,
	faces CollectionProvider,
	cfg Config,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
	options ...Option,
) *Registry {
	r := &Registry{
		models:  models,
		faces:   faces,
		entries: loadcache.New[classifierDomain.Classifier](cfg.Cache),
		locks:   keylock.New(),
		cfg:     cfg,
		queued:  make(map[string]*retrainRun),
		metrics: metrics,
		clock:   timeutil.Default(),
		logger:  logger.With("component", "classifier_registry"),
		tracer:  tracer,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// GetOrTrain returns the current classifier of tenantKey, loading it from the
// trained model store on a miss. A tenant without a stored model yields
// ErrModelNotFound unless TrainOnMiss is set; an undecodable model yields
// ErrModelCorrupt and is never retrained implicitly.
func (r *Registry) GetOrTrain(ctx context.Context, tenantKey string) (classifierDomain.Classifier, error) {
	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "classifier.GetOrTrain", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
	))
	defer span.End()

	if c, ok := r.entries.Get(tenantKey); ok {
		r.metrics.IncCacheHit(ctx)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return c, nil
	}
	r.metrics.IncCacheMiss(ctx)
	span.SetAttributes(attribute.Bool("cache_hit", false))

	c, err := r.entries.GetOrLoad(ctx, tenantKey, func(loadCtx context.Context) (classifierDomain.Classifier, error) {
		unlock := r.locks.RLock(tenantKey)
		defer unlock()
		return r.load(loadCtx, tenantKey)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get classifier")
		return nil, fmt.Errorf("failed to get classifier for tenant (%s): %w", tenantKey, err)
	}
	span.SetAttributes(attribute.Int("label_count", len(c.Labels())))

	return c, nil
}

func (r *Registry) load(ctx context.Context, tenantKey string) (classifierDomain.Classifier, error) {
	start := r.clock.Now()
	outcome := OutcomeError
	defer func() { r.metrics.ObserveLoadDuration(ctx, outcome, r.clock.Since(start)) }()

	m, err := r.models.Load(ctx, tenantKey)
	switch {
	case errors.Is(err, classifierDomain.ErrModelNotFound):
		if !r.cfg.TrainOnMiss {
			outcome = OutcomeNotFound
			return nil, err
		}
		trained, err := r.train(ctx, tenantKey)
		if err != nil {
			return nil, err
		}
		outcome = OutcomeTrained
		r.logger.Info(ctx, "classifier trained on miss", "tenant_key", tenantKey)
		return trained, nil
	case err != nil:
		return nil, storageError(err)
	}

	c, err := classifierDomain.Decode(m.Blob)
	if err != nil {
		outcome = OutcomeCorrupt
		r.logger.Error(ctx, "stored classifier is corrupt", "tenant_key", tenantKey, "error", err)
		return nil, err
	}
	outcome = OutcomeLoaded
	r.logger.Debug(ctx, "classifier loaded", "tenant_key", tenantKey, "labels", len(c.Labels()))
	return c, nil
}

// train fits a classifier to the tenant's current faces and persists it.
func (r *Registry) train(ctx context.Context, tenantKey string) (*classifierDomain.Softmax, error) {
	col, err := r.faces.GetOrLoad(ctx, tenantKey)
	if err != nil {
		return nil, err
	}

	start := r.clock.Now()
	m, err := classifierDomain.Train(col.All(), r.cfg.TrainOptions)
	r.metrics.ObserveTrainingDuration(ctx, r.clock.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to train classifier: %w", err)
	}

	blob, err := classifierDomain.Encode(m)
	if err != nil {
		return nil, err
	}
	if err := r.models.Save(ctx, &classifierDomain.Model{
		TenantKey: tenantKey,
		Blob:      blob,
		CreatedAt: r.clock.Now(),
	}); err != nil {
		return nil, storageError(err)
	}
	return m, nil
}

// retrainRun is one training pass for a tenant shared by every Retrain that
// joined it while it was queued.
type retrainRun struct {
	done chan struct{}
	err  error
}

// Retrain fits a new classifier to the tenant's current faces, persists it,
// and installs it as the current classifier. A Retrain joins a queued run of
// the same tenant only while that run has not read the faces yet, so every
// face saved before the call is part of the classifier it waits for. Runs
// hold the tenant lock and execute one at a time.
func (r *Registry) Retrain(ctx context.Context, tenantKey string) error {
	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "classifier.Retrain", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
	))
	defer span.End()

	r.queuedMu.Lock()
	run, joined := r.queued[tenantKey]
	if !joined {
		run = &retrainRun{done: make(chan struct{})}
		r.queued[tenantKey] = run
		go r.runRetrain(context.WithoutCancel(ctx), tenantKey, run)
	}
	r.queuedMu.Unlock()
	span.SetAttributes(attribute.Bool("joined", joined))

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-run.done:
		err = run.err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to retrain classifier")
		return fmt.Errorf("failed to retrain classifier for tenant (%s): %w", tenantKey, err)
	}

	span.AddEvent("classifier retrained")
	r.logger.Info(ctx, "classifier retrained", "tenant_key", tenantKey)
	return nil
}

func (r *Registry) runRetrain(ctx context.Context, tenantKey string, run *retrainRun) {
	defer close(run.done)

	unlock := r.locks.Lock(tenantKey)
	defer unlock()

	// Later callers must start a new run from here on: this one is about to
	// read the faces.
	r.queuedMu.Lock()
	if r.queued[tenantKey] == run {
		delete(r.queued, tenantKey)
	}
	r.queuedMu.Unlock()

	m, err := r.train(ctx, tenantKey)
	if err != nil {
		run.err = err
		return
	}
	r.entries.Replace(tenantKey, m)
}

// RemoveFaceClassifier evicts the in-memory classifier of tenantKey and
// discards any population in flight. The stored model is left in place.
// Removing an absent classifier is not an error.
func (r *Registry) RemoveFaceClassifier(ctx context.Context, tenantKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		return err
	}

	r.entries.Invalidate(tenantKey)
	r.metrics.IncRemoval(ctx)
	trace.SpanFromContext(ctx).AddEvent("classifier removed", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
	))
	r.logger.Debug(ctx, "classifier removed", "tenant_key", tenantKey)
	return nil
}

// LockTenant takes the tenant's write lock, holding off classifier
// populations and retrains until the returned function is called.
// RemoveFaceClassifier may be called while the lock is held.
func (r *Registry) LockTenant(tenantKey string) (unlock func()) {
	return r.locks.Lock(tenantKey)
}

func storageError(err error) error {
	if errors.Is(err, face.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", face.ErrStorageUnavailable, err)
}
