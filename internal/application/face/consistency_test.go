package face_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/facerec/internal/application/classifier"
	faceService "github.com/ahrav/facerec/internal/application/face"
	"github.com/ahrav/facerec/internal/application/facecache"
	classifierDomain "github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/pkg/common/loadcache"
	"github.com/ahrav/facerec/pkg/common/logger"
)

// memFaces is an in-memory face.Repository. onDeleteTenant runs while the
// tenant's rows are being removed; onFind runs after a tenant's rows were read
// and before they are returned.
type memFaces struct {
	mu             sync.Mutex
	faces          map[string][]face.Face
	onDeleteTenant func(ctx context.Context)
	onFind         func()
}

func (m *memFaces) Save(_ context.Context, f *face.Face) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[f.TenantKey] = append(m.faces[f.TenantKey], *f)
	return nil
}

func (m *memFaces) FindByTenant(_ context.Context, tenantKey string) ([]face.Face, error) {
	m.mu.Lock()
	found := append([]face.Face(nil), m.faces[tenantKey]...)
	onFind := m.onFind
	m.mu.Unlock()

	if onFind != nil {
		onFind()
	}
	return found, nil
}

func (m *memFaces) DeleteByName(_ context.Context, name, tenantKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []face.Face
	for _, f := range m.faces[tenantKey] {
		if f.Name != name {
			kept = append(kept, f)
		}
	}
	n := int64(len(m.faces[tenantKey]) - len(kept))
	m.faces[tenantKey] = kept
	return n, nil
}

func (m *memFaces) DeleteByID(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, faces := range m.faces {
		for i, f := range faces {
			if f.ID == id {
				m.faces[key] = append(faces[:i:i], faces[i+1:]...)
				return 1, nil
			}
		}
	}
	return 0, nil
}

func (m *memFaces) DeleteByTenant(ctx context.Context, tenantKey string) ([]face.Face, error) {
	if m.onDeleteTenant != nil {
		m.onDeleteTenant(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := m.faces[tenantKey]
	delete(m.faces, tenantKey)
	return deleted, nil
}

func (m *memFaces) count(tenantKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.faces[tenantKey])
}

// memModels serves a model only while its tenant still has faces, the way
// the training pipeline keeps blobs in step with enrollment.
type memModels struct {
	faces *memFaces
	blob  []byte
}

func (m *memModels) Load(_ context.Context, tenantKey string) (*classifierDomain.Model, error) {
	if m.faces.count(tenantKey) == 0 {
		return nil, classifierDomain.ErrModelNotFound
	}
	return &classifierDomain.Model{TenantKey: tenantKey, Blob: m.blob}, nil
}

func (m *memModels) Save(context.Context, *classifierDomain.Model) error { return nil }
func (m *memModels) Delete(context.Context, string) error                { return nil }

type nopCacheMetrics struct{}

func (nopCacheMetrics) IncCacheHit(context.Context)                        {}
func (nopCacheMetrics) IncCacheMiss(context.Context)                       {}
func (nopCacheMetrics) ObserveLoadDuration(context.Context, time.Duration) {}
func (nopCacheMetrics) IncLoadFailure(context.Context)                     {}
func (nopCacheMetrics) IncInvalidation(context.Context)                    {}

type nopRegistryMetrics struct{}

func (nopRegistryMetrics) IncCacheHit(context.Context)                                {}
func (nopRegistryMetrics) IncCacheMiss(context.Context)                               {}
func (nopRegistryMetrics) ObserveLoadDuration(context.Context, string, time.Duration) {}
func (nopRegistryMetrics) ObserveTrainingDuration(context.Context, time.Duration)     {}
func (nopRegistryMetrics) IncRemoval(context.Context)                                 {}

func TestDeleteFacesByModelHidesClassifierDuringDeletion(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	log := logger.Noop()

	trained, err := classifierDomain.Train(tenantFaces(), classifierDomain.DefaultTrainOptions())
	require.NoError(t, err)
	blob, err := classifierDomain.Encode(trained)
	require.NoError(t, err)

	store := &memFaces{faces: map[string][]face.Face{"model_key": tenantFaces()}}
	cache := facecache.New(store, loadcache.Options{}, nopCacheMetrics{}, log, tracer)
	registry := classifier.NewRegistry(
		&memModels{faces: store, blob: blob},
		cache,
		classifier.Config{TrainOptions: classifierDomain.DefaultTrainOptions()},
		nopRegistryMetrics{},
		log,
		tracer,
	)
	svc := faceService.NewService(store, cache, registry, log, tracer)

	ctx := context.Background()
	_, err = registry.GetOrTrain(ctx, "model_key")
	require.NoError(t, err)
	faces, err := svc.FindFaces(ctx, "model_key")
	require.NoError(t, err)
	require.Len(t, faces, 3)

	observed := make(chan error, 1)
	store.onDeleteTenant = func(context.Context) {
		obsCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		c, err := registry.GetOrTrain(obsCtx, "model_key")
		if c != nil {
			t.Error("classifier observable while faces were being deleted")
		}
		observed <- err
	}

	deleted, err := svc.DeleteFacesByModel(ctx, "model_key")
	require.NoError(t, err)
	assert.Len(t, deleted, 3)
	assert.ErrorIs(t, <-observed, context.DeadlineExceeded)

	faces, err = svc.FindFaces(ctx, "model_key")
	require.NoError(t, err)
	assert.Empty(t, faces)

	_, err = registry.GetOrTrain(ctx, "model_key")
	assert.ErrorIs(t, err, classifierDomain.ErrModelNotFound)
}

func TestAddFaceWithRetrainServesNewLabel(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	log := logger.Noop()

	store := &memFaces{faces: map[string][]face.Face{"model_key": tenantFaces()}}
	cache := facecache.New(store, loadcache.Options{}, nopCacheMetrics{}, log, tracer)
	registry := classifier.NewRegistry(
		&memModels{faces: store},
		cache,
		classifier.Config{TrainOptions: classifierDomain.DefaultTrainOptions()},
		nopRegistryMetrics{},
		log,
		tracer,
	)
	svc := faceService.NewService(store, cache, registry, log, tracer)
	ctx := context.Background()

	_, err := svc.FindFaces(ctx, "model_key")
	require.NoError(t, err)

	added, err := svc.AddFace(ctx, faceService.AddFaceParams{
		TenantKey: "model_key",
		Name:      "D",
		Embedding: face.Embedding{Vector: []float64{-1, -1}},
		Retrain:   true,
	})
	require.NoError(t, err)

	faces, err := svc.FindFaces(ctx, "model_key")
	require.NoError(t, err)
	assert.Len(t, faces, 4)
	assert.Equal(t, added.ID, faces[3].ID)

	c, err := registry.GetOrTrain(ctx, "model_key")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, c.Labels())
}

func TestOverlappingAddFaceRetrainsServeEveryLabel(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	log := logger.Noop()

	var reads atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &memFaces{
		faces: map[string][]face.Face{"model_key": tenantFaces()},
		onFind: func() {
			if reads.Add(1) == 1 {
				close(entered)
				<-release
			}
		},
	}
	cache := facecache.New(store, loadcache.Options{}, nopCacheMetrics{}, log, tracer)
	registry := classifier.NewRegistry(
		&memModels{faces: store},
		cache,
		classifier.Config{TrainOptions: classifierDomain.DefaultTrainOptions()},
		nopRegistryMetrics{},
		log,
		tracer,
	)
	svc := faceService.NewService(store, cache, registry, log, tracer)
	ctx := context.Background()

	enroll := func(name string, vector ...float64) <-chan error {
		errc := make(chan error, 1)
		go func() {
			_, err := svc.AddFace(ctx, faceService.AddFaceParams{
				TenantKey: "model_key",
				Name:      name,
				Embedding: face.Embedding{Vector: vector},
				Retrain:   true,
			})
			errc <- err
		}()
		return errc
	}

	first := enroll("D", -1, -1)
	<-entered
	second := enroll("E", 1, -1)

	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)

	c, err := registry.GetOrTrain(ctx, "model_key")
	require.NoError(t, err)
	assert.Contains(t, c.Labels(), "D")
	assert.Contains(t, c.Labels(), "E")
}
