package face_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	faceService "github.com/ahrav/facerec/internal/application/face"
	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/pkg/common/logger"
)

// recorder captures the order in which collaborators are touched.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) hook(call string) func(mock.Arguments) {
	return func(mock.Arguments) { r.add(call) }
}

// MockFaceRepo is a testify mock for face.Repository.
type MockFaceRepo struct{ mock.Mock }

func (m *MockFaceRepo) Save(ctx context.Context, f *face.Face) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockFaceRepo) FindByTenant(ctx context.Context, tenantKey string) ([]face.Face, error) {
	args := m.Called(ctx, tenantKey)
	faces, _ := args.Get(0).([]face.Face)
	return faces, args.Error(1)
}

func (m *MockFaceRepo) DeleteByName(ctx context.Context, name, tenantKey string) (int64, error) {
	args := m.Called(ctx, name, tenantKey)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFaceRepo) DeleteByID(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFaceRepo) DeleteByTenant(ctx context.Context, tenantKey string) ([]face.Face, error) {
	args := m.Called(ctx, tenantKey)
	faces, _ := args.Get(0).([]face.Face)
	return faces, args.Error(1)
}

// MockCache is a testify mock for the face collection cache.
type MockCache struct{ mock.Mock }

func (m *MockCache) GetOrLoad(ctx context.Context, tenantKey string) (*face.Collection, error) {
	args := m.Called(ctx, tenantKey)
	col, _ := args.Get(0).(*face.Collection)
	return col, args.Error(1)
}

func (m *MockCache) Invalidate(ctx context.Context, tenantKey string) {
	m.Called(ctx, tenantKey)
}

// MockClassifiers is a testify mock for the classifier manager.
type MockClassifiers struct {
	mock.Mock
	rec *recorder
}

func (m *MockClassifiers) LockTenant(tenantKey string) func() {
	m.Called(tenantKey)
	return func() {
		if m.rec != nil {
			m.rec.add("unlock")
		}
	}
}

func (m *MockClassifiers) RemoveFaceClassifier(ctx context.Context, tenantKey string) error {
	args := m.Called(ctx, tenantKey)
	return args.Error(0)
}

func (m *MockClassifiers) Retrain(ctx context.Context, tenantKey string) error {
	args := m.Called(ctx, tenantKey)
	return args.Error(0)
}

type fixture struct {
	repo        *MockFaceRepo
	cache       *MockCache
	classifiers *MockClassifiers
	rec         *recorder
	svc         *faceService.Service
}

func newFixture() *fixture {
	rec := new(recorder)
	f := &fixture{
		repo:        new(MockFaceRepo),
		cache:       new(MockCache),
		classifiers: &MockClassifiers{rec: rec},
		rec:         rec,
	}
	f.svc = faceService.NewService(f.repo, f.cache, f.classifiers, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	return f
}

func (f *fixture) assertNoClassifierCalls(t *testing.T) {
	t.Helper()
	f.classifiers.AssertNotCalled(t, "LockTenant", mock.Anything)
	f.classifiers.AssertNotCalled(t, "RemoveFaceClassifier", mock.Anything, mock.Anything)
	f.classifiers.AssertNotCalled(t, "Retrain", mock.Anything, mock.Anything)
}

func tenantFaces() []face.Face {
	return []face.Face{
		{ID: "1", TenantKey: "model_key", Name: "A", Embedding: face.Embedding{Vector: []float64{1, 0}}},
		{ID: "2", TenantKey: "model_key", Name: "B", Embedding: face.Embedding{Vector: []float64{0, 1}}},
		{ID: "3", TenantKey: "model_key", Name: "C", Embedding: face.Embedding{Vector: []float64{1, 1}}},
	}
}

func TestFindFaces(t *testing.T) {
	errStore := face.ErrStorageUnavailable

	testCases := []struct {
		desc       string
		tenantKey  string
		setupMocks func(*fixture)
		want       []face.Face
		wantErr    error
	}{
		{
			desc:      "returns current collection",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.cache.On("GetOrLoad", mock.Anything, "model_key").Return(face.NewCollection(tenantFaces()), nil)
			},
			want: tenantFaces(),
		},
		{
			desc:      "storage failure surfaces",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.cache.On("GetOrLoad", mock.Anything, "model_key").Return(nil, errStore)
			},
			wantErr: face.ErrStorageUnavailable,
		},
		{
			desc:       "empty tenant key",
			tenantKey:  "",
			setupMocks: func(*fixture) {},
			wantErr:    face.ErrInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			tc.setupMocks(f)

			got, err := f.svc.FindFaces(context.Background(), tc.tenantKey)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}

			f.cache.AssertExpectations(t)
			f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
			f.cache.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
			f.assertNoClassifierCalls(t)
		})
	}
}

func TestFindNearest(t *testing.T) {
	f := newFixture()
	f.cache.On("GetOrLoad", mock.Anything, "model_key").Return(face.NewCollection(tenantFaces()), nil)

	matches, err := f.svc.FindNearest(context.Background(), "model_key", []float64{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "B", matches[0].Face.Name)

	_, err = f.svc.FindNearest(context.Background(), "model_key", []float64{0, 1, 0}, 1)
	assert.ErrorIs(t, err, face.ErrDimensionMismatch)
}

func TestAddFace(t *testing.T) {
	errDB := errors.New("insert failed")
	errTrain := errors.New("training failed")
	params := faceService.AddFaceParams{
		TenantKey: "model_key",
		Name:      "D",
		Embedding: face.Embedding{Vector: []float64{0.5, 0.5}},
	}

	testCases := []struct {
		desc       string
		params     func() faceService.AddFaceParams
		setupMocks func(*fixture)
		wantCalls  []string
		wantFace   bool
		wantErr    error
	}{
		{
			desc:   "stores then invalidates",
			params: func() faceService.AddFaceParams { return params },
			setupMocks: func(f *fixture) {
				f.repo.On("Save", mock.Anything, mock.AnythingOfType("*face.Face")).Run(f.rec.hook("save")).Return(nil)
				f.cache.On("Invalidate", mock.Anything, "model_key").Run(f.rec.hook("invalidate"))
			},
			wantCalls: []string{"save", "invalidate"},
			wantFace:  true,
		},
		{
			desc: "retrain runs after invalidation",
			params: func() faceService.AddFaceParams {
				p := params
				p.Retrain = true
				return p
			},
			setupMocks: func(f *fixture) {
				f.repo.On("Save", mock.Anything, mock.Anything).Run(f.rec.hook("save")).Return(nil)
				f.cache.On("Invalidate", mock.Anything, "model_key").Run(f.rec.hook("invalidate"))
				f.classifiers.On("Retrain", mock.Anything, "model_key").Run(f.rec.hook("retrain")).Return(nil)
			},
			wantCalls: []string{"save", "invalidate", "retrain"},
			wantFace:  true,
		},
		{
			desc: "retrain failure still returns stored face",
			params: func() faceService.AddFaceParams {
				p := params
				p.Retrain = true
				return p
			},
			setupMocks: func(f *fixture) {
				f.repo.On("Save", mock.Anything, mock.Anything).Run(f.rec.hook("save")).Return(nil)
				f.cache.On("Invalidate", mock.Anything, "model_key").Run(f.rec.hook("invalidate"))
				f.classifiers.On("Retrain", mock.Anything, "model_key").Run(f.rec.hook("retrain")).Return(errTrain)
			},
			wantCalls: []string{"save", "invalidate", "retrain"},
			wantFace:  true,
			wantErr:   errTrain,
		},
		{
			desc:   "save failure skips invalidation",
			params: func() faceService.AddFaceParams { return params },
			setupMocks: func(f *fixture) {
				f.repo.On("Save", mock.Anything, mock.Anything).Run(f.rec.hook("save")).Return(errDB)
			},
			wantCalls: []string{"save"},
			wantErr:   errDB,
		},
		{
			desc: "invalid face touches nothing",
			params: func() faceService.AddFaceParams {
				p := params
				p.Name = ""
				return p
			},
			setupMocks: func(*fixture) {},
			wantErr:    face.ErrInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			tc.setupMocks(f)

			got, err := f.svc.AddFace(context.Background(), tc.params())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tc.wantFace {
				require.NotNil(t, got)
				assert.NotEmpty(t, got.ID)
				assert.Equal(t, "model_key", got.TenantKey)
			} else {
				assert.Nil(t, got)
			}
			assert.Equal(t, tc.wantCalls, f.rec.list())
			f.repo.AssertExpectations(t)
			f.cache.AssertExpectations(t)
			f.classifiers.AssertExpectations(t)
		})
	}
}

func TestDeleteFaceByName(t *testing.T) {
	errDB := errors.New("delete failed")

	testCases := []struct {
		desc       string
		name       string
		tenantKey  string
		setupMocks func(*fixture)
		wantCalls  []string
		wantErr    error
	}{
		{
			desc:      "deletes then invalidates",
			name:      "A",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.repo.On("DeleteByName", mock.Anything, "A", "model_key").Run(f.rec.hook("delete")).Return(int64(2), nil)
				f.cache.On("Invalidate", mock.Anything, "model_key").Run(f.rec.hook("invalidate"))
			},
			wantCalls: []string{"delete", "invalidate"},
		},
		{
			desc:      "missing name is not an error",
			name:      "face_name",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.repo.On("DeleteByName", mock.Anything, "face_name", "model_key").Run(f.rec.hook("delete")).Return(int64(0), nil)
				f.cache.On("Invalidate", mock.Anything, "model_key").Run(f.rec.hook("invalidate"))
			},
			wantCalls: []string{"delete", "invalidate"},
		},
		{
			desc:      "store failure skips invalidation",
			name:      "A",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.repo.On("DeleteByName", mock.Anything, "A", "model_key").Run(f.rec.hook("delete")).Return(int64(0), errDB)
			},
			wantCalls: []string{"delete"},
			wantErr:   errDB,
		},
		{
			desc:       "empty name",
			tenantKey:  "model_key",
			setupMocks: func(*fixture) {},
			wantErr:    face.ErrInvalidArgument,
		},
		{
			desc:       "empty tenant key",
			name:       "A",
			setupMocks: func(*fixture) {},
			wantErr:    face.ErrInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			tc.setupMocks(f)

			err := f.svc.DeleteFaceByName(context.Background(), tc.name, tc.tenantKey)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, f.rec.list())
			f.repo.AssertExpectations(t)
			f.cache.AssertExpectations(t)
			f.assertNoClassifierCalls(t)
		})
	}
}

func TestDeleteFaceByNameLeavesOtherTenantsAlone(t *testing.T) {
	f := newFixture()
	f.repo.On("DeleteByName", mock.Anything, "face_name", "model_key").Return(int64(0), nil)
	f.cache.On("Invalidate", mock.Anything, "model_key")

	require.NoError(t, f.svc.DeleteFaceByName(context.Background(), "face_name", "model_key"))

	f.cache.AssertNumberOfCalls(t, "Invalidate", 1)
	f.cache.AssertNotCalled(t, "Invalidate", mock.Anything, "other_key")
}

func TestDeleteFaceByID(t *testing.T) {
	errDB := errors.New("delete failed")

	testCases := []struct {
		desc       string
		id         string
		setupMocks func(*fixture)
		wantCalls  []string
		wantErr    error
	}{
		{
			desc: "deletes then invalidates",
			id:   "2",
			setupMocks: func(f *fixture) {
				f.repo.On("DeleteByID", mock.Anything, "2").Run(f.rec.hook("delete")).Return(int64(1), nil)
				f.cache.On("Invalidate", mock.Anything, "model_key").Run(f.rec.hook("invalidate"))
			},
			wantCalls: []string{"delete", "invalidate"},
		},
		{
			desc: "store failure skips invalidation",
			id:   "2",
			setupMocks: func(f *fixture) {
				f.repo.On("DeleteByID", mock.Anything, "2").Run(f.rec.hook("delete")).Return(int64(0), errDB)
			},
			wantCalls: []string{"delete"},
			wantErr:   errDB,
		},
		{
			desc:       "empty id",
			setupMocks: func(*fixture) {},
			wantErr:    face.ErrInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			tc.setupMocks(f)

			err := f.svc.DeleteFaceByID(context.Background(), tc.id, "model_key")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, f.rec.list())
			f.repo.AssertExpectations(t)
			f.cache.AssertExpectations(t)
			f.assertNoClassifierCalls(t)
		})
	}
}

func TestDeleteFacesByModel(t *testing.T) {
	errRemove := errors.New("remove failed")
	errDB := errors.New("delete failed")

	testCases := []struct {
		desc       string
		tenantKey  string
		setupMocks func(*fixture)
		want       []face.Face
		wantCalls  []string
		wantErr    error
	}{
		{
			desc:      "removes classifier before deleting rows",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.classifiers.On("LockTenant", "model_key").Run(f.rec.hook("lock"))
				f.classifiers.On("RemoveFaceClassifier", mock.Anything, "model_key").Run(f.rec.hook("remove")).Return(nil)
				f.repo.On("DeleteByTenant", mock.Anything, "model_key").Run(f.rec.hook("delete")).Return(tenantFaces(), nil)
				f.cache.On("Invalidate", mock.Anything, "model_key").Run(f.rec.hook("invalidate"))
			},
			want:      tenantFaces(),
			wantCalls: []string{"lock", "remove", "delete", "invalidate", "unlock"},
		},
		{
			desc:      "removal failure prevents deletion",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.classifiers.On("LockTenant", "model_key").Run(f.rec.hook("lock"))
				f.classifiers.On("RemoveFaceClassifier", mock.Anything, "model_key").Run(f.rec.hook("remove")).Return(errRemove)
			},
			wantCalls: []string{"lock", "remove", "unlock"},
			wantErr:   errRemove,
		},
		{
			desc:      "deletion failure skips invalidation",
			tenantKey: "model_key",
			setupMocks: func(f *fixture) {
				f.classifiers.On("LockTenant", "model_key").Run(f.rec.hook("lock"))
				f.classifiers.On("RemoveFaceClassifier", mock.Anything, "model_key").Run(f.rec.hook("remove")).Return(nil)
				f.repo.On("DeleteByTenant", mock.Anything, "model_key").Run(f.rec.hook("delete")).Return(nil, errDB)
			},
			wantCalls: []string{"lock", "remove", "delete", "unlock"},
			wantErr:   errDB,
		},
		{
			desc:       "empty tenant key touches nothing",
			setupMocks: func(*fixture) {},
			wantErr:    face.ErrInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			tc.setupMocks(f)

			got, err := f.svc.DeleteFacesByModel(context.Background(), tc.tenantKey)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}
			assert.Equal(t, tc.wantCalls, f.rec.list())
			f.repo.AssertExpectations(t)
			f.cache.AssertExpectations(t)
			f.classifiers.AssertExpectations(t)
		})
	}
}

func TestDeleteFacesByModelRespectsCancelledRemoval(t *testing.T) {
	f := newFixture()
	f.classifiers.On("LockTenant", "model_key")
	f.classifiers.On("RemoveFaceClassifier", mock.Anything, "model_key").Return(context.Canceled)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := f.svc.DeleteFacesByModel(ctx, "model_key")
	assert.ErrorIs(t, err, context.Canceled)
	f.repo.AssertNotCalled(t, "DeleteByTenant", mock.Anything, mock.Anything)
}
