// Package face provides the face application service: listing, enrolling, and
// deleting a tenant's faces while keeping the face cache and the tenant's
// classifier consistent with durable storage.
package face

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/pkg/common/logger"
)

// CollectionCache is the tenant face cache the service reads through and
// invalidates after every durable change.
type CollectionCache interface {
	GetOrLoad(ctx context.Context, tenantKey string) (*face.Collection, error)
	Invalidate(ctx context.Context, tenantKey string)
}

// ClassifierManager is the part of the classifier registry the service drives
// when faces change.
type ClassifierManager interface {
	// LockTenant holds off classifier populations for the tenant until the
	// returned function is called.
	LockTenant(tenantKey string) (unlock func())
	RemoveFaceClassifier(ctx context.Context, tenantKey string) error
	Retrain(ctx context.Context, tenantKey string) error
}

// AddFaceParams contains parameters for enrolling a face.
type AddFaceParams struct {
	TenantKey    string
	Name         string
	Embedding    face.Embedding
	RawImage     []byte
	AlignedImage []byte
	// Retrain refits the tenant's classifier once the face is stored.
	Retrain bool
}

// Service provides face-related application services.
type Service struct {
	store       face.Repository
	cache       CollectionCache
	classifiers ClassifierManager

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a new face service.
func NewService(
	store face.Repository,
	cache CollectionCache,
	classifiers ClassifierManager,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		store:       store,
		cache:       cache,
		classifiers: classifiers,
		logger:      logger.With("component", "face_service"),
		tracer:      tracer,
	}
}

// FindFaces returns every face of tenantKey from the current collection.
func (s *Service) FindFaces(ctx context.Context, tenantKey string) ([]face.Face, error) {
	ctx, span := s.tracer.Start(ctx, "face.FindFaces", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
	))
	defer span.End()

	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid tenant key")
		return nil, err
	}

	col, err := s.cache.GetOrLoad(ctx, tenantKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error loading faces")
		return nil, fmt.Errorf("error finding faces (%s): %w", tenantKey, err)
	}
	span.SetAttributes(attribute.Int("face_count", col.Len()))

	return col.All(), nil
}

// FindNearest returns up to k faces of tenantKey closest to vector.
func (s *Service) FindNearest(ctx context.Context, tenantKey string, vector []float64, k int) ([]face.Match, error) {
	ctx, span := s.tracer.Start(ctx, "face.FindNearest", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
		attribute.Int("k", k),
	))
	defer span.End()

	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid tenant key")
		return nil, err
	}

	col, err := s.cache.GetOrLoad(ctx, tenantKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error loading faces")
		return nil, fmt.Errorf("error finding nearest faces (%s): %w", tenantKey, err)
	}

	matches, err := col.Nearest(vector, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error searching faces")
		return nil, fmt.Errorf("error finding nearest faces (%s): %w", tenantKey, err)
	}
	return matches, nil
}

// AddFace stores a new face and invalidates the tenant's cached collection.
// When params.Retrain is set the classifier is refit afterwards; a failed
// retrain is reported together with the stored face.
func (s *Service) AddFace(ctx context.Context, params AddFaceParams) (*face.Face, error) {
	logger := logger.NewLoggerContext(s.logger.With(
		"operation_type", "add_face",
		"tenant_key", params.TenantKey,
		"name", params.Name,
	))
	ctx, span := s.tracer.Start(ctx, "face.AddFace", trace.WithAttributes(
		attribute.String("tenant_key", params.TenantKey),
		attribute.String("name", params.Name),
		attribute.Bool("retrain", params.Retrain),
	))
	defer span.End()

	f, err := face.NewFace(params.TenantKey, params.Name, params.Embedding, params.RawImage, params.AlignedImage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid face")
		return nil, err
	}
	logger.Add("face_id", f.ID)
	span.SetAttributes(attribute.String("face_id", f.ID))

	if err := s.store.Save(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error persisting face")
		return nil, fmt.Errorf("failed to persist face (%s): %w", params.TenantKey, err)
	}
	span.AddEvent("face persisted")

	s.cache.Invalidate(ctx, params.TenantKey)
	logger.Info(ctx, "face added")

	if !params.Retrain {
		return f, nil
	}
	if err := s.classifiers.Retrain(ctx, params.TenantKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error retraining classifier")
		logger.Error(ctx, "face added but retrain failed", "error", err)
		return f, fmt.Errorf("face stored but retrain failed (%s): %w", params.TenantKey, err)
	}
	span.AddEvent("classifier retrained")

	return f, nil
}

// DeleteFaceByName removes every face of tenantKey named name. Deleting a name
// that does not exist is not an error. The classifier is left untouched.
func (s *Service) DeleteFaceByName(ctx context.Context, name, tenantKey string) error {
	logger := s.logger.With("operation_type", "delete_by_name", "tenant_key", tenantKey, "name", name)
	ctx, span := s.tracer.Start(ctx, "face.DeleteFaceByName", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
		attribute.String("name", name),
	))
	defer span.End()

	if err := validateKeys("name", name, tenantKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid argument")
		return err
	}

	deleted, err := s.store.DeleteByName(ctx, name, tenantKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error deleting faces")
		return fmt.Errorf("failed to delete faces by name (%s): %w", tenantKey, err)
	}
	span.SetAttributes(attribute.Int64("deleted", deleted))

	s.cache.Invalidate(ctx, tenantKey)
	logger.Info(ctx, "faces deleted by name", "deleted", deleted)

	return nil
}

// DeleteFaceByID removes one face. The classifier is left untouched.
func (s *Service) DeleteFaceByID(ctx context.Context, id, tenantKey string) error {
	logger := s.logger.With("operation_type", "delete_by_id", "tenant_key", tenantKey, "face_id", id)
	ctx, span := s.tracer.Start(ctx, "face.DeleteFaceByID", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
		attribute.String("face_id", id),
	))
	defer span.End()

	if err := validateKeys("id", id, tenantKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid argument")
		return err
	}

	deleted, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error deleting face")
		return fmt.Errorf("failed to delete face by id (%s): %w", tenantKey, err)
	}
	span.SetAttributes(attribute.Int64("deleted", deleted))

	s.cache.Invalidate(ctx, tenantKey)
	logger.Info(ctx, "face deleted by id", "deleted", deleted)

	return nil
}

// DeleteFacesByModel removes every face of tenantKey and returns the removed
// faces. The tenant's classifier is evicted first and classifier populations
// are held off until the rows are gone and the cache is invalidated, so no
// caller observes the faces deleted while the classifier is still current.
// If eviction fails nothing is deleted.
func (s *Service) DeleteFacesByModel(ctx context.Context, tenantKey string) ([]face.Face, error) {
	logger := logger.NewLoggerContext(s.logger.With("operation_type", "delete_by_model", "tenant_key", tenantKey))
	ctx, span := s.tracer.Start(ctx, "face.DeleteFacesByModel", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
	))
	defer span.End()

	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid tenant key")
		return nil, err
	}

	unlock := s.classifiers.LockTenant(tenantKey)
	defer unlock()

	if err := s.classifiers.RemoveFaceClassifier(ctx, tenantKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error removing classifier")
		return nil, fmt.Errorf("failed to remove classifier (%s): %w", tenantKey, err)
	}
	span.AddEvent("classifier removed")

	deleted, err := s.store.DeleteByTenant(ctx, tenantKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error deleting faces")
		return nil, fmt.Errorf("failed to delete faces (%s): %w", tenantKey, err)
	}
	logger.Add("deleted", len(deleted))
	span.SetAttributes(attribute.Int("deleted", len(deleted)))
	span.AddEvent("faces deleted")

	s.cache.Invalidate(ctx, tenantKey)
	logger.Info(ctx, "faces deleted by model")

	return deleted, nil
}

func validateKeys(field, value, tenantKey string) error {
	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		return err
	}
	return face.RequireNonEmpty(field, value)
}
