// Package gormstore provides the gorm face.Repository used with MySQL and
// SQLite.
package gormstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/internal/infra/storage"
	"github.com/ahrav/facerec/internal/infra/storage/gormdb"
)

var _ face.Repository = (*faceStore)(nil)

type faceStore struct {
	db      *gorm.DB
	tracer  trace.Tracer
	dbAttrs []attribute.KeyValue
}

// NewFaceStore creates a face.Repository over db. The faces table must
// already be migrated, see gormdb.Open.
func NewFaceStore(db *gorm.DB, tracer trace.Tracer) face.Repository {
	return &faceStore{
		db:      db,
		tracer:  tracer,
		dbAttrs: []attribute.KeyValue{attribute.String("db.system", db.Dialector.Name())},
	}
}

func (s *faceStore) Save(ctx context.Context, f *face.Face) error {
	attrs := storage.Attributes(s.dbAttrs,
		attribute.String("tenant_key", f.TenantKey),
		attribute.String("face_id", f.ID),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormFaceStore.Save", attrs, func(ctx context.Context) error {
		rec := toRecord(f)
		return s.db.WithContext(ctx).Create(&rec).Error
	})
	return storage.Unavailable("save face", err)
}

func (s *faceStore) FindByTenant(ctx context.Context, tenantKey string) ([]face.Face, error) {
	attrs := storage.Attributes(s.dbAttrs, attribute.String("tenant_key", tenantKey))

	var recs []gormdb.FaceRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormFaceStore.FindByTenant", attrs, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("tenant_key = ?", tenantKey).
			Order("created_at ASC").Order("id ASC").
			Find(&recs).Error
	})
	if err != nil {
		return nil, storage.Unavailable("load faces", err)
	}
	return fromRecords(recs), nil
}

func (s *faceStore) DeleteByName(ctx context.Context, name, tenantKey string) (int64, error) {
	attrs := storage.Attributes(s.dbAttrs,
		attribute.String("tenant_key", tenantKey),
		attribute.String("name", name),
	)

	var deleted int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormFaceStore.DeleteByName", attrs, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).
			Where("tenant_key = ? AND name = ?", tenantKey, name).
			Delete(&gormdb.FaceRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, storage.Unavailable("delete faces by name", err)
}

func (s *faceStore) DeleteByID(ctx context.Context, id string) (int64, error) {
	attrs := storage.Attributes(s.dbAttrs, attribute.String("face_id", id))

	var deleted int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormFaceStore.DeleteByID", attrs, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&gormdb.FaceRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, storage.Unavailable("delete face by id", err)
}

// DeleteByTenant reads and removes the tenant's rows in one transaction.
// MySQL has no DELETE ... RETURNING, so the rows are locked first.
func (s *faceStore) DeleteByTenant(ctx context.Context, tenantKey string) ([]face.Face, error) {
	attrs := storage.Attributes(s.dbAttrs, attribute.String("tenant_key", tenantKey))

	var recs []gormdb.FaceRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormFaceStore.DeleteByTenant", attrs, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Where("tenant_key = ?", tenantKey).Order("created_at ASC").Order("id ASC")
			if tx.Dialector.Name() == gormdb.DriverMySQL {
				q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
			}
			if err := q.Find(&recs).Error; err != nil {
				return err
			}
			if len(recs) == 0 {
				return nil
			}
			ids := make([]string, len(recs))
			for i, r := range recs {
				ids[i] = r.ID
			}
			return tx.Where("id IN ?", ids).Delete(&gormdb.FaceRecord{}).Error
		})
	})
	if err != nil {
		return nil, storage.Unavailable("delete faces by tenant", err)
	}
	return fromRecords(recs), nil
}

func toRecord(f *face.Face) gormdb.FaceRecord {
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return gormdb.FaceRecord{
		ID:           f.ID,
		TenantKey:    f.TenantKey,
		Name:         f.Name,
		Embedding:    f.Embedding.Vector,
		ModelVersion: f.Embedding.ModelVersion,
		RawImage:     f.RawImage,
		AlignedImage: f.AlignedImage,
		CreatedAt:    createdAt,
	}
}

func fromRecords(recs []gormdb.FaceRecord) []face.Face {
	faces := make([]face.Face, len(recs))
	for i, r := range recs {
		faces[i] = face.Face{
			ID:        r.ID,
			TenantKey: r.TenantKey,
			Name:      r.Name,
			Embedding: face.Embedding{
				Vector:       r.Embedding,
				ModelVersion: r.ModelVersion,
			},
			RawImage:     r.RawImage,
			AlignedImage: r.AlignedImage,
			CreatedAt:    r.CreatedAt.UTC(),
		}
	}
	return faces
}
