// Package gormstore provides the gorm classifier.Repository used with MySQL
// and SQLite.
package gormstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/infra/storage"
	"github.com/ahrav/facerec/internal/infra/storage/gormdb"
)

var _ classifier.Repository = (*modelStore)(nil)

type modelStore struct {
	db      *gorm.DB
	tracer  trace.Tracer
	dbAttrs []attribute.KeyValue
}

// NewModelStore creates a classifier.Repository over db.
func NewModelStore(db *gorm.DB, tracer trace.Tracer) classifier.Repository {
	return &modelStore{
		db:      db,
		tracer:  tracer,
		dbAttrs: []attribute.KeyValue{attribute.String("db.system", db.Dialector.Name())},
	}
}

func (s *modelStore) Load(ctx context.Context, tenantKey string) (*classifier.Model, error) {
	attrs := storage.Attributes(s.dbAttrs, attribute.String("tenant_key", tenantKey))

	var rec gormdb.ModelRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormModelStore.Load", attrs, func(ctx context.Context) error {
		err := s.db.WithContext(ctx).Where("tenant_key = ?", tenantKey).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return classifier.ErrModelNotFound
		}
		return err
	})
	if errors.Is(err, classifier.ErrModelNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storage.Unavailable("load model", err)
	}
	return &classifier.Model{TenantKey: rec.TenantKey, Blob: rec.Blob, CreatedAt: rec.CreatedAt.UTC()}, nil
}

func (s *modelStore) Save(ctx context.Context, m *classifier.Model) error {
	attrs := storage.Attributes(s.dbAttrs,
		attribute.String("tenant_key", m.TenantKey),
		attribute.Int("blob_bytes", len(m.Blob)),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormModelStore.Save", attrs, func(ctx context.Context) error {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rec := gormdb.ModelRecord{TenantKey: m.TenantKey, Blob: m.Blob, CreatedAt: createdAt}
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"blob", "created_at", "updated_at"}),
		}).Create(&rec).Error
	})
	return storage.Unavailable("save model", err)
}

func (s *modelStore) Delete(ctx context.Context, tenantKey string) error {
	attrs := storage.Attributes(s.dbAttrs, attribute.String("tenant_key", tenantKey))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "gormModelStore.Delete", attrs, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Where("tenant_key = ?", tenantKey).Delete(&gormdb.ModelRecord{}).Error
	})
	return storage.Unavailable("delete model", err)
}
