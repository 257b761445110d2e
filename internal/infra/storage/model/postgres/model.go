// Package postgres provides the PostgreSQL classifier.Repository.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/infra/storage"
)

var _ classifier.Repository = (*modelStore)(nil)

// modelStore keeps one blob per tenant in the trained_models table.
type modelStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

const (
	selectModel = `SELECT tenant_key, blob, created_at FROM trained_models WHERE tenant_key = $1`

	upsertModel = `
INSERT INTO trained_models (tenant_key, blob, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (tenant_key) DO UPDATE
SET blob = EXCLUDED.blob, created_at = EXCLUDED.created_at, updated_at = NOW()`

	deleteModel = `DELETE FROM trained_models WHERE tenant_key = $1`
)

// NewModelStore creates a classifier.Repository backed by PostgreSQL.
func NewModelStore(pool *pgxpool.Pool, tracer trace.Tracer) classifier.Repository {
	return &modelStore{pool: pool, tracer: tracer}
}

// Load returns the tenant's model or classifier.ErrModelNotFound.
func (s *modelStore) Load(ctx context.Context, tenantKey string) (*classifier.Model, error) {
	dbAttrs := storage.Attributes(defaultDBAttributes, attribute.String("tenant_key", tenantKey))

	var m classifier.Model
	err := storage.ExecuteAndTrace(ctx, s.tracer, "modelStore.Load", dbAttrs, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, selectModel, tenantKey).Scan(&m.TenantKey, &m.Blob, &m.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
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
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// Save upserts m.
func (s *modelStore) Save(ctx context.Context, m *classifier.Model) error {
	dbAttrs := storage.Attributes(defaultDBAttributes,
		attribute.String("tenant_key", m.TenantKey),
		attribute.Int("blob_bytes", len(m.Blob)),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "modelStore.Save", dbAttrs, func(ctx context.Context) error {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := s.pool.Exec(ctx, upsertModel, m.TenantKey, m.Blob, createdAt)
		return err
	})
	return storage.Unavailable("save model", err)
}

// Delete removes the tenant's model, if any.
func (s *modelStore) Delete(ctx context.Context, tenantKey string) error {
	dbAttrs := storage.Attributes(defaultDBAttributes, attribute.String("tenant_key", tenantKey))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "modelStore.Delete", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, deleteModel, tenantKey)
		return err
	})
	return storage.Unavailable("delete model", err)
}
