// Package postgres provides the PostgreSQL face.Repository.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/internal/infra/storage"
)

var _ face.Repository = (*faceStore)(nil)

// faceStore implements face.Repository over the faces table.
type faceStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

const faceColumns = `id, tenant_key, name, embedding, model_version, raw_image, aligned_image, created_at`

const (
	insertFace = `INSERT INTO faces (` + faceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectFacesByTenant = `SELECT ` + faceColumns + ` FROM faces WHERE tenant_key = $1 ORDER BY created_at, id`

	deleteFacesByName = `DELETE FROM faces WHERE tenant_key = $1 AND name = $2`

	deleteFaceByID = `DELETE FROM faces WHERE id = $1`

	deleteFacesByTenant = `DELETE FROM faces WHERE tenant_key = $1 RETURNING ` + faceColumns
)

// NewFaceStore creates a face.Repository backed by PostgreSQL.
func NewFaceStore(pool *pgxpool.Pool, tracer trace.Tracer) face.Repository {
	return &faceStore{pool: pool, tracer: tracer}
}

// Save inserts f. A zero CreatedAt is stamped with the current time.
func (s *faceStore) Save(ctx context.Context, f *face.Face) error {
	dbAttrs := storage.Attributes(defaultDBAttributes,
		attribute.String("tenant_key", f.TenantKey),
		attribute.String("face_id", f.ID),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "faceStore.Save", dbAttrs, func(ctx context.Context) error {
		createdAt := f.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := s.pool.Exec(ctx, insertFace,
			f.ID,
			f.TenantKey,
			f.Name,
			f.Embedding.Vector,
			f.Embedding.ModelVersion,
			f.RawImage,
			f.AlignedImage,
			createdAt,
		)
		return err
	})
	return storage.Unavailable("save face", err)
}

// FindByTenant returns the tenant's faces in enrollment order.
func (s *faceStore) FindByTenant(ctx context.Context, tenantKey string) ([]face.Face, error) {
	dbAttrs := storage.Attributes(defaultDBAttributes, attribute.String("tenant_key", tenantKey))

	var faces []face.Face
	err := storage.ExecuteAndTrace(ctx, s.tracer, "faceStore.FindByTenant", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, selectFacesByTenant, tenantKey)
		if err != nil {
			return err
		}
		faces, err = collectFaces(rows)
		return err
	})
	if err != nil {
		return nil, storage.Unavailable("load faces", err)
	}
	return faces, nil
}

// DeleteByName removes every face of tenantKey called name.
func (s *faceStore) DeleteByName(ctx context.Context, name, tenantKey string) (int64, error) {
	dbAttrs := storage.Attributes(defaultDBAttributes,
		attribute.String("tenant_key", tenantKey),
		attribute.String("name", name),
	)

	var deleted int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "faceStore.DeleteByName", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, deleteFacesByName, tenantKey, name)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, storage.Unavailable("delete faces by name", err)
}

// DeleteByID removes the face with id.
func (s *faceStore) DeleteByID(ctx context.Context, id string) (int64, error) {
	dbAttrs := storage.Attributes(defaultDBAttributes, attribute.String("face_id", id))

	var deleted int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "faceStore.DeleteByID", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, deleteFaceByID, id)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, storage.Unavailable("delete face by id", err)
}

// DeleteByTenant removes every face of tenantKey and returns the removed rows.
func (s *faceStore) DeleteByTenant(ctx context.Context, tenantKey string) ([]face.Face, error) {
	dbAttrs := storage.Attributes(defaultDBAttributes, attribute.String("tenant_key", tenantKey))

	var deleted []face.Face
	err := storage.ExecuteAndTrace(ctx, s.tracer, "faceStore.DeleteByTenant", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, deleteFacesByTenant, tenantKey)
		if err != nil {
			return err
		}
		deleted, err = collectFaces(rows)
		return err
	})
	if err != nil {
		return nil, storage.Unavailable("delete faces by tenant", err)
	}
	return deleted, nil
}

func collectFaces(rows pgx.Rows) ([]face.Face, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (face.Face, error) {
		var f face.Face
		err := row.Scan(
			&f.ID,
			&f.TenantKey,
			&f.Name,
			&f.Embedding.Vector,
			&f.Embedding.ModelVersion,
			&f.RawImage,
			&f.AlignedImage,
			&f.CreatedAt,
		)
		if err != nil {
			return face.Face{}, err
		}
		f.CreatedAt = f.CreatedAt.UTC()
		return f, nil
	})
}
