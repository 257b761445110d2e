// Package minio keeps trained model blobs as objects in a MinIO or S3 bucket.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/infra/storage"
)

var _ classifier.Repository = (*Store)(nil)

const (
	objectSuffix   = ".model"
	createdAtMeta  = "Created-At"
	blobMediaType  = "application/zstd"
	notFoundCode   = "NoSuchKey"
	notFoundStatus = "NotFound"
)

// Store implements classifier.Repository on object storage, one object per
// tenant under rootPrefix.
type Store struct {
	client     *minio.Client
	bucket     string
	rootPrefix string
	tracer     trace.Tracer
	dbAttrs    []attribute.KeyValue
}

// NewStore creates a model store writing to bucket under rootPrefix.
func NewStore(client *minio.Client, bucket, rootPrefix string, tracer trace.Tracer) *Store {
	return &Store{
		client:     client,
		bucket:     bucket,
		rootPrefix: rootPrefix,
		tracer:     tracer,
		dbAttrs: []attribute.KeyValue{
			attribute.String("db.system", "minio"),
			attribute.String("bucket", bucket),
		},
	}
}

// ObjectKey returns the object name holding tenantKey's model.
func (s *Store) ObjectKey(tenantKey string) string {
	return s.rootPrefix + url.PathEscape(tenantKey) + objectSuffix
}

// Load returns the tenant's model or classifier.ErrModelNotFound.
func (s *Store) Load(ctx context.Context, tenantKey string) (*classifier.Model, error) {
	key := s.ObjectKey(tenantKey)
	attrs := storage.Attributes(s.dbAttrs, attribute.String("tenant_key", tenantKey), attribute.String("object", key))

	var m *classifier.Model
	err := storage.ExecuteAndTrace(ctx, s.tracer, "minioModelStore.Load", attrs, func(ctx context.Context) error {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return mapNotFound(err)
		}
		defer obj.Close()

		info, err := obj.Stat()
		if err != nil {
			return mapNotFound(err)
		}
		blob, err := io.ReadAll(obj)
		if err != nil {
			return mapNotFound(err)
		}

		m = &classifier.Model{TenantKey: tenantKey, Blob: blob, CreatedAt: createdAt(info)}
		return nil
	})
	if errors.Is(err, classifier.ErrModelNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storage.Unavailable("load model", err)
	}
	return m, nil
}

// Save writes m, replacing any earlier object for the tenant.
func (s *Store) Save(ctx context.Context, m *classifier.Model) error {
	key := s.ObjectKey(m.TenantKey)
	attrs := storage.Attributes(s.dbAttrs,
		attribute.String("tenant_key", m.TenantKey),
		attribute.String("object", key),
		attribute.Int("blob_bytes", len(m.Blob)),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "minioModelStore.Save", attrs, func(ctx context.Context) error {
		stamp := m.CreatedAt
		if stamp.IsZero() {
			stamp = time.Now().UTC()
		}
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(m.Blob), int64(len(m.Blob)), minio.PutObjectOptions{
			ContentType:  blobMediaType,
			UserMetadata: map[string]string{createdAtMeta: stamp.UTC().Format(time.RFC3339Nano)},
		})
		return err
	})
	return storage.Unavailable("save model", err)
}

// Delete removes the tenant's object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, tenantKey string) error {
	key := s.ObjectKey(tenantKey)
	attrs := storage.Attributes(s.dbAttrs, attribute.String("tenant_key", tenantKey), attribute.String("object", key))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "minioModelStore.Delete", attrs, func(ctx context.Context) error {
		err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		if errors.Is(mapNotFound(err), classifier.ErrModelNotFound) {
			return nil
		}
		return err
	})
	return storage.Unavailable("delete model", err)
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return storage.Unavailable("check bucket", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return storage.Unavailable(fmt.Sprintf("create bucket %s", s.bucket), err)
	}
	return nil
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == notFoundCode || resp.Code == notFoundStatus {
		return classifier.ErrModelNotFound
	}
	return err
}

func createdAt(info minio.ObjectInfo) time.Time {
	if raw, ok := info.UserMetadata[createdAtMeta]; ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC()
		}
	}
	return info.LastModified.UTC()
}
