package face

import "context"

// Repository defines durable storage for enrolled faces.
// Implementations wrap driver failures in ErrStorageUnavailable.
type Repository interface {
	// Save persists a new face.
	Save(ctx context.Context, f *Face) error

	// FindByTenant returns every face enrolled for tenantKey, oldest first.
	// An unknown tenant yields an empty slice, not an error.
	FindByTenant(ctx context.Context, tenantKey string) ([]Face, error)

	// DeleteByName removes all faces of tenantKey carrying name and reports how
	// many were removed. No match is not an error.
	DeleteByName(ctx context.Context, name, tenantKey string) (int64, error)

	// DeleteByID removes the face with the given identifier. Identifiers are
	// globally unique, so the tenant is not part of the key.
	DeleteByID(ctx context.Context, id string) (int64, error)

	// DeleteByTenant removes every face of tenantKey and returns the removed rows.
	DeleteByTenant(ctx context.Context, tenantKey string) ([]Face, error)
}
