package classifier

import "context"

// Repository defines durable storage for trained model blobs, one per tenant.
type Repository interface {
	// Load returns the model stored for tenantKey.
	// Returns ErrModelNotFound when the tenant has no model.
	Load(ctx context.Context, tenantKey string) (*Model, error)

	// Save stores m, replacing any model the tenant already has.
	Save(ctx context.Context, m *Model) error

	// Delete removes the tenant's model. Deleting a missing model is not an error.
	Delete(ctx context.Context, tenantKey string) error
}
