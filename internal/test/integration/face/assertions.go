//go:build integration

package face

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	faceDomain "github.com/ahrav/facerec/internal/domain/face"
)

// AssertStoredNames verifies the durable store holds exactly names for tenantKey.
func AssertStoredNames(
	t *testing.T,
	ctx context.Context,
	repo faceDomain.Repository,
	tenantKey string,
	names ...string,
) {
	t.Helper()

	faces, err := repo.FindByTenant(ctx, tenantKey)
	require.NoError(t, err, "Failed to load faces from the store")

	got := make([]string, len(faces))
	for i, f := range faces {
		got[i] = f.Name
	}
	assert.ElementsMatch(t, names, got, "Stored face names should match")
}
