// Package classifier defines the per-tenant face classifier: the trained model
// contract, the softmax model trained from a tenant's faces, its durable blob
// format, and the store that holds those blobs.
package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/facerec/internal/domain/face"
)

// Common errors
var (
	// ErrModelNotFound reports that no trained model exists for a tenant.
	ErrModelNotFound = errors.New("trained model not found")
	// ErrModelCorrupt reports a stored model blob that cannot be decoded.
	ErrModelCorrupt = errors.New("trained model corrupt")
	// ErrNoTrainingData reports a tenant without faces to train on.
	ErrNoTrainingData = fmt.Errorf("%w: no training data", face.ErrInvalidArgument)
)

// Classifier maps an embedding to a probability per known label.
// Implementations are immutable after construction and safe for concurrent use.
type Classifier interface {
	// Labels returns the known labels in the order Probabilities reports them.
	Labels() []string

	// Probabilities returns one probability per label for the embedding x.
	Probabilities(x []float64) ([]float64, error)
}

// Prediction is a ranked label with its confidence.
type Prediction struct {
	Label      string
	Confidence float64
}

// Model is the durable form of a trained classifier.
type Model struct {
	TenantKey string
	Blob      []byte
	CreatedAt time.Time
}
