// Package face holds the face enrollment model of a tenant: faces, their
// embeddings, and the immutable collection snapshot served to readers.
package face

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	// ErrStorageUnavailable reports that durable face or model storage failed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidArgument reports a malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDimensionMismatch reports an embedding whose length differs from the
	// length the collection or classifier was built with.
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrInvalidArgument)
)

// ValidationError describes which input failed validation. It matches
// ErrInvalidArgument under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidArgument }

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// RequireNonEmpty returns a ValidationError when value is blank.
func RequireNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError(field, "must not be empty")
	}
	return nil
}

// Embedding is the numeric descriptor of a face together with the version of
// the extraction model that produced it, when known.
type Embedding struct {
	Vector       []float64
	ModelVersion *string
}

// Dim returns the length of the embedding vector.
func (e Embedding) Dim() int { return len(e.Vector) }

// Clone returns a copy of e that shares no memory with it.
func (e Embedding) Clone() Embedding {
	out := Embedding{Vector: slices.Clone(e.Vector)}
	if e.ModelVersion != nil {
		v := *e.ModelVersion
		out.ModelVersion = &v
	}
	return out
}

// Face is one enrolled face of a tenant. Several faces may share a name.
type Face struct {
	ID           string
	TenantKey    string
	Name         string
	Embedding    Embedding
	RawImage     []byte
	AlignedImage []byte
	CreatedAt    time.Time
}

// Clone returns a deep copy of f.
func (f Face) Clone() Face {
	f.Embedding = f.Embedding.Clone()
	f.RawImage = slices.Clone(f.RawImage)
	f.AlignedImage = slices.Clone(f.AlignedImage)
	return f
}

// NewFace creates a face with a fresh identifier after validating its inputs.
func NewFace(tenantKey, name string, embedding Embedding, rawImage, alignedImage []byte) (*Face, error) {
	if err := RequireNonEmpty("tenant_key", tenantKey); err != nil {
		return nil, err
	}
	if err := RequireNonEmpty("name", name); err != nil {
		return nil, err
	}
	if embedding.Dim() == 0 {
		return nil, NewValidationError("embedding", "must not be empty")
	}

	return &Face{
		ID:           uuid.NewString(),
		TenantKey:    tenantKey,
		Name:         name,
		Embedding:    embedding,
		RawImage:     rawImage,
		AlignedImage: alignedImage,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
