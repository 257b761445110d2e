// Package prediction turns a tenant's classifier and a query embedding into a
// ranked list of identities.
package prediction

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	classifierDomain "github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/domain/face"
)

// ErrClassifierNotBound reports a prediction requested from an adapter that
// has no classifier bound.
var ErrClassifierNotBound = errors.New("classifier not bound")

// Adapter binds a classifier to a stateless prediction routine.
type Adapter interface {
	// SetClassifier binds c. It must be called before Predict.
	SetClassifier(c classifierDomain.Classifier)

	// Predict returns the top resultCount labels for embedding.
	Predict(embedding []float64, resultCount int) ([]classifierDomain.Prediction, error)
}

// AdapterFactory returns a fresh, unbound Adapter.
type AdapterFactory func() Adapter

// NewFaceClassifierAdapter is the AdapterFactory for FaceClassifierAdapter.
func NewFaceClassifierAdapter() Adapter { return new(FaceClassifierAdapter) }

// FaceClassifierAdapter ranks the labels of a bound classifier by probability.
// It holds no state beyond the binding and is cheap to create per request.
type FaceClassifierAdapter struct {
	classifier classifierDomain.Classifier
}

var _ Adapter = (*FaceClassifierAdapter)(nil)

// SetClassifier binds c to the adapter.
func (a *FaceClassifierAdapter) SetClassifier(c classifierDomain.Classifier) { a.classifier = c }

// Predict returns up to resultCount predictions ordered by confidence
// descending, ties broken by ascending label. A resultCount above the number
// of labels returns every label.
func (a *FaceClassifierAdapter) Predict(embedding []float64, resultCount int) ([]classifierDomain.Prediction, error) {
	if a.classifier == nil {
		return nil, ErrClassifierNotBound
	}
	if resultCount <= 0 {
		return nil, face.NewValidationError("result_count", "must be positive")
	}

	probs, err := a.classifier.Probabilities(embedding)
	if err != nil {
		return nil, err
	}
	labels := a.classifier.Labels()
	if len(probs) != len(labels) {
		return nil, fmt.Errorf("classifier returned %d probabilities for %d labels", len(probs), len(labels))
	}

	preds := make([]classifierDomain.Prediction, len(labels))
	for i, l := range labels {
		preds[i] = classifierDomain.Prediction{Label: l, Confidence: probs[i]}
	}
	slices.SortFunc(preds, func(x, y classifierDomain.Prediction) int {
		if c := cmp.Compare(y.Confidence, x.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(x.Label, y.Label)
	})

	return preds[:min(resultCount, len(preds))], nil
}
