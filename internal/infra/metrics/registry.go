package metrics

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/facerec/internal/application/classifier"
	"github.com/ahrav/facerec/internal/application/facecache"
	"github.com/ahrav/facerec/internal/application/health"
	"github.com/ahrav/facerec/internal/application/prediction"
)

const namespace = "facerec"

// Registry provides access to all metric implementations.
// It centralizes the creation and management of metrics instances.
type Registry struct {
	FaceCache  facecache.Metrics
	Classifier classifier.Metrics
	Prediction prediction.Metrics
	Health     health.HealthMetrics
}

// NewRegistry creates and initializes all metrics implementations.
// It uses a single meter provider to ensure consistent configuration.
func NewRegistry(mp metric.MeterProvider) (*Registry, error) {
	cacheMetrics, err := newFaceCacheMetrics(mp)
	if err != nil {
		return nil, err
	}

	classifierMetrics, err := newClassifierMetrics(mp)
	if err != nil {
		return nil, err
	}

	predictionMetrics, err := newPredictionMetrics(mp)
	if err != nil {
		return nil, err
	}

	healthMetrics, err := newHealthMetrics(mp)
	if err != nil {
		return nil, err
	}

	return &Registry{
		FaceCache:  cacheMetrics,
		Classifier: classifierMetrics,
		Prediction: predictionMetrics,
		Health:     healthMetrics,
	}, nil
}
