package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/facerec/internal/application/prediction"
)

var _ prediction.Metrics = (*predictionMetrics)(nil)

type predictionMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// newPredictionMetrics creates the prediction instruments.
func newPredictionMetrics(mp metric.MeterProvider) (*predictionMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(predictionMetrics)
	var err error

	if m.requests, err = meter.Int64Counter(
		"prediction_requests_total",
		metric.WithDescription("Total number of prediction requests, by outcome"),
	); err != nil {
		return nil, err
	}

	if m.latency, err = meter.Float64Histogram(
		"prediction_duration_seconds",
		metric.WithDescription("Duration of prediction requests in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *predictionMetrics) ObservePrediction(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, duration.Seconds(), attrs)
}
