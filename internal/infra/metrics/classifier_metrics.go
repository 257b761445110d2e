package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/facerec/internal/application/classifier"
)

var _ classifier.Metrics = (*classifierMetrics)(nil)

type classifierMetrics struct {
	hits             metric.Int64Counter
	misses           metric.Int64Counter
	loadDuration     metric.Float64Histogram
	trainingDuration metric.Float64Histogram
	removals         metric.Int64Counter
}

// newClassifierMetrics creates the classifier registry instruments.
func newClassifierMetrics(mp metric.MeterProvider) (*classifierMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(classifierMetrics)
	var err error

	if m.hits, err = meter.Int64Counter(
		"classifier_cache_hits_total",
		metric.WithDescription("Total number of classifiers served from memory"),
	); err != nil {
		return nil, err
	}

	if m.misses, err = meter.Int64Counter(
		"classifier_cache_misses_total",
		metric.WithDescription("Total number of classifier lookups that required a load"),
	); err != nil {
		return nil, err
	}

	if m.loadDuration, err = meter.Float64Histogram(
		"classifier_load_duration_seconds",
		metric.WithDescription("Duration of classifier loads in seconds, by outcome"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.trainingDuration, err = meter.Float64Histogram(
		"classifier_training_duration_seconds",
		metric.WithDescription("Duration of classifier training in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.removals, err = meter.Int64Counter(
		"classifier_removals_total",
		metric.WithDescription("Total number of classifier evictions"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *classifierMetrics) IncCacheHit(ctx context.Context)  { m.hits.Add(ctx, 1) }
func (m *classifierMetrics) IncCacheMiss(ctx context.Context) { m.misses.Add(ctx, 1) }

func (m *classifierMetrics) ObserveLoadDuration(ctx context.Context, outcome string, duration time.Duration) {
	m.loadDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *classifierMetrics) ObserveTrainingDuration(ctx context.Context, duration time.Duration) {
	m.trainingDuration.Record(ctx, duration.Seconds())
}

func (m *classifierMetrics) IncRemoval(ctx context.Context) { m.removals.Add(ctx, 1) }
