package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ahrav/facerec/internal/application/classifier"
	"github.com/ahrav/facerec/internal/application/prediction"
	"github.com/ahrav/facerec/internal/infra/metrics"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func histogramCount(t *testing.T, m metricdata.Metrics) uint64 {
	t.Helper()
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %s is not a float64 histogram", m.Name)

	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	return total
}

func TestRegistryRecords(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	reg, err := metrics.NewRegistry(provider)
	require.NoError(t, err)

	ctx := context.Background()
	reg.FaceCache.IncCacheHit(ctx)
	reg.FaceCache.IncCacheHit(ctx)
	reg.FaceCache.IncCacheMiss(ctx)
	reg.FaceCache.ObserveLoadDuration(ctx, 15*time.Millisecond)
	reg.FaceCache.IncLoadFailure(ctx)
	reg.FaceCache.IncInvalidation(ctx)

	reg.Classifier.IncCacheMiss(ctx)
	reg.Classifier.ObserveLoadDuration(ctx, classifier.OutcomeLoaded, time.Millisecond)
	reg.Classifier.ObserveLoadDuration(ctx, classifier.OutcomeCorrupt, time.Millisecond)
	reg.Classifier.ObserveTrainingDuration(ctx, time.Second)
	reg.Classifier.IncRemoval(ctx)

	reg.Prediction.ObservePrediction(ctx, prediction.OutcomeOK, 2*time.Millisecond)
	reg.Health.SetSystemHealth(ctx, true)
	reg.Health.IncProbeFailure(ctx, "database")

	got := collect(t, reader)

	testCases := []struct {
		name string
		want int64
	}{
		{name: "face_cache_hits_total", want: 2},
		{name: "face_cache_misses_total", want: 1},
		{name: "face_cache_load_failures_total", want: 1},
		{name: "face_cache_invalidations_total", want: 1},
		{name: "classifier_cache_misses_total", want: 1},
		{name: "classifier_removals_total", want: 1},
		{name: "prediction_requests_total", want: 1},
		{name: "health_probe_failure_total", want: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := got[tc.name]
			require.True(t, ok, "metric %s not recorded", tc.name)
			assert.Equal(t, tc.want, sumValue(t, m))
		})
	}

	assert.Equal(t, uint64(1), histogramCount(t, got["face_cache_load_duration_seconds"]))
	assert.Equal(t, uint64(2), histogramCount(t, got["classifier_load_duration_seconds"]))
	assert.Equal(t, uint64(1), histogramCount(t, got["classifier_training_duration_seconds"]))
	assert.Equal(t, uint64(1), histogramCount(t, got["prediction_duration_seconds"]))

	loadHist := got["classifier_load_duration_seconds"].Data.(metricdata.Histogram[float64])
	assert.Len(t, loadHist.DataPoints, 2, "one series per outcome")
}
