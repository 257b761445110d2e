package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/facerec/internal/application/health"
)

var _ health.HealthMetrics = (*healthMetrics)(nil)

type healthMetrics struct {
	systemHealth metric.Int64Gauge
	probeFailure metric.Int64Counter
}

func newHealthMetrics(mp metric.MeterProvider) (*healthMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(healthMetrics)
	var err error

	if m.systemHealth, err = meter.Int64Gauge(
		"system_health",
		metric.WithDescription("System health status, 1 when every dependency probe passes"),
	); err != nil {
		return nil, err
	}

	if m.probeFailure, err = meter.Int64Counter(
		"health_probe_failure_total",
		metric.WithDescription("Total number of failed dependency probes"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *healthMetrics) SetSystemHealth(ctx context.Context, status bool) {
	var v int64
	if status {
		v = 1
	}
	m.systemHealth.Record(ctx, v)
}

func (m *healthMetrics) IncProbeFailure(ctx context.Context, probe string) {
	m.probeFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("probe", probe)))
}
