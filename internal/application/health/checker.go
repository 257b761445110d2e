// Package health probes the dependencies the service needs to answer requests.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/facerec/pkg/common/logger"
)

// Probe reports whether one dependency is usable.
type Probe func(ctx context.Context) error

// Checker runs a fixed set of named probes.
type Checker struct {
	probes  map[string]Probe
	metrics HealthMetrics

	logger *logger.Logger
	tracer trace.Tracer
}

// NewChecker creates a Checker over probes, keyed by dependency name.
func NewChecker(probes map[string]Probe, metrics HealthMetrics, logger *logger.Logger, tracer trace.Tracer) *Checker {
	return &Checker{
		probes:  probes,
		metrics: metrics,
		logger:  logger.With("component", "health_checker"),
		tracer:  tracer,
	}
}

// Check runs every probe and returns their joined failures.
func (c *Checker) Check(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "health.Check", trace.WithAttributes(
		attribute.Int("probe_count", len(c.probes)),
	))
	defer span.End()

	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := c.probes[name](ctx); err != nil {
			c.metrics.IncProbeFailure(ctx, name)
			c.logger.Warn(ctx, "dependency probe failed", "probe", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	err := errors.Join(errs...)
	c.metrics.SetSystemHealth(ctx, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dependency unhealthy")
	}
	return err
}
