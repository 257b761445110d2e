package health

import "context"

// HealthMetrics defines metrics for dependency health.
type HealthMetrics interface {
	// SetSystemHealth records whether every dependency probe last passed.
	SetSystemHealth(ctx context.Context, status bool)

	// IncProbeFailure increments the count of failed probes of one dependency.
	IncProbeFailure(ctx context.Context, probe string)
}
