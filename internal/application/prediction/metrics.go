package prediction

import (
	"context"
	"time"
)

// Prediction outcomes reported to Metrics.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid_argument"
	OutcomeNotFound = "model_not_found"
	OutcomeError    = "error"
)

// Metrics defines metrics for prediction requests.
type Metrics interface {
	// ObservePrediction records the latency and outcome of one prediction.
	ObservePrediction(ctx context.Context, outcome string, duration time.Duration)
}
