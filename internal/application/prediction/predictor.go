package prediction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	classifierDomain "github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/domain/face"
	"github.com/ahrav/facerec/pkg/common/logger"
	"github.com/ahrav/facerec/pkg/common/timeutil"
)

// ClassifierSource resolves the current classifier of a tenant.
type ClassifierSource interface {
	GetOrTrain(ctx context.Context, tenantKey string) (classifierDomain.Classifier, error)
}

// Predictor answers prediction requests for any tenant.
type Predictor struct {
	classifiers ClassifierSource
	newAdapter  AdapterFactory
	metrics     Metrics
	clock       timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPredictor creates a Predictor. newAdapter is called once per request,
// after the classifier has been resolved.
func NewPredictor(
	classifiers ClassifierSource,
	newAdapter AdapterFactory,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Predictor {
	return &Predictor{
		classifiers: classifiers,
		newAdapter:  newAdapter,
		metrics:     metrics,
		clock:       timeutil.Default(),
		logger:      logger.With("component", "predictor"),
		tracer:      tracer,
	}
}

// Predict ranks the identities of tenantKey for embedding. The classifier is
// resolved first, then a fresh adapter is obtained, bound, and asked to
// predict. A non-positive resultCount is rejected before any of that happens.
func (p *Predictor) Predict(
	ctx context.Context,
	tenantKey string,
	embedding []float64,
	resultCount int,
) ([]classifierDomain.Prediction, error) {
	start := p.clock.Now()
	ctx, span := p.tracer.Start(ctx, "prediction.Predict", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
		attribute.Int("result_count", resultCount),
		attribute.Int("embedding_dim", len(embedding)),
	))
	defer span.End()

	preds, err := p.predict(ctx, tenantKey, embedding, resultCount)
	p.metrics.ObservePrediction(ctx, outcomeOf(err), p.clock.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prediction failed")
		p.logger.Warn(ctx, "prediction failed", "tenant_key", tenantKey, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("prediction_count", len(preds)))

	return preds, nil
}

func (p *Predictor) predict(
	ctx context.Context,
	tenantKey string,
	embedding []float64,
	resultCount int,
) ([]classifierDomain.Prediction, error) {
	if resultCount <= 0 {
		return nil, face.NewValidationError("result_count", "must be positive")
	}
	if err := face.RequireNonEmpty("tenant_key", tenantKey); err != nil {
		return nil, err
	}

	c, err := p.classifiers.GetOrTrain(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).AddEvent("classifier resolved")

	adapter := p.newAdapter()
	adapter.SetClassifier(c)

	preds, err := adapter.Predict(embedding, resultCount)
	if err != nil {
		return nil, fmt.Errorf("failed to predict for tenant (%s): %w", tenantKey, err)
	}
	return preds, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, face.ErrInvalidArgument):
		return OutcomeInvalid
	case errors.Is(err, classifierDomain.ErrModelNotFound):
		return OutcomeNotFound
	default:
		return OutcomeError
	}
}
