package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	classifierApp "github.com/ahrav/facerec/internal/application/classifier"
	faceApp "github.com/ahrav/facerec/internal/application/face"
	"github.com/ahrav/facerec/internal/application/facecache"
	"github.com/ahrav/facerec/internal/application/health"
	"github.com/ahrav/facerec/internal/application/prediction"
	"github.com/ahrav/facerec/internal/config"
	"github.com/ahrav/facerec/internal/infra/metrics"
	"github.com/ahrav/facerec/pkg/common"
	"github.com/ahrav/facerec/pkg/common/logger"
	"github.com/ahrav/facerec/pkg/common/otel"
)

const (
	healthCheckInterval = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "facerec: %v\n", err)
		os.Exit(1)
	}
}

// services is what the process exposes to in-process callers.
type services struct {
	Faces       *faceApp.Service
	Predictor   *prediction.Predictor
	Classifiers *classifierApp.Registry
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, level, cfg.ServiceName, otel.GetTraceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Info(ctx, fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warn(ctx, "failed to set GOMAXPROCS", "error", err)
	}

	log.Info(ctx, "starting face recognition service",
		"database_driver", cfg.Database.Driver,
		"model_store", cfg.ModelStore,
	)

	providers := otel.NoopProviders()
	if cfg.Telemetry.Enabled {
		var shutdownTelemetry func(context.Context)
		providers, shutdownTelemetry, err = otel.InitTelemetry(log, otel.Config{
			ServiceName:      cfg.ServiceName,
			ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
			Probability:      cfg.Telemetry.SampleProbability,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			shutdownTelemetry(flushCtx)
		}()
	}
	tracer := providers.Tracer.Tracer(cfg.ServiceName)

	metricsRegistry, err := metrics.NewRegistry(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	st, err := openStores(ctx, cfg, log, tracer)
	if err != nil {
		return err
	}
	defer st.close()

	faceCache := facecache.New(st.faces, cfg.FaceCacheOptions(), metricsRegistry.FaceCache, log, tracer)
	registry := classifierApp.NewRegistry(
		st.models,
		faceCache,
		classifierApp.Config{
			Cache:        cfg.ClassifierCacheOptions(),
			TrainOnMiss:  cfg.Classifier.TrainOnMiss,
			TrainOptions: cfg.TrainOptions(),
		},
		metricsRegistry.Classifier,
		log,
		tracer,
	)
	svc := services{
		Faces:       faceApp.NewService(st.faces, faceCache, registry, log, tracer),
		Predictor:   prediction.NewPredictor(registry, prediction.NewFaceClassifierAdapter, metricsRegistry.Prediction, log, tracer),
		Classifiers: registry,
	}

	checker := health.NewChecker(st.probes, metricsRegistry.Health, log, tracer)

	var ready atomic.Bool
	ops, err := common.NewHealthServer(cfg.OpsAddr, &ready, checker.Check, log)
	if err != nil {
		return err
	}
	if err := ops.Start(); err != nil {
		return err
	}
	log.Info(ctx, "ops server listening", "addr", cfg.OpsAddr)

	warm(ctx, log, svc, cfg.WarmTenants)
	ready.Store(true)

	runHealthLoop(ctx, log, checker)

	log.Info(context.Background(), "shutting down")
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server forced to shutdown: %w", err)
	}

	log.Info(shutdownCtx, "service exited gracefully")
	return nil
}

// warm loads each tenant's faces and classifier so the first callers hit a
// populated cache. Failures are logged and do not block startup.
func warm(ctx context.Context, log *logger.Logger, svc services, tenants []string) {
	for _, tenantKey := range tenants {
		faces, err := svc.Faces.FindFaces(ctx, tenantKey)
		if err != nil {
			log.Warn(ctx, "failed to warm faces", "tenant_key", tenantKey, "error", err)
			continue
		}
		if _, err := svc.Classifiers.GetOrTrain(ctx, tenantKey); err != nil {
			log.Warn(ctx, "failed to warm classifier", "tenant_key", tenantKey, "error", err)
			continue
		}
		log.Info(ctx, "tenant warmed", "tenant_key", tenantKey, "face_count", len(faces))
	}
}

// runHealthLoop refreshes the dependency health gauge until ctx ends.
func runHealthLoop(ctx context.Context, log *logger.Logger, checker *health.Checker) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		if err := checker.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn(ctx, "dependencies unhealthy", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
