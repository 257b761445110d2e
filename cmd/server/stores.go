package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/facerec/internal/application/health"
	"github.com/ahrav/facerec/internal/config"
	classifierDomain "github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/internal/domain/face"
	faceGorm "github.com/ahrav/facerec/internal/infra/storage/face/gormstore"
	facePostgres "github.com/ahrav/facerec/internal/infra/storage/face/postgres"
	"github.com/ahrav/facerec/internal/infra/storage/gormdb"
	modelGorm "github.com/ahrav/facerec/internal/infra/storage/model/gormstore"
	modelMinio "github.com/ahrav/facerec/internal/infra/storage/model/minio"
	modelPostgres "github.com/ahrav/facerec/internal/infra/storage/model/postgres"
	"github.com/ahrav/facerec/pkg/common/logger"
)

// stores holds the durable face and model stores selected by configuration
// together with the probes that check them.
type stores struct {
	faces  face.Repository
	models classifierDomain.Repository
	probes map[string]health.Probe
	close  func()
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (*stores, error) {
	var (
		st  *stores
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		st, err = openPostgres(ctx, cfg, tracer)
	default:
		st, err = openGorm(cfg, log, tracer)
	}
	if err != nil {
		return nil, err
	}

	if cfg.ModelStore == config.ModelStoreMinio {
		models, err := openMinio(ctx, cfg, tracer)
		if err != nil {
			st.close()
			return nil, err
		}
		st.models = models
		st.probes["model_store"] = func(ctx context.Context) error {
			_, err := models.Load(ctx, "__probe__")
			if err != nil && !errors.Is(err, classifierDomain.ErrModelNotFound) {
				return err
			}
			return nil
		}
	}
	return st, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*stores, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := runMigrations(ctx, pool, cfg.Database.MigrationsPath); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &stores{
		faces:  facePostgres.NewFaceStore(pool, tracer),
		models: modelPostgres.NewModelStore(pool, tracer),
		probes: map[string]health.Probe{"database": pool.Ping},
		close:  pool.Close,
	}, nil
}

func openGorm(cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (*stores, error) {
	db, err := gormdb.Open(cfg.Database.Driver, cfg.Database.URL, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access %s pool: %w", cfg.Database.Driver, err)
	}
	sqlDB.SetMaxOpenConns(int(cfg.Database.MaxConns))
	sqlDB.SetMaxIdleConns(int(cfg.Database.MinConns))

	return &stores{
		faces:  faceGorm.NewFaceStore(db, tracer),
		models: modelGorm.NewModelStore(db, tracer),
		probes: map[string]health.Probe{"database": sqlDB.PingContext},
		close:  func() { _ = sqlDB.Close() },
	}, nil
}

func openMinio(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*modelMinio.Store, error) {
	client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store := modelMinio.NewStore(client, cfg.Minio.Bucket, cfg.Minio.Prefix, tracer)
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// runMigrations applies every pending up migration found at path.
func runMigrations(ctx context.Context, pool *pgxpool.Pool, path string) error {
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("could not reach database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
