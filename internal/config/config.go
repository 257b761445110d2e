// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	classifierDomain "github.com/ahrav/facerec/internal/domain/classifier"
	"github.com/ahrav/facerec/pkg/common/loadcache"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Model stores.
const (
	ModelStoreDatabase = "database"
	ModelStoreMinio    = "minio"
)

// Config is the full service configuration.
type Config struct {
	ServiceName string `mapstructure:"SERVICE_NAME" validate:"required"`
	LogLevel    string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	OpsAddr     string `mapstructure:"OPS_ADDR" validate:"required"`

	// WarmTenants are loaded into the face and classifier caches at startup.
	WarmTenants []string `mapstructure:"WARM_TENANTS" validate:"dive,required"`

	Database   DatabaseConfig   `mapstructure:",squash"`
	ModelStore string           `mapstructure:"MODEL_STORE" validate:"oneof=database minio"`
	Minio      MinioConfig      `mapstructure:",squash" validate:"-"`
	Cache      CacheConfig      `mapstructure:",squash"`
	Classifier ClassifierConfig `mapstructure:",squash"`
	Telemetry  TelemetryConfig  `mapstructure:",squash"`
}

// DatabaseConfig selects and sizes the face database.
type DatabaseConfig struct {
	Driver         string `mapstructure:"DATABASE_DRIVER" validate:"oneof=postgres mysql sqlite"`
	URL            string `mapstructure:"DATABASE_URL" validate:"required"`
	MinConns       int32  `mapstructure:"DATABASE_MIN_CONNS" validate:"gte=0"`
	MaxConns       int32  `mapstructure:"DATABASE_MAX_CONNS" validate:"gte=1,gtefield=MinConns"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH" validate:"required"`
}

// MinioConfig locates the bucket holding model blobs.
type MinioConfig struct {
	Endpoint  string `mapstructure:"MINIO_ENDPOINT" validate:"required"`
	AccessKey string `mapstructure:"MINIO_ACCESS_KEY" validate:"required"`
	SecretKey string `mapstructure:"MINIO_SECRET_KEY" validate:"required"`
	Bucket    string `mapstructure:"MINIO_BUCKET" validate:"required"`
	Prefix    string `mapstructure:"MINIO_PREFIX"`
	UseSSL    bool   `mapstructure:"MINIO_USE_SSL"`
}

// CacheConfig bounds the face and classifier caches.
type CacheConfig struct {
	FaceTTL       time.Duration `mapstructure:"FACE_CACHE_TTL" validate:"gte=0s"`
	ClassifierTTL time.Duration `mapstructure:"CLASSIFIER_CACHE_TTL" validate:"gte=0s"`
	LoadTimeout   time.Duration `mapstructure:"CACHE_LOAD_TIMEOUT" validate:"gte=0s"`
}

// ClassifierConfig controls training.
type ClassifierConfig struct {
	TrainOnMiss  bool    `mapstructure:"CLASSIFIER_TRAIN_ON_MISS"`
	Epochs       int     `mapstructure:"CLASSIFIER_EPOCHS" validate:"gte=1"`
	LearningRate float64 `mapstructure:"CLASSIFIER_LEARNING_RATE" validate:"gt=0"`
	L2           float64 `mapstructure:"CLASSIFIER_L2" validate:"gte=0"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Enabled           bool    `mapstructure:"TELEMETRY_ENABLED"`
	ExporterEndpoint  string  `mapstructure:"OTEL_EXPORTER_ENDPOINT" validate:"required_if=Enabled true"`
	SampleProbability float64 `mapstructure:"OTEL_SAMPLE_PROBABILITY" validate:"gte=0,lte=1"`
}

// Getenv reads one variable; os.Getenv in production.
type Getenv func(key string) string

// Load reads an optional .env file, then the process environment.
func Load(dotEnvFiles ...string) (*Config, error) {
	if err := loadDotEnv(dotEnvFiles...); err != nil {
		return nil, err
	}
	return FromEnv(os.Getenv)
}

// loadDotEnv loads the given files, or ./.env when none are named. Missing
// files are skipped; variables already set win.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// setDefaults registers the value used for every unset variable.
func setDefaults(v *viper.Viper) {
	train := classifierDomain.DefaultTrainOptions()

	v.SetDefault("SERVICE_NAME", "facerec")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OPS_ADDR", ":8080")
	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_MAX_CONNS", 20)
	v.SetDefault("MIGRATIONS_PATH", "file:///app/db/migrations")
	v.SetDefault("MODEL_STORE", ModelStoreDatabase)
	v.SetDefault("MINIO_BUCKET", "facerec-models")
	v.SetDefault("MINIO_PREFIX", "models/")
	v.SetDefault("CACHE_LOAD_TIMEOUT", 30*time.Second)
	v.SetDefault("CLASSIFIER_EPOCHS", train.Epochs)
	v.SetDefault("CLASSIFIER_LEARNING_RATE", train.LearningRate)
	v.SetDefault("CLASSIFIER_L2", train.L2)
	v.SetDefault("OTEL_EXPORTER_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_PROBABILITY", 0.05)
}

// FromEnv builds and validates a Config from getenv, applying defaults for
// unset variables.
func FromEnv(getenv Getenv) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for _, key := range envKeys(reflect.TypeOf(Config{})) {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			v.Set(key, val)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.ModelStore = strings.ToLower(cfg.ModelStore)
	cfg.WarmTenants = compact(cfg.WarmTenants)

	if cfg.Database.URL == "" && cfg.Database.Driver == DriverPostgres {
		cfg.Database.URL = postgresDSN(getenv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeys lists the variable names of t's fields, descending into squashed
// structs.
func envKeys(t reflect.Type) []string {
	var keys []string
	for i := range t.NumField() {
		fld := t.Field(i)
		name, opts, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if opts == "squash" {
			keys = append(keys, envKeys(fld.Type)...)
			continue
		}
		if name != "" {
			keys = append(keys, name)
		}
	}
	return keys
}

// compact trims every element and drops the blank ones.
func compact(values []string) []string {
	var out []string
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// postgresDSN assembles a DSN from the POSTGRES_* variables.
func postgresDSN(getenv Getenv) string {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		get("POSTGRES_USER", "postgres"),
		get("POSTGRES_PASSWORD", "postgres"),
		get("POSTGRES_HOST", "postgres"),
		get("POSTGRES_PORT", "5432"),
		get("POSTGRES_DB", "facerec"),
	)
}

// Validate checks every field and reports failures by variable name.
func (c *Config) Validate() error {
	v, trans := newValidator()

	var errs []error
	if err := v.Struct(c); err != nil {
		errs = append(errs, translate(err, trans))
	}
	if c.ModelStore == ModelStoreMinio {
		if err := v.Struct(c.Minio); err != nil {
			errs = append(errs, translate(err, trans))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// FaceCacheOptions returns the face cache settings.
func (c *Config) FaceCacheOptions() loadcache.Options {
	return loadcache.Options{
		TTL:             c.Cache.FaceTTL,
		CleanupInterval: cleanupInterval(c.Cache.FaceTTL),
		LoadTimeout:     c.Cache.LoadTimeout,
	}
}

// ClassifierCacheOptions returns the classifier cache settings.
func (c *Config) ClassifierCacheOptions() loadcache.Options {
	return loadcache.Options{
		TTL:             c.Cache.ClassifierTTL,
		CleanupInterval: cleanupInterval(c.Cache.ClassifierTTL),
		LoadTimeout:     c.Cache.LoadTimeout,
	}
}

// TrainOptions returns the classifier hyper-parameters.
func (c *Config) TrainOptions() classifierDomain.TrainOptions {
	return classifierDomain.TrainOptions{
		Epochs:       c.Classifier.Epochs,
		LearningRate: c.Classifier.LearningRate,
		L2:           c.Classifier.L2,
	}
}

// Expired entries are swept at twice the TTL rate.
func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return 2 * ttl
}

func newValidator() (*validator.Validate, ut.Translator) {
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ","); name != "" {
			return name
		}
		return fld.Name
	})
	// Registration only fails for a nil validator or translator.
	_ = enTranslations.RegisterDefaultTranslations(v, trans)
	return v, trans
}

func translate(err error, trans ut.Translator) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, msg := range verrs.Translate(trans) {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}
