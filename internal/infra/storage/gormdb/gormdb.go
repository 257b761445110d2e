// Package gormdb opens the MySQL or SQLite database used by the gorm stores
// and owns their row models.
package gormdb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ahrav/facerec/pkg/common/logger"
)

// Supported drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

const slowQueryThreshold = 200 * time.Millisecond

// FaceRecord is the row form of face.Face.
type FaceRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	TenantKey    string    `gorm:"size:255;not null;index:idx_faces_tenant_name,priority:1;index:idx_faces_tenant_created,priority:1"`
	Name         string    `gorm:"size:255;not null;index:idx_faces_tenant_name,priority:2"`
	Embedding    []float64 `gorm:"type:text;serializer:json;not null"`
	ModelVersion *string   `gorm:"size:255"`
	RawImage     []byte
	AlignedImage []byte
	CreatedAt    time.Time `gorm:"not null;index:idx_faces_tenant_created,priority:2"`
}

// TableName keeps the table shared with the SQL migrations.
func (FaceRecord) TableName() string { return "faces" }

// ModelRecord is the row form of classifier.Model.
type ModelRecord struct {
	TenantKey string `gorm:"primaryKey;size:255"`
	Blob      []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table shared with the SQL migrations.
func (ModelRecord) TableName() string { return "trained_models" }

// Open connects to dsn with driver and migrates the face and model tables.
func Open(driver, dsn string, log *logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.AutoMigrate(&FaceRecord{}, &ModelRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate %s database: %w", driver, err)
	}
	return db, nil
}

// printfWriter routes gorm's log lines through the service logger.
type printfWriter struct{ log *logger.Logger }

func (w printfWriter) Printf(format string, args ...any) {
	w.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func newGormLogger(log *logger.Logger) gormlogger.Interface {
	return gormlogger.New(
		printfWriter{log: log.With("component", "gorm")},
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}
