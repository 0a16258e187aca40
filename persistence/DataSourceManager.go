package persistence

import (
	"context"
	"errors"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
	otgorm "github.com/smacker/opentracing-gorm"
)

// ActiveDataSourceManager is nil when the service runs without a database.
var ActiveDataSourceManager *DataSourceManager

type DatabaseConfig struct {
	DriverType string
	DriverArgs string
}

// ParseDatabaseConfigFromEnv reads DB_DRIVER_TYPE and DB_DRIVER_ARGS.
// A nil config means no database is configured.
func ParseDatabaseConfigFromEnv() (*DatabaseConfig, error) {
	driverType := strings.TrimSpace(os.Getenv("DB_DRIVER_TYPE"))
	if driverType == "" {
		return nil, nil
	}
	if driverType != "mysql" {
		return nil, errors.New("unsupported database driver '" + driverType + "'")
	}
	driverArgs := strings.TrimSpace(os.Getenv("DB_DRIVER_ARGS"))
	if driverArgs == "" {
		return nil, errors.New("DB_DRIVER_ARGS is required when DB_DRIVER_TYPE is set")
	}
	return &DatabaseConfig{DriverType: driverType, DriverArgs: driverArgs}, nil
}

type DataSourceManager struct {
	gormDB *gorm.DB

	DatabaseConfig *DatabaseConfig
}

func (m *DataSourceManager) Start() error {
	db, err := connect(m.DatabaseConfig)
	if err != nil {
		return err
	}
	otgorm.AddGormCallbacks(db)
	m.gormDB = db
	if os.Getenv("GIN_MODE") != "release" {
		m.gormDB.LogMode(true)
	}
	return nil
}

func (m *DataSourceManager) Stop() {
	if m.gormDB != nil {
		if err := m.gormDB.Close(); err != nil {
			logrus.Warnf("failed to close DB: %v", err)
		}
		m.gormDB = nil
	}
}

// GormDB returns a fresh session; the span found in ctx (if any) becomes the parent of sql spans.
func (m *DataSourceManager) GormDB(ctx context.Context) *gorm.DB {
	if m.gormDB == nil {
		return nil
	}
	if ctx == nil {
		return m.gormDB.New()
	}
	return otgorm.SetSpanToGorm(ctx, m.gormDB.New())
}

func connect(config *DatabaseConfig) (*gorm.DB, error) {
	if config == nil {
		return nil, errors.New("database config is missing")
	}
	db, err := gorm.Open(config.DriverType, config.DriverArgs)
	if err != nil {
		return nil, err
	}
	err = db.DB().Ping()
	if err != nil {
		return nil, err
	}
	return db, nil
}
