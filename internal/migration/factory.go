package migration

import (
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/config"
)

// NewMigratorFromConfig creates a migrator for the configured checkpoint database
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig creates a migrator from database configuration
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbCfg.DSN(),
	}, logger)
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL}, logger)
}
