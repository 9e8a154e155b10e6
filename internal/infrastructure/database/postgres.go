package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/you/abcauth/internal/infrastructure/repositories"
)

// Open creates a new database connection to the profile store
func Open(dsn string, logLevel string) (*gorm.DB, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(logLevel)),
	}

	db, err := gorm.Open(postgres.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}
	return db, nil
}

// AutoMigrate makes sure the users table matches DBProfile
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&repositories.DBProfile{}); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}
