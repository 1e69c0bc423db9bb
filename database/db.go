package database

import (
	"fmt"
	"time"

	"guild-quest-rewards/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the relational store for the given driver ("postgres" or "sqlite").
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// SQLite allows a single writer; one connection keeps conditional
		// updates serialized instead of failing with SQLITE_BUSY.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&models.ObjectiveDefinition{},
		&models.AchievementDefinition{},
		&models.ObjectiveProgress{},
		&models.AchievementUnlock{},
		&models.LedgerAccount{},
		&models.ClaimIntent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
