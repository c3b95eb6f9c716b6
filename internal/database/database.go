package database

import (
	"fmt"
	"strings"

	"feedsync/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	DB *gorm.DB
}

func New(databaseURL string) (*Database, error) {
	return open(databaseURL, logger.Default.LogMode(logger.Warn))
}

// NewSilent opens a database without gorm's query log. Used by tests.
func NewSilent(databaseURL string) (*Database, error) {
	return open(databaseURL, logger.Default.LogMode(logger.Silent))
}

func open(databaseURL string, gormLogger logger.Interface) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(databaseURL, "sqlite://") {
		// SQLite for development
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: gormLogger,
		})
	} else {
		// PostgreSQL for production
		db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{
			Logger: gormLogger,
		})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if strings.HasPrefix(databaseURL, "sqlite://") {
		// a single connection keeps in-memory databases alive and serialises sqlite writers
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	err = db.AutoMigrate(
		&models.Option{},
		&models.Product{},
		&models.Promotion{},
		&models.FeedRun{},
		&models.FeedUpload{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
