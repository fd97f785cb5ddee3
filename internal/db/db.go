package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitDB opens the database and migrates the schema.
func InitDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// liveFingerprintIndex lets one evidence file back at most one pending or
// approved request, even when two submissions race past the count check.
const liveFingerprintIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_approvals_live_fingerprint
	ON pending_approvals (fingerprint)
	WHERE status IN ('pending', 'approved') AND fingerprint <> ''`

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &PendingApproval{}, &ApprovalDelivery{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := db.Exec(liveFingerprintIndex).Error; err != nil {
		return fmt.Errorf("migrate fingerprint index: %w", err)
	}
	return nil
}

// Ping checks the connection, used by the health endpoint.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
