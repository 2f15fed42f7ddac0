package database

import (
	"fmt"

	"github.com/mvbarbosa/loanbook-api/internal/database/migrations"
	"github.com/mvbarbosa/loanbook-api/internal/ledger"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "loanbook.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddExchangeRates(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Contract{},
		&types.InterestLeg{},
		&types.Payment{},
		&types.IdempotencyRecord{},
		&ledger.Entry{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
