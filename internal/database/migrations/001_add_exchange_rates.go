package migrations

import (
	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"gorm.io/gorm"
)

// AddExchangeRates creates the daily FX rate table with its composite
// (currency, rate_date) unique index. Kept as an explicit migration so the
// index survives schema drift in the model.
func AddExchangeRates(db *gorm.DB) error {
	return db.AutoMigrate(&fx.ExchangeRate{})
}
