package fx

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// fxPrecision is the number of decimal places stored FX rates carry.
const fxPrecision = 6

// ExchangeRate is one currency's BRL rate for one date.
type ExchangeRate struct {
	gorm.Model `json:"-"`
	Currency   string          `gorm:"uniqueIndex:idx_currency_date" json:"currency"`
	RateDate   string          `gorm:"uniqueIndex:idx_currency_date" json:"rate_date"` // YYYY-MM-DD
	Rate       decimal.Decimal `json:"rate"`
	Source     string          `json:"source"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetRate returns the stored rate for an exact (currency, date) pair, or nil
// when none exists.
func (d *Database) GetRate(currency, date string) (*ExchangeRate, error) {
	var rate ExchangeRate
	if err := d.db.Where("currency = ? AND rate_date = ?", currency, date).First(&rate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

// GetLatestRate returns the most recent stored rate for a currency, or nil
// when the currency has never been synced.
func (d *Database) GetLatestRate(currency string) (*ExchangeRate, error) {
	var rate ExchangeRate
	if err := d.db.Where("currency = ?", currency).Order("rate_date DESC").First(&rate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

// UpsertRate inserts or replaces the rate for a (currency, date) pair.
// Rates are rounded to 6 decimal places on the way in.
func (d *Database) UpsertRate(rate *ExchangeRate) error {
	rate.Rate = rate.Rate.Round(fxPrecision)
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "currency"}, {Name: "rate_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "source", "updated_at"}),
	}).Create(rate).Error
}
