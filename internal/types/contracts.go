package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Contract directions
const (
	DirectionBorrowed = "BORROWED"
	DirectionLent     = "LENT"
)

// Contract statuses
const (
	StatusActive       = "ACTIVE"
	StatusSettled      = "SETTLED"
	StatusOverdue      = "OVERDUE"
	StatusRenegotiated = "RENEGOTIATED"
)

// Payment flow configurations
const (
	FlowScheduled   = "SCHEDULED"
	FlowFlexible    = "FLEXIBLE"
	FlowBullet      = "BULLET"
	FlowAccrualOnly = "ACCRUAL_ONLY"
)

// Day-count bases
const (
	Basis30360  = "30/360"
	BasisAct360 = "ACT/360"
	BasisAct365 = "ACT/365"
	BasisBus252 = "BUS/252"
)

// Compounding modes
const (
	CompoundingExponential = "EXPONENTIAL"
	CompoundingLinear      = "LINEAR"
)

// Interest leg indexers
const (
	IndexerFixed         = "FIXED"
	IndexerReferenceRate = "REFERENCE_RATE"
	IndexerFxIndexed     = "FX_INDEXED"
	IndexerManual        = "MANUAL"
)

// Interest leg roles
const (
	RoleRate       = "RATE"
	RoleAdjustment = "ADJUSTMENT"
)

// Amortization systems
const (
	SystemPrice = "PRICE" // constant installment
	SystemSAC   = "SAC"   // constant amortization
)

// Accrual frequencies
const (
	FrequencyDaily   = "DAILY"
	FrequencyMonthly = "MONTHLY"
	FrequencyYearly  = "YEARLY"
)

// BRL is the reporting currency every contract is mirrored into.
const BRL = "BRL"

// Contract is a multi-currency loan contract. The balance snapshot fields are
// mutated only by the payment engine; everything else is fixed at creation.
// All dates are YYYY-MM-DD strings, all money is decimal.
type Contract struct {
	gorm.Model   `json:"-"`
	ContractID   string `gorm:"uniqueIndex" json:"contract_id"`
	ClientID     string `json:"client_id"`
	Counterparty string `json:"counterparty"`
	Direction    string `json:"direction"` // BORROWED or LENT
	Currency     string `json:"currency"`  // origin currency, ISO code
	StartDate    string `json:"start_date"`

	PrincipalOrigin decimal.Decimal     `json:"principal_origin"`
	PrincipalBRL    decimal.Decimal     `json:"principal_brl"`
	ContractFxRate  decimal.NullDecimal `json:"contract_fx_rate"` // optional fixed FX; daily FX at inception when absent

	PaymentFlow        string `json:"payment_flow"`        // SCHEDULED, FLEXIBLE, BULLET, ACCRUAL_ONLY
	AmortizationSystem string `json:"amortization_system"` // PRICE or SAC
	Installments       int    `json:"installments"`
	Status             string `json:"status"` // ACTIVE, SETTLED, OVERDUE, RENEGOTIATED

	Legs []InterestLeg `gorm:"foreignKey:ContractID;references:ContractID" json:"interest_legs"`

	// Current balance snapshot.
	BalanceOrigin         decimal.Decimal     `json:"balance_origin"`
	BalanceBRL            decimal.Decimal     `json:"balance_brl"`
	AccruedInterestOrigin decimal.Decimal     `json:"accrued_interest_origin"`
	AccruedInterestBRL    decimal.Decimal     `json:"accrued_interest_brl"`
	LastUpdateDate        string              `json:"last_update_date"`
	NextPaymentDate       string              `json:"next_payment_date,omitempty"`
	NextPaymentAmount     decimal.NullDecimal `json:"next_payment_amount,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RateLeg returns the first leg with role RATE. Validation guarantees one
// exists on any stored contract.
func (c *Contract) RateLeg() *InterestLeg {
	for i := range c.Legs {
		if c.Legs[i].Role == RoleRate {
			return &c.Legs[i]
		}
	}
	return nil
}

// InterestLeg is one component of a possibly composite rate. Legs compose
// additively; at least one leg per contract must carry role RATE.
type InterestLeg struct {
	gorm.Model     `json:"-"`
	ContractID     string          `json:"-"`
	Indexer        string          `json:"indexer"` // FIXED, REFERENCE_RATE, FX_INDEXED, MANUAL
	IndexerPercent decimal.Decimal `json:"indexer_percent"`
	AnnualSpread   decimal.Decimal `json:"annual_spread"` // percent per year
	Basis          string          `json:"basis"`
	Compounding    string          `json:"compounding"`
	PtaxCurrency   string          `json:"ptax_currency,omitempty"`
	Role           string          `json:"role"` // RATE or ADJUSTMENT
}

// BaseAnnualRate is the annual rate in percent the accrual fold uses for this
// leg. Indexer fixings for REFERENCE_RATE and FX_INDEXED legs are resolved by
// the external rate plugin, so only the spread is carried here.
func (l *InterestLeg) BaseAnnualRate() decimal.Decimal {
	return l.AnnualSpread
}

// Payment is a registered cash event against a contract. Amounts are derived
// in origin currency and BRL using the FX rate resolved for the payment date.
type Payment struct {
	gorm.Model   `json:"-"`
	PaymentID    string          `gorm:"uniqueIndex" json:"payment_id"`
	ContractID   string          `json:"contract_id"`
	PaymentDate  string          `json:"payment_date"`
	Currency     string          `json:"currency"` // currency actually paid
	Amount       decimal.Decimal `json:"amount"`
	AmountOrigin decimal.Decimal `json:"amount_origin"`
	AmountBRL    decimal.Decimal `json:"amount_brl"`
	FxRate       decimal.Decimal `json:"fx_rate"`
	FxSource     string          `json:"fx_source"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BalanceSnapshot is the payment engine's view of a contract after applying
// a payment.
type BalanceSnapshot struct {
	BalanceOrigin         decimal.Decimal `json:"balance_origin"`
	BalanceBRL            decimal.Decimal `json:"balance_brl"`
	AccruedInterestOrigin decimal.Decimal `json:"accrued_interest_origin"`
	AccruedInterestBRL    decimal.Decimal `json:"accrued_interest_brl"`
	LastUpdateDate        string          `json:"last_update_date"`
}

// IdempotencyRecord prevents double-applying contract creations and payments
// on client retries.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
