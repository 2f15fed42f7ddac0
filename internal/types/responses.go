package types

import "github.com/shopspring/decimal"

// CreateContractRequest is the POST /contracts body.
type CreateContractRequest struct {
	Counterparty       string              `json:"counterparty" binding:"required"`
	Direction          string              `json:"direction" binding:"required"`
	Currency           string              `json:"currency" binding:"required"`
	StartDate          string              `json:"start_date" binding:"required"`
	PrincipalOrigin    decimal.Decimal     `json:"principal_origin" binding:"required"`
	ContractFxRate     decimal.NullDecimal `json:"contract_fx_rate"`
	PaymentFlow        string              `json:"payment_flow"`
	AmortizationSystem string              `json:"amortization_system"`
	Installments       int                 `json:"installments"`
	Legs               []InterestLeg       `json:"interest_legs" binding:"required"`
}

// ApplyPaymentRequest is the POST /contracts/:contract_id/payments body.
// Currency defaults to the contract's origin currency when empty.
type ApplyPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	PaymentDate string          `json:"payment_date" binding:"required"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// ApplyPaymentResponse bundles the three artifacts a payment produces.
type ApplyPaymentResponse struct {
	Payment     *Payment         `json:"payment"`
	Balance     *BalanceSnapshot `json:"balance"`
	LedgerEntry interface{}      `json:"ledger_entry"`
}

// BalanceAtDateResponse is the point-in-time balance reconstruction result.
type BalanceAtDateResponse struct {
	ContractID    string          `json:"contract_id"`
	Date          string          `json:"date"`
	BalanceOrigin decimal.Decimal `json:"balance_origin"`
	BalanceBRL    decimal.Decimal `json:"balance_brl"`
}

// SyncFxRequest is the internal PTAX sync trigger body.
type SyncFxRequest struct {
	StartDate  string   `json:"start_date" binding:"required"`
	EndDate    string   `json:"end_date" binding:"required"`
	Currencies []string `json:"currencies" binding:"required"`
}
