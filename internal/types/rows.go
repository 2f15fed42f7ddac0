package types

import "github.com/shopspring/decimal"

// AccrualRow is one period of the pure accrual schedule: no payment
// awareness, simple opening*rate interest, closing = opening + interest.
// Balances are reported three ways: origin currency, BRL at the
// contract-fixed FX rate, and BRL at the mark-to-market rate for the period
// end date.
type AccrualRow struct {
	PeriodStart   string          `json:"period_start"`
	PeriodEnd     string          `json:"period_end"`
	Days          int             `json:"days"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`

	OpeningOrigin  decimal.Decimal `json:"opening_origin"`
	InterestOrigin decimal.Decimal `json:"interest_origin"`
	ClosingOrigin  decimal.Decimal `json:"closing_origin"`

	ContractFxRate     decimal.Decimal `json:"contract_fx_rate"`
	OpeningContractBRL decimal.Decimal `json:"opening_contract_brl"`
	ClosingContractBRL decimal.Decimal `json:"closing_contract_brl"`

	MtmFxRate     decimal.Decimal `json:"mtm_fx_rate"`
	MtmFxSource   string          `json:"mtm_fx_source"`
	OpeningMtmBRL decimal.Decimal `json:"opening_mtm_brl"`
	ClosingMtmBRL decimal.Decimal `json:"closing_mtm_brl"`

	// FX variation between contract-fixed and mark-to-market conversion,
	// decomposed into the principal- and interest-attributable parts.
	FxVarPrincipal decimal.Decimal `json:"fx_var_principal"`
	FxVarInterest  decimal.Decimal `json:"fx_var_interest"`
	FxVarTotal     decimal.Decimal `json:"fx_var_total"`
	FxVarPercent   decimal.Decimal `json:"fx_var_percent"`
}

// RecalculatedAccrualRow is an AccrualRow augmented with payment-aware
// fields produced by the recalculator fold.
type RecalculatedAccrualRow struct {
	AccrualRow

	IsPayment           bool            `json:"is_payment"`
	PaymentAmountOrigin decimal.Decimal `json:"payment_amount_origin"`
	PaymentAmountBRL    decimal.Decimal `json:"payment_amount_brl"`
	InterestPaidOrigin  decimal.Decimal `json:"interest_paid_origin"`
	InterestPaidBRL     decimal.Decimal `json:"interest_paid_brl"`
	PrincipalPaidOrigin decimal.Decimal `json:"principal_paid_origin"`
	PrincipalPaidBRL    decimal.Decimal `json:"principal_paid_brl"`

	// Unpaid interest carried forward after this event.
	InterestPendingOrigin decimal.Decimal `json:"interest_pending_origin"`
	InterestPendingBRL    decimal.Decimal `json:"interest_pending_brl"`

	// Capitalization-adjusted balance actually carried forward.
	RecalculatedBalanceOrigin decimal.Decimal `json:"recalculated_balance_origin"`
	RecalculatedBalanceBRL    decimal.Decimal `json:"recalculated_balance_brl"`

	InterestCoverageRatio decimal.Decimal `json:"interest_coverage_ratio"`
	AmortizationEffect    decimal.Decimal `json:"amortization_effect"`
	CashVsAccrual         decimal.Decimal `json:"cash_vs_accrual"`
}

// ScheduleRow is one installment of an amortization table.
type ScheduleRow struct {
	Period              int             `json:"period"`
	DueDate             string          `json:"due_date,omitempty"`
	Payment             decimal.Decimal `json:"payment"`
	Interest            decimal.Decimal `json:"interest"`
	Principal           decimal.Decimal `json:"principal"`
	ClosingBalance      decimal.Decimal `json:"closing_balance"`
	CumulativeInterest  decimal.Decimal `json:"cumulative_interest"`
	CumulativePrincipal decimal.Decimal `json:"cumulative_principal"`
}
