// Package accrual computes accrual schedules and merges them with payment
// history. BuildRows produces the "pure" schedule with no payment awareness;
// Recalculate folds the payment ledger into it.
package accrual

import (
	"context"
	"fmt"

	"github.com/mvbarbosa/loanbook-api/internal/datemath"
	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
)

const (
	moneyPrecision   = 2
	percentPrecision = 6
)

var hundred = decimal.NewFromInt(100)

// BuildRows generates one AccrualRow per period boundary between startDate
// and endDate. Interest is simple per-period accrual: opening * effective
// rate, with the closing balance feeding the next period's opening.
func BuildRows(ctx context.Context, gateway fx.Gateway, contract *types.Contract, startDate, endDate, frequency string) ([]types.AccrualRow, error) {
	leg := contract.RateLeg()
	if leg == nil {
		return nil, fmt.Errorf("%w: contract %s has no rate leg", types.ErrInvalidContractState, contract.ContractID)
	}

	start, err := datemath.ParseDate(startDate)
	if err != nil {
		return nil, err
	}
	end, err := datemath.ParseDate(endDate)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end date %s must be after start date %s", types.ErrInvalidDate, endDate, startDate)
	}

	contractFx, err := contractFxRate(ctx, gateway, contract)
	if err != nil {
		return nil, err
	}

	var rows []types.AccrualRow
	opening := contract.PrincipalOrigin
	periodStart := start

	for periodStart.Before(end) {
		periodEnd, err := datemath.NextPeriodEnd(periodStart, frequency)
		if err != nil {
			return nil, err
		}
		if periodEnd.After(end) {
			periodEnd = end
		}

		startStr := datemath.FormatDate(periodStart)
		endStr := datemath.FormatDate(periodEnd)

		days, err := datemath.DaysBetween(startStr, endStr, leg.Basis)
		if err != nil {
			return nil, err
		}
		effRate, err := datemath.PeriodicRate(leg.BaseAnnualRate(), leg.Compounding, leg.Basis, days)
		if err != nil {
			return nil, err
		}

		interest := opening.Mul(effRate).Round(moneyPrecision)
		closing := opening.Add(interest)

		mtm, err := fx.RequireRate(ctx, gateway, contract.Currency, endStr, contract.ContractFxRate)
		if err != nil {
			return nil, err
		}

		row := types.AccrualRow{
			PeriodStart:    startStr,
			PeriodEnd:      endStr,
			Days:           days,
			EffectiveRate:  effRate,
			OpeningOrigin:  opening,
			InterestOrigin: interest,
			ClosingOrigin:  closing,
			ContractFxRate: contractFx,
			MtmFxRate:      mtm.Rate,
			MtmFxSource:    mtm.Source,
		}
		fillConvertedBalances(&row)

		rows = append(rows, row)
		opening = closing
		periodStart = periodEnd
	}

	return rows, nil
}

// contractFxRate is the fixed conversion rate every row's contract-FX
// columns use: the contract's fixed rate when configured, the daily rate at
// inception otherwise.
func contractFxRate(ctx context.Context, gateway fx.Gateway, contract *types.Contract) (decimal.Decimal, error) {
	if contract.ContractFxRate.Valid && contract.ContractFxRate.Decimal.IsPositive() {
		return contract.ContractFxRate.Decimal, nil
	}
	res, err := fx.RequireRate(ctx, gateway, contract.Currency, contract.StartDate, contract.ContractFxRate)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Rate, nil
}

// fillConvertedBalances derives the BRL columns and the FX-variation
// decomposition from the origin balances and the two rates.
func fillConvertedBalances(row *types.AccrualRow) {
	row.OpeningContractBRL = row.OpeningOrigin.Mul(row.ContractFxRate).Round(moneyPrecision)
	row.ClosingContractBRL = row.ClosingOrigin.Mul(row.ContractFxRate).Round(moneyPrecision)
	row.OpeningMtmBRL = row.OpeningOrigin.Mul(row.MtmFxRate).Round(moneyPrecision)
	row.ClosingMtmBRL = row.ClosingOrigin.Mul(row.MtmFxRate).Round(moneyPrecision)

	diff := row.MtmFxRate.Sub(row.ContractFxRate)
	row.FxVarPrincipal = row.OpeningOrigin.Mul(diff).Round(moneyPrecision)
	row.FxVarInterest = row.InterestOrigin.Mul(diff).Round(moneyPrecision)
	row.FxVarTotal = row.ClosingOrigin.Mul(row.MtmFxRate).
		Sub(row.ClosingOrigin.Mul(row.ContractFxRate)).
		Round(moneyPrecision)

	if !row.ContractFxRate.IsZero() {
		row.FxVarPercent = row.MtmFxRate.Div(row.ContractFxRate).
			Sub(decimal.NewFromInt(1)).
			Mul(hundred).
			Round(percentPrecision)
	}
}
