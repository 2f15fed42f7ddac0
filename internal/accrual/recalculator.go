package accrual

import (
	"sort"

	"github.com/mvbarbosa/loanbook-api/internal/datemath"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
)

// event is one boundary in the recalculated timeline: either a scheduled
// period end or a payment date. On a date collision the payment replaces the
// scheduled boundary.
type event struct {
	date    string
	payment *types.Payment
	// FX snapshot for the event date, taken from the pure schedule.
	mtmRate    decimal.Decimal
	mtmSource  string
	contractFx decimal.Decimal
}

// Recalculate folds the payment history into the pure accrual schedule.
// Between consecutive events interest accrues on the running principal; a
// payment settles accrued interest first and amortizes principal with the
// remainder; a scheduled boundary with no payment capitalizes unpaid interest
// into principal under exponential compounding.
//
// With no payments every row carries the pure accrual balances with zero
// payment fields, so the recalculated and pure schedules agree.
func Recalculate(pureRows []types.AccrualRow, payments []types.Payment, leg *types.InterestLeg, principal decimal.Decimal) ([]types.RecalculatedAccrualRow, error) {
	if len(pureRows) == 0 {
		return nil, nil
	}
	if len(payments) == 0 {
		return degenerateRows(pureRows), nil
	}

	events := mergeEvents(pureRows, payments)

	rows := make([]types.RecalculatedAccrualRow, 0, len(events))
	prevDate := pureRows[0].PeriodStart
	opening := principal
	runningPrincipal := principal
	unpaidInterest := decimal.Zero

	for _, ev := range events {
		days, err := datemath.DaysBetween(prevDate, ev.date, leg.Basis)
		if err != nil {
			return nil, err
		}
		effRate, err := datemath.PeriodicRate(leg.BaseAnnualRate(), leg.Compounding, leg.Basis, days)
		if err != nil {
			return nil, err
		}

		interest := runningPrincipal.Mul(effRate).Round(moneyPrecision)
		unpaidInterest = unpaidInterest.Add(interest)

		row := types.RecalculatedAccrualRow{
			AccrualRow: types.AccrualRow{
				PeriodStart:    prevDate,
				PeriodEnd:      ev.date,
				Days:           days,
				EffectiveRate:  effRate,
				OpeningOrigin:  opening,
				InterestOrigin: interest,
				ContractFxRate: ev.contractFx,
				MtmFxRate:      ev.mtmRate,
				MtmFxSource:    ev.mtmSource,
			},
		}

		var paymentAmount decimal.Decimal
		if ev.payment != nil {
			paymentAmount = ev.payment.AmountOrigin

			interestPaid := decimal.Min(paymentAmount, unpaidInterest)
			principalPaid := paymentAmount.Sub(interestPaid)
			unpaidInterest = unpaidInterest.Sub(interestPaid)
			runningPrincipal = runningPrincipal.Sub(principalPaid)
			if runningPrincipal.IsNegative() {
				runningPrincipal = decimal.Zero
			}

			row.IsPayment = true
			row.PaymentAmountOrigin = paymentAmount
			row.PaymentAmountBRL = ev.payment.AmountBRL
			row.InterestPaidOrigin = interestPaid
			row.InterestPaidBRL = interestPaid.Mul(ev.mtmRate).Round(moneyPrecision)
			row.PrincipalPaidOrigin = principalPaid
			row.PrincipalPaidBRL = principalPaid.Mul(ev.mtmRate).Round(moneyPrecision)
			if interest.IsPositive() {
				row.InterestCoverageRatio = interestPaid.DivRound(interest, percentPrecision)
			}
			row.AmortizationEffect = principalPaid
		} else if leg.Compounding == types.CompoundingExponential && unpaidInterest.IsPositive() {
			runningPrincipal = runningPrincipal.Add(unpaidInterest)
			unpaidInterest = decimal.Zero
		}

		closing := runningPrincipal.Add(unpaidInterest)
		row.ClosingOrigin = closing
		row.InterestPendingOrigin = unpaidInterest
		row.InterestPendingBRL = unpaidInterest.Mul(ev.mtmRate).Round(moneyPrecision)
		row.RecalculatedBalanceOrigin = runningPrincipal
		row.RecalculatedBalanceBRL = runningPrincipal.Mul(ev.mtmRate).Round(moneyPrecision)
		row.CashVsAccrual = paymentAmount.Sub(interest)
		fillConvertedBalances(&row.AccrualRow)

		rows = append(rows, row)
		prevDate = ev.date
		opening = closing
	}

	return rows, nil
}

// mergeEvents builds the chronological event timeline. Scheduled boundaries
// that collide with a payment date are dropped; the payment event carries the
// FX snapshot of the nearest period ending on or after its date.
func mergeEvents(pureRows []types.AccrualRow, payments []types.Payment) []event {
	paymentDates := make(map[string]bool, len(payments))
	for i := range payments {
		paymentDates[payments[i].PaymentDate] = true
	}

	events := make([]event, 0, len(pureRows)+len(payments))
	for i := range pureRows {
		row := &pureRows[i]
		if paymentDates[row.PeriodEnd] {
			continue
		}
		events = append(events, event{
			date:       row.PeriodEnd,
			mtmRate:    row.MtmFxRate,
			mtmSource:  row.MtmFxSource,
			contractFx: row.ContractFxRate,
		})
	}
	for i := range payments {
		p := &payments[i]
		snap := snapshotFor(pureRows, p.PaymentDate)
		events = append(events, event{
			date:       p.PaymentDate,
			payment:    p,
			mtmRate:    snap.MtmFxRate,
			mtmSource:  snap.MtmFxSource,
			contractFx: snap.ContractFxRate,
		})
	}

	// ISO dates sort chronologically as strings. SliceStable keeps same-day
	// payments in registration order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].date < events[j].date
	})
	return events
}

// snapshotFor picks the pure row whose period covers the given date, falling
// back to the last row for dates past the schedule horizon.
func snapshotFor(pureRows []types.AccrualRow, date string) *types.AccrualRow {
	for i := range pureRows {
		if pureRows[i].PeriodEnd >= date {
			return &pureRows[i]
		}
	}
	return &pureRows[len(pureRows)-1]
}

// degenerateRows maps the pure schedule onto recalculated rows directly:
// pending interest is the cumulative accrued interest and the recalculated
// balance tracks the pure closing balance.
func degenerateRows(pureRows []types.AccrualRow) []types.RecalculatedAccrualRow {
	rows := make([]types.RecalculatedAccrualRow, 0, len(pureRows))
	pending := decimal.Zero
	for i := range pureRows {
		row := types.RecalculatedAccrualRow{AccrualRow: pureRows[i]}
		pending = pending.Add(row.InterestOrigin)
		row.InterestPendingOrigin = pending
		row.InterestPendingBRL = pending.Mul(row.MtmFxRate).Round(moneyPrecision)
		row.RecalculatedBalanceOrigin = row.ClosingOrigin
		row.RecalculatedBalanceBRL = row.ClosingMtmBRL
		row.CashVsAccrual = row.InterestOrigin.Neg()
		rows = append(rows, row)
	}
	return rows
}
