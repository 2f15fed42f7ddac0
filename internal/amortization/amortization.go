// Package amortization generates installment schedules for the
// constant-installment (PRICE) and constant-amortization (SAC) systems.
//
// Components are computed by simulating balance decay period by period; no
// closed form is assumed safe across rate regimes. The final period absorbs
// the rounding residual so the schedule always closes to exactly zero.
package amortization

import (
	"fmt"

	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
)

const moneyPrecision = 2

var one = decimal.NewFromInt(1)

// ConstantPayment computes the PMT of the standard annuity formula:
// P * r * (1+r)^n / ((1+r)^n - 1), degenerating to P/n at zero rate.
func ConstantPayment(principal, periodicRate decimal.Decimal, installments int) (decimal.Decimal, error) {
	if installments <= 0 {
		return decimal.Zero, fmt.Errorf("installment count must be positive, got %d", installments)
	}
	n := decimal.NewFromInt(int64(installments))

	if periodicRate.IsZero() {
		return principal.DivRound(n, moneyPrecision), nil
	}

	compound := one.Add(periodicRate).Pow(n)
	pmt := principal.Mul(periodicRate).Mul(compound).DivRound(compound.Sub(one), moneyPrecision)
	return pmt, nil
}

// Generate builds the full schedule for the given amortization system.
func Generate(system string, principal, periodicRate decimal.Decimal, installments int) ([]types.ScheduleRow, error) {
	switch system {
	case types.SystemPrice:
		return ConstantInstallmentSchedule(principal, periodicRate, installments)
	case types.SystemSAC:
		return ConstantAmortizationSchedule(principal, periodicRate, installments)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedSystem, system)
	}
}

// ConstantInstallmentSchedule builds a PRICE schedule: constant payment,
// declining interest portion, growing principal portion.
func ConstantInstallmentSchedule(principal, periodicRate decimal.Decimal, installments int) ([]types.ScheduleRow, error) {
	pmt, err := ConstantPayment(principal, periodicRate, installments)
	if err != nil {
		return nil, err
	}

	rows := make([]types.ScheduleRow, 0, installments)
	balance := principal
	cumInterest := decimal.Zero
	cumPrincipal := decimal.Zero

	for period := 1; period <= installments; period++ {
		interest := balance.Mul(periodicRate).Round(moneyPrecision)
		principalPart := pmt.Sub(interest)
		payment := pmt

		if period == installments {
			// Close the balance exactly; the residual lands on the last
			// period's principal component.
			principalPart = balance
			payment = principalPart.Add(interest)
		}

		balance = balance.Sub(principalPart)
		if balance.IsNegative() {
			principalPart = principalPart.Add(balance)
			payment = principalPart.Add(interest)
			balance = decimal.Zero
		}

		cumInterest = cumInterest.Add(interest)
		cumPrincipal = cumPrincipal.Add(principalPart)

		rows = append(rows, types.ScheduleRow{
			Period:              period,
			Payment:             payment.Round(moneyPrecision),
			Interest:            interest,
			Principal:           principalPart.Round(moneyPrecision),
			ClosingBalance:      balance.Round(moneyPrecision),
			CumulativeInterest:  cumInterest.Round(moneyPrecision),
			CumulativePrincipal: cumPrincipal.Round(moneyPrecision),
		})
	}

	return rows, nil
}

// ConstantAmortizationSchedule builds a SAC schedule: the principal portion
// is fixed at principal/installments and the payment declines over time.
// Interest is charged on the balance before amortizing.
func ConstantAmortizationSchedule(principal, periodicRate decimal.Decimal, installments int) ([]types.ScheduleRow, error) {
	if installments <= 0 {
		return nil, fmt.Errorf("installment count must be positive, got %d", installments)
	}

	fixedPrincipal := principal.DivRound(decimal.NewFromInt(int64(installments)), moneyPrecision)

	rows := make([]types.ScheduleRow, 0, installments)
	balance := principal
	cumInterest := decimal.Zero
	cumPrincipal := decimal.Zero

	for period := 1; period <= installments; period++ {
		interest := balance.Mul(periodicRate).Round(moneyPrecision)

		principalPart := fixedPrincipal
		if period == installments {
			principalPart = balance
		}

		balance = balance.Sub(principalPart)
		if balance.IsNegative() {
			principalPart = principalPart.Add(balance)
			balance = decimal.Zero
		}

		payment := principalPart.Add(interest)
		cumInterest = cumInterest.Add(interest)
		cumPrincipal = cumPrincipal.Add(principalPart)

		rows = append(rows, types.ScheduleRow{
			Period:              period,
			Payment:             payment.Round(moneyPrecision),
			Interest:            interest,
			Principal:           principalPart.Round(moneyPrecision),
			ClosingBalance:      balance.Round(moneyPrecision),
			CumulativeInterest:  cumInterest.Round(moneyPrecision),
			CumulativePrincipal: cumPrincipal.Round(moneyPrecision),
		})
	}

	return rows, nil
}

// InterestComponent returns the interest portion of the given period
// (1-based) by simulating the schedule up to it.
func InterestComponent(system string, principal, periodicRate decimal.Decimal, installments, period int) (decimal.Decimal, error) {
	row, err := scheduleRow(system, principal, periodicRate, installments, period)
	if err != nil {
		return decimal.Zero, err
	}
	return row.Interest, nil
}

// PrincipalComponent returns the principal portion of the given period
// (1-based) by simulating the schedule up to it.
func PrincipalComponent(system string, principal, periodicRate decimal.Decimal, installments, period int) (decimal.Decimal, error) {
	row, err := scheduleRow(system, principal, periodicRate, installments, period)
	if err != nil {
		return decimal.Zero, err
	}
	return row.Principal, nil
}

func scheduleRow(system string, principal, periodicRate decimal.Decimal, installments, period int) (*types.ScheduleRow, error) {
	if period < 1 || period > installments {
		return nil, fmt.Errorf("period %d out of range [1, %d]", period, installments)
	}
	rows, err := Generate(system, principal, periodicRate, installments)
	if err != nil {
		return nil, err
	}
	return &rows[period-1], nil
}
