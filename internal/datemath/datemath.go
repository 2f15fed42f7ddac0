package datemath

import (
	"fmt"
	"math"
	"time"

	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for every date in the system.
const DateLayout = "2006-01-02"

// ratePrecision is the number of decimal places periodic rates are rounded
// to. Money is rounded to 2 and FX rates to 6 at their own call sites.
const ratePrecision = 8

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", types.ErrInvalidDate, s)
	}
	return t, nil
}

// FormatDate renders a time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysBetween counts days from start to end under the given day-count basis.
// The result is never negative; DaysBetween(d, d, basis) is always 0.
func DaysBetween(start, end string, basis string) (int, error) {
	from, err := ParseDate(start)
	if err != nil {
		return 0, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return 0, err
	}

	switch basis {
	case types.Basis30360:
		return days30360(from, to), nil
	case types.BasisAct360, types.BasisAct365:
		return actualDays(from, to), nil
	case types.BasisBus252:
		return businessDays(from, to), nil
	default:
		return 0, fmt.Errorf("%w: %q", types.ErrUnsupportedBasis, basis)
	}
}

// days30360 uses 30-day months and component subtraction, not calendar
// subtraction. Day components are capped at 30.
func days30360(from, to time.Time) int {
	d1 := min(from.Day(), 30)
	d2 := min(to.Day(), 30)

	days := (to.Year()-from.Year())*360 +
		(int(to.Month())-int(from.Month()))*30 +
		(d2 - d1)
	if days < 0 {
		return 0
	}
	return days
}

// actualDays is the floored count of elapsed calendar days.
func actualDays(from, to time.Time) int {
	days := int(math.Floor(to.Sub(from).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// businessDays counts weekdays in (from, to]. Holidays are not observed;
// BUS/252 here is a weekend-only simplification.
func businessDays(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	count := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			count++
		}
	}
	return count
}

// YearlyDivisor returns the assumed year length for a basis. 30/360 and
// ACT/360 both divide by 360.
func YearlyDivisor(basis string) (int, error) {
	switch basis {
	case types.Basis30360, types.BasisAct360:
		return 360, nil
	case types.BasisAct365:
		return 365, nil
	case types.BasisBus252:
		return 252, nil
	default:
		return 0, fmt.Errorf("%w: %q", types.ErrUnsupportedBasis, basis)
	}
}

// PeriodicRate converts an annual rate in percent to the effective rate for
// a period of the given day count.
//
// Exponential: (1+r)^(days/divisor) - 1. Linear: r * days/divisor. The
// result is rounded to 8 decimal places.
func PeriodicRate(annualRatePercent decimal.Decimal, compounding string, basis string, days int) (decimal.Decimal, error) {
	divisor, err := YearlyDivisor(basis)
	if err != nil {
		return decimal.Zero, err
	}

	r := annualRatePercent.InexactFloat64() / 100.0
	fraction := float64(days) / float64(divisor)

	var rate float64
	switch compounding {
	case types.CompoundingExponential:
		rate = math.Pow(1.0+r, fraction) - 1.0
	case types.CompoundingLinear:
		rate = r * fraction
	default:
		return decimal.Zero, fmt.Errorf("unsupported compounding mode %q", compounding)
	}

	return decimal.NewFromFloat(rate).Round(ratePrecision), nil
}

// NextPeriodEnd steps a date forward by one accrual period.
func NextPeriodEnd(from time.Time, frequency string) (time.Time, error) {
	switch frequency {
	case types.FrequencyDaily:
		return from.AddDate(0, 0, 1), nil
	case types.FrequencyMonthly:
		return from.AddDate(0, 1, 0), nil
	case types.FrequencyYearly:
		return from.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported frequency %q", frequency)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
