package datemath

import (
	"math"
	"testing"

	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		basis string
		want  int
	}{
		{"30/360 full month", "2024-01-15", "2024-02-15", types.Basis30360, 30},
		{"30/360 full year", "2024-01-01", "2025-01-01", types.Basis30360, 360},
		{"30/360 caps day 31", "2024-01-31", "2024-03-31", types.Basis30360, 60},
		{"ACT/360 january", "2024-01-01", "2024-02-01", types.BasisAct360, 31},
		{"ACT/365 leap february", "2024-02-01", "2024-03-01", types.BasisAct365, 29},
		{"BUS/252 one week", "2024-01-01", "2024-01-08", types.BasisBus252, 5},
		{"BUS/252 over weekend", "2024-01-05", "2024-01-08", types.BasisBus252, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DaysBetween(tt.start, tt.end, tt.basis)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDaysBetweenSameDateIsZero(t *testing.T) {
	for _, basis := range []string{types.Basis30360, types.BasisAct360, types.BasisAct365, types.BasisBus252} {
		got, err := DaysBetween("2024-06-14", "2024-06-14", basis)
		require.NoError(t, err)
		assert.Equal(t, 0, got, "basis %s", basis)
	}
}

func TestDaysBetweenNeverNegative(t *testing.T) {
	for _, basis := range []string{types.Basis30360, types.BasisAct360, types.BasisAct365, types.BasisBus252} {
		got, err := DaysBetween("2024-06-14", "2024-06-01", basis)
		require.NoError(t, err)
		assert.Equal(t, 0, got, "basis %s", basis)
	}
}

func TestDaysBetweenInvalidDate(t *testing.T) {
	_, err := DaysBetween("14/06/2024", "2024-06-14", types.BasisAct365)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidDate)

	_, err = DaysBetween("2024-06-14", "not-a-date", types.BasisAct365)
	assert.ErrorIs(t, err, types.ErrInvalidDate)
}

func TestDaysBetweenUnsupportedBasis(t *testing.T) {
	_, err := DaysBetween("2024-06-01", "2024-06-14", "ACT/ACT")
	assert.ErrorIs(t, err, types.ErrUnsupportedBasis)
}

func TestPeriodicRateLinear(t *testing.T) {
	rate, err := PeriodicRate(decimal.NewFromInt(12), types.CompoundingLinear, types.BasisAct360, 30)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromFloat(0.01)), "got %s", rate)
}

func TestPeriodicRateExponential(t *testing.T) {
	rate, err := PeriodicRate(decimal.NewFromInt(12), types.CompoundingExponential, types.BasisAct365, 30)
	require.NoError(t, err)

	want := math.Pow(1.12, 30.0/365.0) - 1.0
	assert.InDelta(t, want, rate.InexactFloat64(), 1e-8)
}

func TestPeriodicRateZeroDays(t *testing.T) {
	rate, err := PeriodicRate(decimal.NewFromInt(12), types.CompoundingExponential, types.BasisAct365, 0)
	require.NoError(t, err)
	assert.True(t, rate.IsZero())
}

// Compounding n equal sub-periods must approximate the single-period rate.
func TestPeriodicRateSubPeriodRoundTrip(t *testing.T) {
	annual := decimal.NewFromFloat(10.5)

	full, err := PeriodicRate(annual, types.CompoundingExponential, types.BasisAct360, 90)
	require.NoError(t, err)

	sub, err := PeriodicRate(annual, types.CompoundingExponential, types.BasisAct360, 30)
	require.NoError(t, err)

	compounded := math.Pow(1.0+sub.InexactFloat64(), 3) - 1.0
	assert.InDelta(t, full.InexactFloat64(), compounded, 1e-6)
}

func TestNextPeriodEnd(t *testing.T) {
	from, err := ParseDate("2024-01-31")
	require.NoError(t, err)

	monthly, err := NextPeriodEnd(from, types.FrequencyMonthly)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", FormatDate(monthly)) // time.AddDate normalizes

	daily, err := NextPeriodEnd(from, types.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", FormatDate(daily))

	yearly, err := NextPeriodEnd(from, types.FrequencyYearly)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-31", FormatDate(yearly))

	_, err = NextPeriodEnd(from, "WEEKLY")
	assert.Error(t, err)
}
