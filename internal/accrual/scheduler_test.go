package accrual

import (
	"context"
	"math"
	"testing"

	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway serves canned daily rates for a single currency and reports
// unknown dates as unresolved.
type stubGateway struct {
	rates map[string]decimal.Decimal
	last  *fx.Resolution
}

func (g *stubGateway) GetConversionRate(_ context.Context, date, currency string) (*fx.Resolution, error) {
	if currency == types.BRL {
		return &fx.Resolution{Rate: decimal.NewFromInt(1), Source: fx.SourceBRLIdentity}, nil
	}
	if rate, ok := g.rates[date]; ok {
		return &fx.Resolution{Rate: rate, Source: fx.SourcePTAX}, nil
	}
	return nil, nil
}

func (g *stubGateway) GetLastAvailableRate(_ context.Context, currency string) (*fx.Resolution, error) {
	if currency == types.BRL {
		return &fx.Resolution{Rate: decimal.NewFromInt(1), Source: fx.SourceBRLIdentity}, nil
	}
	return g.last, nil
}

func (g *stubGateway) SyncPTAX(_ context.Context, _, _ string, _ []string) error {
	return nil
}

func brlContract(annualRate string, compounding, basis string) *types.Contract {
	return &types.Contract{
		ContractID:      "CTR_test",
		Currency:        types.BRL,
		StartDate:       "2024-01-01",
		PrincipalOrigin: decimal.NewFromInt(100000),
		Legs: []types.InterestLeg{{
			Indexer:      types.IndexerFixed,
			AnnualSpread: decimal.RequireFromString(annualRate),
			Basis:        basis,
			Compounding:  compounding,
			Role:         types.RoleRate,
		}},
	}
}

func TestBuildRowsChainsBalances(t *testing.T) {
	contract := brlContract("12", types.CompoundingExponential, types.BasisAct365)
	gateway := &stubGateway{}

	rows, err := BuildRows(context.Background(), gateway, contract, "2024-01-01", "2024-04-01", types.FrequencyMonthly)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.True(t, rows[0].OpeningOrigin.Equal(contract.PrincipalOrigin))
	for i := range rows {
		assert.True(t, rows[i].ClosingOrigin.Equal(rows[i].OpeningOrigin.Add(rows[i].InterestOrigin)),
			"closing must be opening plus interest in period %d", i)
		if i > 0 {
			assert.True(t, rows[i].OpeningOrigin.Equal(rows[i-1].ClosingOrigin),
				"period %d must open at the previous closing", i)
		}
		assert.True(t, rows[i].InterestOrigin.IsPositive())
	}
}

func TestBuildRowsBRLIdentity(t *testing.T) {
	contract := brlContract("10", types.CompoundingLinear, types.Basis30360)
	gateway := &stubGateway{}

	rows, err := BuildRows(context.Background(), gateway, contract, "2024-01-01", "2024-02-01", types.FrequencyMonthly)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.True(t, row.MtmFxRate.Equal(decimal.NewFromInt(1)))
	assert.True(t, row.ContractFxRate.Equal(decimal.NewFromInt(1)))
	assert.True(t, row.FxVarTotal.IsZero())
	assert.True(t, row.FxVarPercent.IsZero())
	assert.True(t, row.ClosingContractBRL.Equal(row.ClosingOrigin))
	assert.True(t, row.ClosingMtmBRL.Equal(row.ClosingOrigin))
}

func TestBuildRowsFxDecomposition(t *testing.T) {
	contract := brlContract("12", types.CompoundingLinear, types.Basis30360)
	contract.Currency = "USD"
	contract.ContractFxRate = decimal.NewNullDecimal(decimal.RequireFromString("5.00"))

	gateway := &stubGateway{rates: map[string]decimal.Decimal{
		"2024-02-01": decimal.RequireFromString("5.20"),
	}}

	rows, err := BuildRows(context.Background(), gateway, contract, "2024-01-01", "2024-02-01", types.FrequencyMonthly)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.True(t, row.ContractFxRate.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, row.MtmFxRate.Equal(decimal.RequireFromString("5.20")))
	assert.Equal(t, fx.SourcePTAX, row.MtmFxSource)

	// 100000 * 0.01 = 1000 interest; fx variation decomposes over principal
	// and interest at the 0.20 rate gap.
	assert.True(t, row.InterestOrigin.Equal(decimal.NewFromInt(1000)))
	assert.True(t, row.FxVarPrincipal.Equal(decimal.NewFromInt(20000)))
	assert.True(t, row.FxVarInterest.Equal(decimal.NewFromInt(200)))
	assert.True(t, row.FxVarTotal.Equal(decimal.NewFromInt(20200)))

	diff := row.FxVarTotal.Sub(row.FxVarPrincipal.Add(row.FxVarInterest)).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.02")),
		"total variation must equal the sum of its parts up to rounding, diff %s", diff)

	// (5.20/5.00 - 1) * 100 = 4%
	assert.True(t, row.FxVarPercent.Equal(decimal.NewFromInt(4)))
}

func TestBuildRowsFxUnavailable(t *testing.T) {
	contract := brlContract("12", types.CompoundingLinear, types.Basis30360)
	contract.Currency = "USD"
	gateway := &stubGateway{}

	_, err := BuildRows(context.Background(), gateway, contract, "2024-01-01", "2024-02-01", types.FrequencyMonthly)
	require.ErrorIs(t, err, types.ErrFxUnavailable)
}

func TestBuildRowsRejectsInvertedWindow(t *testing.T) {
	contract := brlContract("12", types.CompoundingLinear, types.Basis30360)
	gateway := &stubGateway{}

	_, err := BuildRows(context.Background(), gateway, contract, "2024-02-01", "2024-01-01", types.FrequencyMonthly)
	require.ErrorIs(t, err, types.ErrInvalidDate)

	_, err = BuildRows(context.Background(), gateway, contract, "2024-01-01", "2024-01-01", types.FrequencyMonthly)
	require.ErrorIs(t, err, types.ErrInvalidDate)
}

func TestBuildRowsNoRateLeg(t *testing.T) {
	contract := brlContract("12", types.CompoundingLinear, types.Basis30360)
	contract.Legs = nil

	_, err := BuildRows(context.Background(), &stubGateway{}, contract, "2024-01-01", "2024-02-01", types.FrequencyMonthly)
	require.ErrorIs(t, err, types.ErrInvalidContractState)
}

func TestBuildRowsExponentialThirtyDays(t *testing.T) {
	contract := brlContract("12", types.CompoundingExponential, types.BasisAct365)
	gateway := &stubGateway{}

	rows, err := BuildRows(context.Background(), gateway, contract, "2024-01-01", "2024-01-31", types.FrequencyMonthly)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, 30, row.Days)

	// 100000 * ((1.12)^(30/365) - 1) = 935.82
	interest := math.Pow(1.12, 30.0/365.0) - 1
	assert.InDelta(t, 100000*interest, row.InterestOrigin.InexactFloat64(), 0.01)
	assert.InDelta(t, 100000*(1+interest), row.ClosingOrigin.InexactFloat64(), 0.01)
}

func TestBuildRowsPartialFinalPeriod(t *testing.T) {
	contract := brlContract("12", types.CompoundingLinear, types.BasisAct360)
	gateway := &stubGateway{}

	rows, err := BuildRows(context.Background(), gateway, contract, "2024-01-01", "2024-02-15", types.FrequencyMonthly)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2024-02-01", rows[0].PeriodEnd)
	assert.Equal(t, "2024-02-15", rows[1].PeriodEnd)
	assert.Equal(t, 14, rows[1].Days)
}
