package fx

import (
	"context"
	"fmt"

	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// RequireRate resolves a rate through the full fallback chain:
// direct lookup for the date, then the last available rate (logged as a
// fallback), then the BRL identity, then the contract's fixed rate. When
// nothing resolves it fails with ErrFxUnavailable; a missing rate is never
// silently defaulted to 1.0 for a non-BRL currency.
func RequireRate(ctx context.Context, gateway Gateway, currency, date string, contractRate decimal.NullDecimal) (*Resolution, error) {
	res, err := gateway.GetConversionRate(ctx, date, currency)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	res, err = gateway.GetLastAvailableRate(ctx, currency)
	if err != nil {
		return nil, err
	}
	if res != nil {
		log.Warn().
			Str("currency", currency).
			Str("date", date).
			Str("source", res.Source).
			Msg("no rate for date, using last available rate")
		return res, nil
	}

	if currency == types.BRL {
		return &Resolution{Rate: decimal.NewFromInt(1), Source: SourceBRLIdentity}, nil
	}

	if contractRate.Valid && contractRate.Decimal.IsPositive() {
		log.Warn().
			Str("currency", currency).
			Str("date", date).
			Msg("no market rate available, using contract-fixed rate")
		return &Resolution{Rate: contractRate.Decimal, Source: SourceContractRate}, nil
	}

	return nil, fmt.Errorf("%w: %s on %s", types.ErrFxUnavailable, currency, date)
}
