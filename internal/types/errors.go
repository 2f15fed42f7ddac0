package types

import "errors"

// Error taxonomy for the loan engine. Every operation fails with exactly one
// of these kinds; pkg/response maps them onto HTTP status codes.
var (
	// ErrInvalidDate is returned when a date string does not parse as YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrFxUnavailable is returned when no FX rate is resolvable through the
	// full fallback chain. It is never silently defaulted except for the
	// BRL-to-BRL identity.
	ErrFxUnavailable = errors.New("fx rate unavailable")

	// ErrInvalidContractState is returned when a contract fails validation:
	// negative balance, backdated last-update, missing Rate leg.
	ErrInvalidContractState = errors.New("invalid contract state")

	// ErrUnsupportedBasis is returned for an unknown day-count basis.
	ErrUnsupportedBasis = errors.New("unsupported day-count basis")

	// ErrUnsupportedSystem is returned for an unknown amortization system.
	ErrUnsupportedSystem = errors.New("unsupported amortization system")
)
