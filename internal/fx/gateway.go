// Package fx resolves exchange rates for (date, currency) pairs. Rates are
// stored per day in the database, fronted by a cache, and refreshed from the
// central bank PTAX feed either on demand or by the background processor.
package fx

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/mvbarbosa/loanbook-api/internal/types"
	"github.com/mvbarbosa/loanbook-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Rate sources recorded on resolutions and ledger entries.
const (
	SourcePTAX          = "PTAX"
	SourceLastAvailable = "PTAX_LAST_AVAILABLE"
	SourceBRLIdentity   = "BRL_IDENTITY"
	SourceContractRate  = "CONTRACT_RATE"
	SourceManual        = "MANUAL"
)

// Resolution is a resolved rate and the label of where it came from.
type Resolution struct {
	Rate   decimal.Decimal `json:"rate"`
	Source string          `json:"source"`
}

// Gateway is the rate-resolution contract the core consumes. Lookups return
// (nil, nil) when no rate is known; hard failures are reserved for transport
// or storage errors.
type Gateway interface {
	GetConversionRate(ctx context.Context, date, currency string) (*Resolution, error)
	GetLastAvailableRate(ctx context.Context, currency string) (*Resolution, error)
	SyncPTAX(ctx context.Context, startDate, endDate string, currencies []string) error
}

// Service implements Gateway over the rate store, a cache, and the PTAX
// client.
type Service struct {
	db     *Database
	cache  RateCache
	client *PTAXClient
}

// NewService creates an fx service. cache may be nil, in which case an
// in-memory cache is used.
func NewService(gormDB *gorm.DB, cache RateCache, client *PTAXClient) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if client == nil {
		client = NewPTAXClient()
	}
	return &Service{
		db:     NewDatabase(gormDB),
		cache:  cache,
		client: client,
	}
}

// GetConversionRate returns the stored rate for the exact date, or nil when
// none is known.
func (s *Service) GetConversionRate(ctx context.Context, date, currency string) (*Resolution, error) {
	if currency == types.BRL {
		return &Resolution{Rate: decimal.NewFromInt(1), Source: SourceBRLIdentity}, nil
	}

	if res, ok := s.cache.Get(ctx, currency, date); ok {
		return res, nil
	}

	rate, err := s.db.GetRate(currency, date)
	if err != nil {
		return nil, fmt.Errorf("failed to look up rate: %w", err)
	}
	if rate == nil {
		return nil, nil
	}

	res := &Resolution{Rate: rate.Rate, Source: rate.Source}
	if err := s.cache.Set(ctx, currency, date, res); err != nil {
		log.Warn().Err(err).Str("currency", currency).Str("date", date).Msg("failed to cache fx rate")
	}
	return res, nil
}

// GetLastAvailableRate returns the most recent stored rate for the currency,
// or nil when the store has never seen it.
func (s *Service) GetLastAvailableRate(ctx context.Context, currency string) (*Resolution, error) {
	if currency == types.BRL {
		return &Resolution{Rate: decimal.NewFromInt(1), Source: SourceBRLIdentity}, nil
	}

	rate, err := s.db.GetLatestRate(currency)
	if err != nil {
		return nil, fmt.Errorf("failed to look up latest rate: %w", err)
	}
	if rate == nil {
		return nil, nil
	}
	return &Resolution{Rate: rate.Rate, Source: SourceLastAvailable}, nil
}

// SyncPTAX fetches daily closing rates for the date range and stores them.
// Best effort: a currency that fails to sync is logged and skipped, the
// others still go through.
func (s *Service) SyncPTAX(ctx context.Context, startDate, endDate string, currencies []string) error {
	logger := log.With().
		Str("service", "fx").
		Str("start_date", startDate).
		Str("end_date", endDate).
		Logger()

	logger.Info().Strs("currencies", currencies).Msg("starting ptax sync")

	var failed []string
	for _, currency := range currencies {
		if currency == types.BRL {
			continue
		}

		quotes, err := s.client.FetchRates(ctx, currency, startDate, endDate)
		if err != nil {
			logger.Error().Err(err).Str("currency", currency).Msg("ptax fetch failed")
			failed = append(failed, currency)
			continue
		}

		for _, quote := range quotes {
			rate := &ExchangeRate{
				Currency: currency,
				RateDate: quote.Date,
				Rate:     quote.Rate,
				Source:   SourcePTAX,
			}
			if err := s.db.UpsertRate(rate); err != nil {
				logger.Error().Err(err).Str("currency", currency).Str("date", quote.Date).Msg("failed to store rate")
				continue
			}
			res := &Resolution{Rate: quote.Rate, Source: SourcePTAX}
			if err := s.cache.Set(ctx, currency, quote.Date, res); err != nil {
				logger.Warn().Err(err).Str("currency", currency).Msg("failed to cache synced rate")
			}
		}

		logger.Debug().Str("currency", currency).Int("quotes", len(quotes)).Msg("synced currency")
	}

	if len(failed) == len(currencies) && len(currencies) > 0 {
		return fmt.Errorf("ptax sync failed for all currencies: %v", failed)
	}

	logger.Info().Msg("ptax sync completed")
	return nil
}

// GetDB exposes the rate store for the background processor.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for fx endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SyncHandler handles POST requests to trigger a PTAX sync for a date range.
// Requires internal authentication.
func (h *GinHandlers) SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SyncFxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.SyncPTAX(c.Request.Context(), req.StartDate, req.EndDate, req.Currencies); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{"message": "ptax sync completed"})
	}
}
