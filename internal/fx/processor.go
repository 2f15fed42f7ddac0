package fx

import (
	"context"
	"time"

	"github.com/mvbarbosa/loanbook-api/internal/datemath"
	"github.com/rs/zerolog/log"
)

// Processor periodically refreshes recent PTAX quotes so rate lookups for
// current dates hit the store instead of falling back.
type Processor struct {
	service    *Service
	currencies []string
	interval   time.Duration
	lookback   int // days of history to refresh each pass
}

func NewProcessor(service *Service, currencies []string) *Processor {
	return &Processor{
		service:    service,
		currencies: currencies,
		interval:   6 * time.Hour,
		lookback:   7,
	}
}

// Start begins the sync loop. It runs one sync immediately and then on every
// tick until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "fx_processor").Logger()
	logger.Info().Strs("currencies", p.currencies).Msg("starting fx sync processor")

	p.syncRecent(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down fx sync processor")
			return
		case <-ticker.C:
			p.syncRecent(ctx)
		}
	}
}

func (p *Processor) syncRecent(ctx context.Context) {
	logger := log.With().Str("component", "fx_processor").Logger()

	end := time.Now()
	start := end.AddDate(0, 0, -p.lookback)

	if err := p.service.SyncPTAX(ctx, datemath.FormatDate(start), datemath.FormatDate(end), p.currencies); err != nil {
		logger.Error().Err(err).Msg("scheduled ptax sync failed")
	}
}
