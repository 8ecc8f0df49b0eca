package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mandiwatch/internal/model"
)

// Submitter accepts observations into the engine.
type Submitter interface {
	SubmitObservation(ctx context.Context, obs model.Observation) error
}

// Poller fetches every tracked pair on each scheduler tick and submits the
// results. One slow or broken pair never blocks the others beyond its own
// request timeout.
type Poller struct {
	fetcher   QuoteFetcher
	submitter Submitter
	pairs     []Pair
	logger    zerolog.Logger
}

// NewPoller constructs a Poller over the tracked pairs.
func NewPoller(fetcher QuoteFetcher, submitter Submitter, pairs []Pair, logger zerolog.Logger) *Poller {
	return &Poller{
		fetcher:   fetcher,
		submitter: submitter,
		pairs:     pairs,
		logger:    logger.With().Str("component", "feed_poller").Logger(),
	}
}

// Poll runs one fetch-and-submit round. Matches the scheduler's TickFunc.
func (p *Poller) Poll(ctx context.Context, tick time.Time) error {
	var failed int
	for _, pair := range p.pairs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		obs, err := p.fetcher.FetchQuote(ctx, pair.Commodity, pair.Market)
		if err != nil {
			failed++
			p.logger.Warn().Err(err).
				Str("commodity", pair.Commodity).
				Str("market", pair.Market).
				Msg("quote fetch failed")
			continue
		}

		if err := p.submitter.SubmitObservation(ctx, obs); err != nil {
			failed++
			p.logger.Warn().Err(err).
				Str("commodity", pair.Commodity).
				Str("market", pair.Market).
				Msg("observation rejected")
		}
	}

	p.logger.Debug().Time("tick", tick).Int("pairs", len(p.pairs)).Int("failed", failed).Msg("poll round complete")
	return nil
}
