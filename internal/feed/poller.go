package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"market-fusion/internal/config"
	"market-fusion/internal/market"
)

// AltPoller polls non-primary exchanges that publish the normalized tick
// contract at {base_url}/ticks. Venue-specific wire formats stay behind
// their own adapters; the engine only ever sees normalized rows.
type AltPoller struct {
	rest        *RESTClient
	norm        *market.Normalizer
	log         *zap.Logger
	exchanges   []config.ExchangeConfig
	instruments map[market.Instrument]struct{}
	now         func() int64
}

func NewAltPoller(cfg config.FeedConfig, exchanges []config.ExchangeConfig, instruments []string, log *zap.Logger) *AltPoller {
	set := make(map[market.Instrument]struct{}, len(instruments))
	for _, in := range instruments {
		set[in] = struct{}{}
	}
	polled := make([]config.ExchangeConfig, 0, len(exchanges))
	for _, ex := range exchanges {
		if ex.Name == config.PrimaryExchange || ex.Status != string(market.StatusActive) || ex.BaseURL == "" {
			continue
		}
		polled = append(polled, ex)
	}
	return &AltPoller{
		rest:        NewRESTClient("", cfg.Timeout, log),
		norm:        market.NewNormalizer(log, cfg.OrderbookDepth),
		log:         log,
		exchanges:   polled,
		instruments: set,
		now:         func() int64 { return time.Now().UnixMilli() },
	}
}

// Fetch polls every configured alt exchange. A venue that fails this round
// is skipped with a warning; the others still report.
func (p *AltPoller) Fetch(ctx context.Context) []market.InstrumentTick {
	var ticks []market.InstrumentTick
	for _, ex := range p.exchanges {
		payload, err := p.rest.Get(ctx, ex.BaseURL+"/ticks")
		if err != nil {
			p.log.Warn("alt exchange poll failed", zap.String("exchange", ex.Name), zap.Error(err))
			continue
		}
		ticks = append(ticks, p.convert(ex.Name, payload)...)
	}
	return ticks
}

func (p *AltPoller) convert(exchange market.Exchange, payload any) []market.InstrumentTick {
	rows := market.ParseNormalizedTicks(payload)
	nowMS := p.now()
	out := make([]market.InstrumentTick, 0, len(rows))
	for _, row := range rows {
		if _, ok := p.instruments[row.Instrument]; !ok {
			continue
		}
		tick, ok := p.norm.Tick(exchange, row.Instrument, row.Price, row.OpenInterest, row.FundingRate, nowMS)
		if !ok {
			continue
		}
		if row.HasBook {
			if top, ok := market.TopFromDepths(row.BidDepth, row.AskDepth); ok {
				tick.Orderbook = top
				tick.HasOrderbook = true
			}
		}
		out = append(out, tick)
	}
	return out
}
