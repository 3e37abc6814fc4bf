package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"market-fusion/internal/config"
	"market-fusion/internal/market"
)

// Producer turns Hyperliquid endpoints into normalized ticks, orderbooks,
// trades and whale consensus for the configured instrument set.
type Producer struct {
	rest        *RESTClient
	ws          *WSClient
	norm        *market.Normalizer
	log         *zap.Logger
	instruments map[market.Instrument]struct{}
	whaleMinUSD float64
	now         func() int64
}

func NewProducer(cfg config.FeedConfig, instruments []string, whaleMinUSD float64, log *zap.Logger) *Producer {
	set := make(map[market.Instrument]struct{}, len(instruments))
	for _, in := range instruments {
		set[in] = struct{}{}
	}
	return &Producer{
		rest:        NewRESTClient(cfg.RESTBaseURL, cfg.Timeout, log),
		ws:          NewWSClient(cfg.WSURL, cfg.ReconnectDelay, cfg.PingInterval, log),
		norm:        market.NewNormalizer(log, cfg.OrderbookDepth),
		log:         log,
		instruments: set,
		whaleMinUSD: whaleMinUSD,
		now:         func() int64 { return time.Now().UnixMilli() },
	}
}

// FetchTicks pulls metaAndAssetCtxs and emits one validated tick per
// configured instrument found in the response.
func (p *Producer) FetchTicks(ctx context.Context) ([]market.InstrumentTick, error) {
	payload, err := p.rest.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs: %w", err)
	}
	snaps, err := market.ParsePerpSnapshots(payload)
	if err != nil {
		return nil, err
	}
	nowMS := p.now()
	ticks := make([]market.InstrumentTick, 0, len(p.instruments))
	for instrument := range p.instruments {
		snap, ok := snaps[instrument]
		if !ok {
			p.log.Warn("instrument missing from snapshot", zap.String("instrument", instrument))
			continue
		}
		tick, ok := p.norm.Tick(config.PrimaryExchange, instrument, snap.MarkPrice, snap.OpenInterest, snap.FundingRate, nowMS)
		if !ok {
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// FetchBook pulls and aggregates the top of one instrument's book.
func (p *Producer) FetchBook(ctx context.Context, instrument market.Instrument) (market.OrderbookTop, bool, error) {
	payload, err := p.rest.L2Book(ctx, instrument)
	if err != nil {
		return market.OrderbookTop{}, false, fmt.Errorf("l2Book %s: %w", instrument, err)
	}
	bids, asks, err := market.ParseL2Book(payload)
	if err != nil {
		return market.OrderbookTop{}, false, err
	}
	top, ok := p.norm.Book(bids, asks)
	return top, ok, nil
}

// FetchWhale pulls leaderboard positions and reduces them to per-instrument
// consensus above the notional threshold.
func (p *Producer) FetchWhale(ctx context.Context) (map[market.Instrument]market.WhaleConsensus, error) {
	payload, err := p.rest.LeaderboardPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("leaderboardPositions: %w", err)
	}
	consensus := market.ParseWhaleConsensus(payload, p.whaleMinUSD)
	for instrument := range consensus {
		if _, ok := p.instruments[instrument]; !ok {
			delete(consensus, instrument)
		}
	}
	return consensus, nil
}

// StreamTrades subscribes to the trades channel for every configured
// instrument and pushes validated batches to sink until ctx is done. The
// underlying client reconnects and resubscribes on its own.
func (p *Producer) StreamTrades(ctx context.Context, sink func([]market.TradeEvent)) error {
	if err := p.ws.Connect(ctx); err != nil {
		return err
	}
	for instrument := range p.instruments {
		sub := map[string]any{
			"method":       "subscribe",
			"subscription": map[string]any{"type": "trades", "coin": instrument},
		}
		if err := p.ws.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("subscribe trades %s: %w", instrument, err)
		}
	}
	return p.ws.Run(ctx, func(raw json.RawMessage) {
		batch := p.parseTradeMessage(raw)
		if len(batch) > 0 {
			sink(batch)
		}
	})
}

func (p *Producer) parseTradeMessage(raw json.RawMessage) []market.TradeEvent {
	var msg any
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.log.Warn("unparseable ws message", zap.Error(err))
		return nil
	}
	events := market.ParseTrades(msg, config.PrimaryExchange)
	kept := events[:0]
	for _, ev := range events {
		if _, ok := p.instruments[ev.Instrument]; !ok {
			continue
		}
		if !p.norm.Trade(ev) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}
