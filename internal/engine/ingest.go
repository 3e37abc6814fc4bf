package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"market-fusion/internal/config"
	"market-fusion/internal/history"
	"market-fusion/internal/market"
)

func (e *Engine) ingestTick(tick market.InstrumentTick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base, ok := e.baselines[tick.Exchange]
	if !ok {
		base = market.NewBaselines()
		e.baselines[tick.Exchange] = base
	}
	base.Observe(tick)
	e.lastTick[tickKey(tick.Exchange, tick.Instrument)] = tick

	if tick.Exchange == e.primaryExchange() {
		fs := e.funding[tick.Instrument]
		if !fs.Seen {
			fs = fundingState{Rate: tick.FundingRate, PrevRate: tick.FundingRate, Seen: true}
		} else if tick.FundingRate != fs.Rate {
			fs.PrevRate, fs.Rate = fs.Rate, tick.FundingRate
		}
		e.funding[tick.Instrument] = fs
	}

	stale := e.appendPoint(tick.Exchange, tick.Instrument, history.MetricPrice, tick.TimestampMS, tick.Price)
	if e.appendPoint(tick.Exchange, tick.Instrument, history.MetricOI, tick.TimestampMS, tick.OpenInterest) {
		stale = true
	}
	if tick.HasOrderbook {
		if e.appendPoint(tick.Exchange, tick.Instrument, history.MetricOrderbook, tick.TimestampMS, tick.Orderbook.Imbalance) {
			stale = true
		}
	}
	// One rejected tick counts once, however many of its series refused it.
	if stale {
		e.met.TicksDropped.Inc()
	}
	e.met.TicksIngested.Inc()

	// The first primary tick makes a composite computable; sample right
	// away instead of waiting out the interval.
	if tick.Exchange == e.primaryExchange() && !e.sampled {
		e.sampled = true
		e.enqueue(task{run: e.sample})
	}
}

// appendPoint reports whether the series rejected the point as stale.
func (e *Engine) appendPoint(exchange market.Exchange, instrument market.Instrument, metric history.Metric, tsMS int64, v float64) bool {
	series := e.registry.Series(exchange, instrument, metric)
	if err := series.Append(tsMS, v); err != nil {
		if errors.Is(err, history.ErrStaleAppend) {
			return true
		}
		e.log.Warn("series append failed",
			zap.String("exchange", exchange),
			zap.String("instrument", instrument),
			zap.String("metric", string(metric)),
			zap.Error(err))
	}
	return false
}

func (e *Engine) ingestBook(exchange market.Exchange, instrument market.Instrument, top market.OrderbookTop) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := tickKey(exchange, instrument)
	if tick, ok := e.lastTick[key]; ok {
		tick.Orderbook = top
		tick.HasOrderbook = true
		e.lastTick[key] = tick
	}
	if e.appendPoint(exchange, instrument, history.MetricOrderbook, e.clock(), top.Imbalance) {
		e.met.TicksDropped.Inc()
	}
}

func (e *Engine) applyTrades(trades []market.TradeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Group by venue and instrument after deduplication; the accumulator
	// expects per-pair batches.
	type pair struct {
		exchange   market.Exchange
		instrument market.Instrument
	}
	batches := make(map[pair][]market.TradeEvent)
	for _, trade := range trades {
		id := trade.Exchange + "/" + trade.TradeID
		if _, dup := e.seenTrades[id]; dup {
			e.met.TradesDeduped.Inc()
			continue
		}
		e.rememberTrade(id)
		k := pair{trade.Exchange, trade.Instrument}
		batches[k] = append(batches[k], trade)
		e.met.TradesApplied.Inc()
	}
	nowMS := e.clock()
	for k, batch := range batches {
		e.acc.ApplyBatch(k.exchange, k.instrument, batch, nowMS)
	}
}

func (e *Engine) rememberTrade(id string) {
	e.seenTrades[id] = struct{}{}
	e.tradeOrder = append(e.tradeOrder, id)
	for len(e.tradeOrder) > maxSeenTrades {
		delete(e.seenTrades, e.tradeOrder[0])
		e.tradeOrder = e.tradeOrder[1:]
	}
}

func (e *Engine) ingestWhale(consensus map[market.Instrument]market.WhaleConsensus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.whale = consensus
	e.whaleSeen = true
}

func (e *Engine) primaryExchange() market.Exchange {
	return config.PrimaryExchange
}

func (e *Engine) fetchTicksJob(ctx context.Context) {
	ticks, err := e.ticks.FetchTicks(ctx)
	if err != nil {
		e.log.Warn("tick fetch failed", zap.Error(err))
		return
	}
	for _, tick := range ticks {
		e.PushTick(tick)
	}
}

func (e *Engine) fetchBooksJob(ctx context.Context) {
	for _, instrument := range e.cfg.Instruments {
		top, ok, err := e.ticks.FetchBook(ctx, instrument)
		if err != nil {
			e.log.Warn("book fetch failed", zap.String("instrument", instrument), zap.Error(err))
			continue
		}
		if ok {
			e.PushBook(e.primaryExchange(), instrument, top)
		}
	}
}

func (e *Engine) fetchWhaleJob(ctx context.Context) {
	consensus, err := e.ticks.FetchWhale(ctx)
	if err != nil {
		e.log.Warn("whale fetch failed", zap.Error(err))
		return
	}
	e.PushWhale(consensus)
}

func (e *Engine) fetchAltJob(ctx context.Context) {
	for _, tick := range e.alt.Fetch(ctx) {
		e.PushTick(tick)
	}
}
