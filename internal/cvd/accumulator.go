package cvd

import (
	"sync"

	"market-fusion/internal/history"
	"market-fusion/internal/market"
)

// Totals are the running per-instrument scalars across all exchanges.
type Totals struct {
	SessionDelta  float64
	TotalBuy      float64
	TotalSell     float64
	LastIncrement float64
	PrevIncrement float64
}

// Trend is the change between the two newest increments.
func (t Totals) Trend() float64 {
	return t.LastIncrement - t.PrevIncrement
}

// BatchResult summarizes one applied trade batch in quote notional.
type BatchResult struct {
	RecentBuy   float64
	RecentSell  float64
	RecentDelta float64
}

// Accumulator derives cumulative volume delta from trade batches. The
// incremental ledger lives in the history registry under the cvd family, so
// it persists and evicts with C4 semantics.
type Accumulator struct {
	registry *history.Registry

	mu        sync.RWMutex
	totals    map[market.Instrument]*Totals
	exchanges map[market.Instrument]map[market.Exchange]struct{}
}

func New(registry *history.Registry) *Accumulator {
	return &Accumulator{
		registry:  registry,
		totals:    make(map[market.Instrument]*Totals),
		exchanges: make(map[market.Instrument]map[market.Exchange]struct{}),
	}
}

// ApplyBatch folds one batch of already-deduplicated trades for a single
// (exchange, instrument) into the ledger and running totals.
func (a *Accumulator) ApplyBatch(exchange market.Exchange, instrument market.Instrument, trades []market.TradeEvent, nowMS int64) BatchResult {
	var result BatchResult
	for _, trade := range trades {
		notional := trade.NotionalUSD()
		switch trade.Side {
		case market.SideBuy:
			result.RecentBuy += notional
		case market.SideSell:
			result.RecentSell += notional
		}
	}
	result.RecentDelta = result.RecentBuy - result.RecentSell
	if result.RecentBuy == 0 && result.RecentSell == 0 {
		return result
	}

	ledger := a.registry.Series(exchange, instrument, history.MetricCVD)
	if err := ledger.Append(nowMS, result.RecentDelta); err != nil {
		// Same-millisecond batch; nudge past the newest entry.
		if last, ok := ledger.Last(); ok {
			_ = ledger.Append(last.TS+1, result.RecentDelta)
		}
	}

	a.mu.Lock()
	totals, ok := a.totals[instrument]
	if !ok {
		totals = &Totals{}
		a.totals[instrument] = totals
	}
	totals.SessionDelta += result.RecentDelta
	totals.TotalBuy += result.RecentBuy
	totals.TotalSell += result.RecentSell
	totals.PrevIncrement = totals.LastIncrement
	totals.LastIncrement = result.RecentDelta
	seen, ok := a.exchanges[instrument]
	if !ok {
		seen = make(map[market.Exchange]struct{})
		a.exchanges[instrument] = seen
	}
	seen[exchange] = struct{}{}
	a.mu.Unlock()
	return result
}

func (a *Accumulator) Totals(instrument market.Instrument) (Totals, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	totals, ok := a.totals[instrument]
	if !ok {
		return Totals{}, false
	}
	return *totals, true
}

// RollingDelta sums ledger increments newer than nowMS-windowMS across every
// exchange that has traded the instrument.
func (a *Accumulator) RollingDelta(instrument market.Instrument, windowMS, nowMS int64) float64 {
	a.mu.RLock()
	seen := make([]market.Exchange, 0, len(a.exchanges[instrument]))
	for ex := range a.exchanges[instrument] {
		seen = append(seen, ex)
	}
	a.mu.RUnlock()
	var total float64
	for _, ex := range seen {
		if ledger, ok := a.registry.Peek(ex, instrument, history.MetricCVD); ok {
			total += ledger.SumSince(nowMS, windowMS)
		}
	}
	return total
}

func (a *Accumulator) TimeframeDelta(instrument market.Instrument, tfMinutes int, nowMS int64) float64 {
	return a.RollingDelta(instrument, int64(tfMinutes)*60_000, nowMS)
}

// RegisterExchange records that ledger entries for the pair exist, e.g. after
// an import from the store.
func (a *Accumulator) RegisterExchange(exchange market.Exchange, instrument market.Instrument) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen, ok := a.exchanges[instrument]
	if !ok {
		seen = make(map[market.Exchange]struct{})
		a.exchanges[instrument] = seen
	}
	seen[exchange] = struct{}{}
}
