package cvd

import (
	"testing"
	"time"

	"market-fusion/internal/history"
	"market-fusion/internal/market"
)

func newAccumulator() (*Accumulator, *history.Registry) {
	registry := history.NewRegistry(history.DefaultBounds(4 * time.Hour))
	return New(registry), registry
}

func trade(side market.Side, price, size float64, id string) market.TradeEvent {
	return market.TradeEvent{
		Instrument: "BTC",
		Price:      price,
		Size:       size,
		Side:       side,
		TradeID:    id,
		Exchange:   "hyperliquid",
	}
}

func TestApplyBatchDeltaAndTotals(t *testing.T) {
	a, _ := newAccumulator()
	now := int64(1_000_000)
	result := a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{
		trade(market.SideBuy, 100, 30, "1"),  // 3000 buy
		trade(market.SideSell, 100, 10, "2"), // 1000 sell
		trade(market.SideBuy, 100, 5, "3"),   // 500 buy
	}, now)
	if result.RecentBuy != 3500 || result.RecentSell != 1000 {
		t.Fatalf("unexpected batch sums: %+v", result)
	}
	if result.RecentDelta != 2500 {
		t.Fatalf("expected delta 2500, got %f", result.RecentDelta)
	}
	totals, ok := a.Totals("BTC")
	if !ok {
		t.Fatalf("expected totals for BTC")
	}
	if totals.SessionDelta != 2500 || totals.TotalBuy != 3500 || totals.TotalSell != 1000 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if totals.LastIncrement != 2500 {
		t.Fatalf("expected last increment 2500, got %f", totals.LastIncrement)
	}
}

func TestTrendAcrossBatches(t *testing.T) {
	a, _ := newAccumulator()
	a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{trade(market.SideBuy, 100, 10, "1")}, 1000)
	a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{trade(market.SideSell, 100, 4, "2")}, 2000)
	totals, _ := a.Totals("BTC")
	// 1000 buy then -400 sell: trend = -400 - 1000.
	if totals.Trend() != -1400 {
		t.Fatalf("expected trend -1400, got %f", totals.Trend())
	}
}

func TestRollingDeltaWindow(t *testing.T) {
	a, _ := newAccumulator()
	now := int64(10 * 60 * 1000)
	a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{trade(market.SideBuy, 100, 50, "1")}, now-300_000)
	a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{trade(market.SideSell, 100, 20, "2")}, now-60_000)

	if got := a.RollingDelta("BTC", 120_000, now); got != -2000 {
		t.Fatalf("expected 2m window delta -2000, got %f", got)
	}
	if got := a.TimeframeDelta("BTC", 10, now); got != 3000 {
		t.Fatalf("expected 10m delta 3000, got %f", got)
	}
	if got := a.RollingDelta("ETH", 120_000, now); got != 0 {
		t.Fatalf("expected 0 for unseen instrument, got %f", got)
	}
}

func TestRollingDeltaSumsExchanges(t *testing.T) {
	a, _ := newAccumulator()
	now := int64(1_000_000)
	a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{trade(market.SideBuy, 100, 10, "1")}, now-1000)
	other := trade(market.SideBuy, 100, 5, "2")
	other.Exchange = "bybit"
	a.ApplyBatch("bybit", "BTC", []market.TradeEvent{other}, now-500)
	if got := a.RollingDelta("BTC", 60_000, now); got != 1500 {
		t.Fatalf("expected cross-exchange delta 1500, got %f", got)
	}
}

func TestApplyBatchSameMillisecond(t *testing.T) {
	a, registry := newAccumulator()
	now := int64(1_000_000)
	a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{trade(market.SideBuy, 100, 1, "1")}, now)
	a.ApplyBatch("hyperliquid", "BTC", []market.TradeEvent{trade(market.SideBuy, 100, 2, "2")}, now)
	ledger, _ := registry.Peek("hyperliquid", "BTC", history.MetricCVD)
	if ledger.Len() != 2 {
		t.Fatalf("expected both increments recorded, got %d", ledger.Len())
	}
	if got := a.RollingDelta("BTC", 60_000, now+10); got != 300 {
		t.Fatalf("expected 300, got %f", got)
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	a, registry := newAccumulator()
	a.ApplyBatch("hyperliquid", "BTC", nil, 1000)
	if _, ok := registry.Peek("hyperliquid", "BTC", history.MetricCVD); ok {
		s, _ := registry.Peek("hyperliquid", "BTC", history.MetricCVD)
		if s.Len() != 0 {
			t.Fatalf("empty batch must not append")
		}
	}
	if _, ok := a.Totals("BTC"); ok {
		t.Fatalf("empty batch must not create totals")
	}
}
