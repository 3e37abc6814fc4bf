package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"market-fusion/internal/config"
	"market-fusion/internal/history"
	"market-fusion/internal/market"
	"market-fusion/internal/metrics"
	"market-fusion/internal/signal"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Instruments: []string{"BTC"},
		Exchanges:   []config.ExchangeConfig{{Name: config.PrimaryExchange, Status: "active"}},
		Engine: config.EngineConfig{
			TimeframesMin:    []int{5},
			EvaluationWindow: 15 * time.Minute,
			EvaluationGrace:  2 * time.Minute,
			MinSignalGap:     time.Minute,
			WinThresholdPct:  0.3,
			RollingTTL:       4 * time.Hour,
			BiasHistoryTTL:   15 * time.Minute,
			Weights:          config.WeightsConfig{Flow: 5, Whale: 3, Orderbook: 1, Funding: 1},
		},
	}
}

type testClock struct {
	mu sync.Mutex
	ms int64
}

func (c *testClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}

func newTestEngine(store *memStore) (*Engine, *testClock) {
	clock := &testClock{ms: 1_700_000_000_000}
	eng := New(testConfig(), store, metrics.NewNoop(), zap.NewNop(), clock.Now)
	return eng, clock
}

func tick(price, oi, funding float64, tsMS int64) market.InstrumentTick {
	return market.InstrumentTick{
		Exchange:     config.PrimaryExchange,
		Instrument:   "BTC",
		Price:        price,
		OpenInterest: oi,
		FundingRate:  funding,
		TimestampMS:  tsMS,
	}
}

func TestSampleStrongBullConfluence(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())
	t0 := clock.Now()

	eng.ingestTick(tick(100, 1.0e9, 0, t0))

	clock.Advance(30 * time.Second)
	eng.applyTrades([]market.TradeEvent{{
		Exchange: config.PrimaryExchange, Instrument: "BTC",
		Price: 100, Size: 50, Side: market.SideBuy,
		TimestampMS: clock.Now(), TradeID: "t1",
	}})

	clock.Advance(30 * time.Second)
	eng.ingestTick(tick(100.6, 1.02e9, 0, clock.Now()))
	eng.sample(context.Background())

	snap, ok := eng.LatestSnapshot("BTC", 5)
	if !ok {
		t.Fatal("no snapshot after sample")
	}
	if snap.Flow.Type != signal.FlowStrongBull || snap.Flow.Score != 9 {
		t.Fatalf("flow = %+v, want STRONG_BULL 9", snap.Flow)
	}
	if math.Abs(snap.Projection.PriceChange-0.6) > 1e-9 {
		t.Fatalf("price change = %v, want 0.6", snap.Projection.PriceChange)
	}
	if math.Abs(snap.Projection.CVDDelta-5000) > 1e-9 {
		t.Fatalf("cvd delta = %v, want 5000", snap.Projection.CVDDelta)
	}
	want := 45.0 / 63.0
	if math.Abs(snap.Composite.Normalized-want) > 1e-9 {
		t.Fatalf("normalized = %v, want %v", snap.Composite.Normalized, want)
	}
	if snap.Composite.Grade != "A+" {
		t.Fatalf("grade = %s, want A+", snap.Composite.Grade)
	}
	if snap.OIPattern != signal.PatternStrongFlowBull || snap.Headline != signal.KindOIPattern {
		t.Fatalf("pattern = %s headline = %s", snap.OIPattern, snap.Headline)
	}
	if snap.Velocity.Label != "accelerating" {
		t.Fatalf("velocity = %+v, want accelerating", snap.Velocity)
	}
}

func TestSampleInsufficientWindow(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())

	// A single tick at the current instant gives the classifiers no older
	// point inside the window; session baseline pins to the same tick so
	// fallback changes are zero.
	eng.ingestTick(tick(100, 1.0e9, 0, clock.Now()))
	eng.sample(context.Background())

	snap, ok := eng.LatestSnapshot("BTC", 5)
	if !ok {
		t.Fatal("no snapshot")
	}
	if snap.Flow.HasTimeframeData {
		t.Fatal("expected hasTimeframeData = false")
	}
	if snap.Flow.Type != signal.FlowNeutral {
		t.Fatalf("flow = %s, want NEUTRAL", snap.Flow.Type)
	}
	if snap.Flow.Reason == "" {
		t.Fatal("expected a fallback reason")
	}
}

func TestFlowTransitionFeedsTracker(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())
	t0 := clock.Now()

	eng.ingestTick(tick(100, 1.0e9, 0, t0))
	clock.Advance(time.Minute)
	eng.applyTrades([]market.TradeEvent{{
		Exchange: config.PrimaryExchange, Instrument: "BTC",
		Price: 100, Size: 50, Side: market.SideBuy,
		TimestampMS: clock.Now(), TradeID: "t1",
	}})
	eng.ingestTick(tick(100.6, 1.02e9, 0, clock.Now()))
	eng.sample(context.Background())

	log := eng.SignalLog("BTC")
	if len(log) != 1 || log[0].Type != signal.FlowStrongBull {
		t.Fatalf("log = %+v, want one STRONG_BULL", log)
	}
	if log[0].EntryPrice != 100.6 {
		t.Fatalf("entry = %v, want 100.6", log[0].EntryPrice)
	}

	// Same flow on the next sample: no new entry.
	clock.Advance(2 * time.Minute)
	eng.ingestTick(tick(101.4, 1.04e9, 0, clock.Now()))
	eng.applyTrades([]market.TradeEvent{{
		Exchange: config.PrimaryExchange, Instrument: "BTC",
		Price: 101, Size: 50, Side: market.SideBuy,
		TimestampMS: clock.Now(), TradeID: "t2",
	}})
	eng.sample(context.Background())
	if log := eng.SignalLog("BTC"); len(log) != 1 {
		t.Fatalf("len = %d after unchanged flow, want 1", len(log))
	}
}

func TestEvaluateResolvesThroughEngine(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())
	t0 := clock.Now()

	eng.ingestTick(tick(100, 1.0e9, 0, t0))
	clock.Advance(time.Minute)
	eng.applyTrades([]market.TradeEvent{{
		Exchange: config.PrimaryExchange, Instrument: "BTC",
		Price: 100, Size: 50, Side: market.SideBuy,
		TimestampMS: clock.Now(), TradeID: "t1",
	}})
	eng.ingestTick(tick(100.6, 1.02e9, 0, clock.Now()))
	eng.sample(context.Background())

	// 15 minutes later the price is up 0.5% from the 100.6 entry.
	clock.Advance(15 * time.Minute)
	eng.ingestTick(tick(101.103, 1.02e9, 0, clock.Now()))
	eng.evaluate(context.Background())

	stats := eng.WinRates("BTC")
	if stats.Overall.Wins != 1 || stats.Overall.Total != 1 {
		t.Fatalf("stats = %+v, want one win", stats.Overall)
	}
}

func TestTradeDedup(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())
	ev := market.TradeEvent{
		Exchange: config.PrimaryExchange, Instrument: "BTC",
		Price: 100, Size: 1, Side: market.SideBuy,
		TimestampMS: clock.Now(), TradeID: "dup",
	}
	eng.applyTrades([]market.TradeEvent{ev})
	eng.applyTrades([]market.TradeEvent{ev})

	totals, ok := eng.acc.Totals("BTC")
	if !ok {
		t.Fatal("no totals")
	}
	if totals.TotalBuy != 100 {
		t.Fatalf("total buy = %v, want 100 (duplicate dropped)", totals.TotalBuy)
	}
}

func TestQueueSupersede(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())
	eng.PushTick(tick(100, 1e9, 0, clock.Now()))
	eng.PushTick(tick(101, 1e9, 0, clock.Now()))
	// Trades never supersede.
	eng.PushTrades([]market.TradeEvent{{Exchange: "x", Instrument: "BTC", Price: 1, Size: 1, Side: market.SideBuy, TradeID: "a"}})
	eng.PushTrades([]market.TradeEvent{{Exchange: "x", Instrument: "BTC", Price: 1, Size: 1, Side: market.SideBuy, TradeID: "b"}})

	eng.qmu.Lock()
	n := len(eng.queue)
	eng.qmu.Unlock()
	if n != 3 {
		t.Fatalf("queue len = %d, want 3 (second tick superseded the first)", n)
	}

	// The surviving tick task is the newer payload.
	task, _ := eng.dequeue()
	task.run(context.Background())
	eng.mu.RLock()
	got := eng.lastTick[tickKey(config.PrimaryExchange, "BTC")].Price
	eng.mu.RUnlock()
	if got != 101 {
		t.Fatalf("price = %v, want superseding 101", got)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	store := newMemStore()
	eng, clock := newTestEngine(store)
	t0 := clock.Now()

	eng.ingestTick(tick(100, 1.0e9, 0, t0))
	clock.Advance(time.Minute)
	eng.applyTrades([]market.TradeEvent{{
		Exchange: config.PrimaryExchange, Instrument: "BTC",
		Price: 100, Size: 50, Side: market.SideBuy,
		TimestampMS: clock.Now(), TradeID: "t1",
	}})
	eng.ingestTick(tick(100.6, 1.02e9, 0, clock.Now()))
	eng.sample(context.Background())
	eng.flush(context.Background())

	reborn := New(testConfig(), store, metrics.NewNoop(), zap.NewNop(), clock.Now)
	if err := reborn.load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	prices := reborn.History(config.PrimaryExchange, "BTC", history.MetricPrice)
	if len(prices) != 2 {
		t.Fatalf("price points = %d, want 2", len(prices))
	}
	if log := reborn.SignalLog("BTC"); len(log) != 1 || log[0].Type != signal.FlowStrongBull {
		t.Fatalf("signal log = %+v", log)
	}
	if hist := reborn.BiasHistory("BTC"); len(hist) != 1 {
		t.Fatalf("bias history = %+v, want one sample", hist)
	}
	// Restored CVD still answers rolling queries.
	if delta := reborn.acc.RollingDelta("BTC", (5 * time.Minute).Milliseconds(), clock.Now()); delta != 5000 {
		t.Fatalf("restored cvd delta = %v, want 5000", delta)
	}
}

func TestQueuedJobSkipsWhileBacklogged(t *testing.T) {
	eng, _ := newTestEngine(newMemStore())
	ran := 0
	job := eng.queuedJob("test", func(context.Context) { ran++ })

	job(context.Background())
	job(context.Background()) // skipped: previous dispatch still queued

	eng.qmu.Lock()
	n := len(eng.queue)
	eng.qmu.Unlock()
	if n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}
	task, _ := eng.dequeue()
	task.run(context.Background())
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}

	// After the queued dispatch ran, the job can fire again.
	job(context.Background())
	eng.qmu.Lock()
	n = len(eng.queue)
	eng.qmu.Unlock()
	if n != 1 {
		t.Fatalf("queue len = %d after clear, want 1", n)
	}
}

func TestWhaleComponentPresence(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())
	eng.ingestTick(tick(100, 1.0e9, 0, clock.Now()))

	// No whale data: component absent.
	eng.sample(context.Background())
	snap, _ := eng.LatestSnapshot("BTC", 5)
	if snap.Composite.Inputs.Whale.Present {
		t.Fatal("whale component should be absent before first fetch")
	}

	pos := func(side market.Side) market.WhalePosition {
		return market.WhalePosition{Trader: "0x1", Side: side, NotionalUSD: 2e7}
	}
	eng.ingestWhale(map[market.Instrument]market.WhaleConsensus{
		"BTC": {
			Longs:  []market.WhalePosition{pos(market.SideBuy), pos(market.SideBuy), pos(market.SideBuy)},
			Shorts: []market.WhalePosition{pos(market.SideSell)},
		},
	})
	eng.sample(context.Background())
	snap, _ = eng.LatestSnapshot("BTC", 5)
	if !snap.Composite.Inputs.Whale.Present {
		t.Fatal("whale component should be present")
	}
	// 3/4 long = 75% -> +4.
	if snap.Composite.Inputs.Whale.Score != 4 {
		t.Fatalf("whale score = %v, want 4", snap.Composite.Inputs.Whale.Score)
	}
}

func drainQueue(ctx context.Context, eng *Engine) {
	for {
		task, ok := eng.dequeue()
		if !ok {
			return
		}
		task.run(ctx)
	}
}

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func TestStartupEvaluationScoresRestoredEntries(t *testing.T) {
	store := newMemStore()
	seed, clock := newTestEngine(store)
	t0 := clock.Now()

	seed.ingestTick(tick(100, 1.0e9, 0, t0))
	clock.Advance(time.Minute)
	seed.applyTrades([]market.TradeEvent{{
		Exchange: config.PrimaryExchange, Instrument: "BTC",
		Price: 100, Size: 50, Side: market.SideBuy,
		TimestampMS: clock.Now(), TradeID: "t1",
	}})
	seed.ingestTick(tick(100.6, 1.02e9, 0, clock.Now()))
	seed.sample(context.Background()) // logs STRONG_BULL at 100.6
	entryTS := clock.Now()
	clock.Advance(time.Minute)
	seed.ingestTick(tick(101.2, 1.02e9, 0, clock.Now()))
	seed.flush(context.Background())

	// Restart with the entry 16m30s old: inside the grace window, but past
	// it by the time a 60s interval ticker would first fire.
	clock.mu.Lock()
	clock.ms = entryTS + (16*time.Minute + 30*time.Second).Milliseconds()
	clock.mu.Unlock()

	reborn := New(testConfig(), store, metrics.NewNoop(), zap.NewNop(), clock.Now)
	if err := reborn.load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	reborn.bootstrap()
	drainQueue(context.Background(), reborn)

	log := reborn.SignalLog("BTC")
	if len(log) != 1 {
		t.Fatalf("signal log = %+v, want one entry", log)
	}
	entry := log[0]
	if entry.Expired {
		t.Fatal("entry expired; startup evaluation should have scored it")
	}
	if entry.Won == nil || !*entry.Won {
		t.Fatalf("entry won = %v, want win at +0.596%%", entry.Won)
	}
	if entry.ExitPrice == nil || *entry.ExitPrice != 101.2 {
		t.Fatalf("exit price = %v, want restored last price 101.2", entry.ExitPrice)
	}
}

func TestFirstTickSamplesImmediately(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())

	eng.PushTick(tick(100, 1.0e9, 0, clock.Now()))
	drainQueue(context.Background(), eng)
	if hist := eng.BiasHistory("BTC"); len(hist) != 1 {
		t.Fatalf("bias history = %+v, want one sample after first tick", hist)
	}

	// Later ticks leave sampling to the interval job.
	clock.Advance(time.Minute)
	eng.PushTick(tick(100.5, 1.0e9, 0, clock.Now()))
	drainQueue(context.Background(), eng)
	if hist := eng.BiasHistory("BTC"); len(hist) != 1 {
		t.Fatalf("bias history = %+v, want no extra one-shot sample", hist)
	}
}

func TestFetchJobTimeoutMatchesInterval(t *testing.T) {
	var deadline time.Time
	var ok bool
	job := withTimeout(30*time.Second, func(ctx context.Context) {
		deadline, ok = ctx.Deadline()
	})

	start := time.Now()
	job(context.Background())
	if !ok {
		t.Fatal("fetch context carries no deadline")
	}
	if d := deadline.Sub(start); d < 29*time.Second || d > 31*time.Second {
		t.Fatalf("deadline %v after start, want ~30s", d)
	}
}

func TestStaleTickCountedOnce(t *testing.T) {
	eng, clock := newTestEngine(newMemStore())
	dropped := &countingCounter{}
	eng.met.TicksDropped = dropped

	tk := tick(100, 1.0e9, 0, clock.Now())
	tk.HasOrderbook = true
	tk.Orderbook = market.OrderbookTop{Imbalance: 10}
	eng.ingestTick(tk)
	eng.ingestTick(tk) // replay: price, OI and orderbook series all refuse it

	if dropped.n != 1 {
		t.Fatalf("dropped = %d, want 1 per rejected tick", dropped.n)
	}
}
