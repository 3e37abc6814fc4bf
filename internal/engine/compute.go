package engine

import (
	"context"
	"strconv"

	"market-fusion/internal/bias"
	"market-fusion/internal/derive"
	"market-fusion/internal/history"
	"market-fusion/internal/market"
	"market-fusion/internal/outcome"
	"market-fusion/internal/signal"
	"market-fusion/internal/state"
)

// Snapshot is the immutable per-instrument, per-timeframe view the engine
// publishes. Divergence and Absorption are nil when not detected.
type Snapshot struct {
	Instrument   market.Instrument
	TimeframeMin int
	GeneratedAt  int64

	Price        float64
	OpenInterest float64
	FundingRate  float64
	Imbalance    float64
	HasBook      bool

	Projection derive.Projection
	Velocity   derive.OIVelocity
	Flow       signal.Flow
	Divergence *signal.Divergence
	Absorption *signal.Absorption
	OIPattern  signal.OIPattern
	Headline   string
	Composite  bias.Composite
	WinRates   outcome.Stats
}

func snapKey(instrument market.Instrument, tf int) string {
	return instrument + "/" + strconv.Itoa(tf)
}

// sample recomputes every configured instrument and timeframe, publishes the
// snapshots, appends the bias history sample and logs flow transitions.
func (e *Engine) sample(context.Context) {
	nowMS := e.clock()
	primary := e.primaryExchange()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, instrument := range e.cfg.Instruments {
		tick, ok := e.lastTick[tickKey(primary, instrument)]
		if !ok {
			continue
		}
		var first *Snapshot
		for _, tf := range e.cfg.Engine.TimeframesMin {
			snap := e.buildSnapshot(instrument, tick, tf, nowMS)
			e.snapshots[snapKey(instrument, tf)] = snap
			if first == nil {
				s := snap
				first = &s
			}
			e.publish(Event{Family: FamilySnapshot, Instrument: instrument, Snapshot: &snap})
		}
		if first == nil {
			continue
		}

		// Bias history samples the shortest timeframe's composite.
		if err := e.biasSeries(instrument).Append(nowMS, first.Composite.Normalized); err == nil {
			e.publish(Event{Family: FamilyBias, Instrument: instrument, Bias: &state.BiasSample{
				Timestamp: nowMS,
				Score:     first.Composite.Normalized,
			}})
		}

		// Flow transitions feed the outcome tracker.
		if first.Flow.Type != e.lastFlow[instrument] {
			e.lastFlow[instrument] = first.Flow.Type
			if e.tracker.Log(instrument, first.Flow.Type, tick.Price, nowMS) {
				e.met.SignalsLogged.Inc()
				entries := e.tracker.Entries(instrument)
				if len(entries) > 0 {
					entry := entries[0]
					e.publish(Event{Family: FamilySignal, Instrument: instrument, Signal: &entry})
				}
			}
		}
	}
}

func (e *Engine) buildSnapshot(instrument market.Instrument, tick market.InstrumentTick, tf int, nowMS int64) Snapshot {
	primary := e.primaryExchange()

	priceSeries, _ := e.registry.Peek(primary, instrument, history.MetricPrice)
	oiSeries, _ := e.registry.Peek(primary, instrument, history.MetricOI)
	obSeries, hasOBSeries := e.registry.Peek(primary, instrument, history.MetricOrderbook)

	base := e.baselines[primary]
	in := derive.Inputs{
		Price:        priceSeries,
		OI:           oiSeries,
		Orderbook:    obSeries,
		CurrentPrice: tick.Price,
		CurrentOI:    tick.OpenInterest,
		CVDDelta:     e.acc.TimeframeDelta(instrument, tf, nowMS),
	}
	if base != nil {
		in.SessionPriceChange, in.HasSessionPriceChange = base.PriceChange(instrument, tick.Price)
		in.SessionOIChange, in.HasSessionOIChange = base.OIChange(instrument, tick.OpenInterest)
	}
	proj := derive.Build(in, tf, nowMS)

	snap := Snapshot{
		Instrument:   instrument,
		TimeframeMin: tf,
		GeneratedAt:  nowMS,
		Price:        tick.Price,
		OpenInterest: tick.OpenInterest,
		FundingRate:  tick.FundingRate,
		Imbalance:    tick.Orderbook.Imbalance,
		HasBook:      tick.HasOrderbook,
		Projection:   proj,
		Flow:         signal.Confluence(proj),
	}

	if oiSeries != nil {
		if oldest, ok := oiSeries.OldestWithin(nowMS, int64(tf)*60_000); ok {
			snap.Velocity = derive.Velocity(tick.OpenInterest, oldest.V)
		}
	}

	if div, ok := signal.DetectDivergence(proj.PriceChange, proj.CVDDelta); ok {
		snap.Divergence = &div
	}
	if abs, ok := signal.DetectAbsorption(proj.PriceChange, proj.CVDDelta); ok {
		snap.Absorption = &abs
	}
	snap.OIPattern, _ = signal.DetectOIPattern(proj.PriceChange, proj.OIChange)
	snap.Headline, _ = signal.Priority(snap.Divergence, snap.Absorption, snap.OIPattern)

	fs := e.funding[instrument]
	fundingScore, fundingNote := signal.FundingBias(fs.Rate, fs.PrevRate)

	obHasData := proj.HasOrderbookData || (hasOBSeries && obSeries.Len() > 0)
	obScore, obNote := signal.OrderbookBias(proj.AvgImbalance, tick.Orderbook.Imbalance, obHasData)

	inputs := bias.Inputs{
		Flow:      snap.Flow,
		Orderbook: bias.Component{Score: obScore, Note: obNote, Present: true},
		Funding:   bias.Component{Score: fundingScore, Note: fundingNote, Present: true},
	}
	if consensus, ok := e.whale[instrument]; ok && e.whaleSeen {
		score, note := signal.WhaleBias(consensus)
		inputs.Whale = bias.Component{Score: score, Note: note, Present: len(consensus.Longs)+len(consensus.Shorts) >= 2}
	}
	snap.Composite = e.compositor.Compose(inputs)
	snap.WinRates = e.tracker.WinRates(instrument)
	return snap
}

// evaluate resolves or expires due signal log entries against current
// primary-exchange prices.
func (e *Engine) evaluate(context.Context) {
	nowMS := e.clock()
	primary := e.primaryExchange()

	e.mu.RLock()
	prices := make(map[market.Instrument]float64, len(e.cfg.Instruments))
	for _, instrument := range e.cfg.Instruments {
		if tick, ok := e.lastTick[tickKey(primary, instrument)]; ok {
			prices[instrument] = tick.Price
			continue
		}
		// Before the first tick of a run, the newest restored price point
		// stands in, so entries reloaded inside their grace window still
		// get scored.
		if series, ok := e.registry.Peek(primary, instrument, history.MetricPrice); ok {
			if last, ok := series.Last(); ok {
				prices[instrument] = last.V
			}
		}
	}
	e.mu.RUnlock()

	resolved, expired := e.tracker.Evaluate(prices, nowMS)
	for i := 0; i < resolved; i++ {
		e.met.SignalsResolved.Inc()
	}
	for i := 0; i < expired; i++ {
		e.met.SignalsExpired.Inc()
	}
}

// biasSeries lazily creates the bounded composite-score history for one
// instrument. Caller holds e.mu.
func (e *Engine) biasSeries(instrument market.Instrument) *history.Series {
	if s, ok := e.biasHist[instrument]; ok {
		return s
	}
	s := history.NewSeries(history.Bounds{
		TTL:      e.cfg.Engine.BiasHistoryTTL,
		MaxCount: biasHistoryMaxSamples,
	}, func() {
		e.biasDirty[instrument] = struct{}{}
	})
	e.biasHist[instrument] = s
	return s
}

const biasHistoryMaxSamples = 15
