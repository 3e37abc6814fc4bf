package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"market-fusion/internal/history"
	"market-fusion/internal/market"
	"market-fusion/internal/outcome"
	"market-fusion/internal/state"
)

// load restores rolling histories, bias history and the signal log from the
// store, migrating any pre-namespace monolith blob first.
func (e *Engine) load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	nowMS := e.clock()

	migrated, err := state.MigrateHistorical(ctx, e.store, e.primaryExchange(), e.cfg.ExchangeNames())
	if err != nil {
		return err
	}
	if migrated {
		e.log.Info("migrated legacy historical blob", zap.String("primary", e.primaryExchange()))
	}

	for _, exchange := range e.cfg.ExchangeNames() {
		hist, err := state.LoadExchangeHistory(ctx, e.store, exchange)
		if err != nil {
			e.log.Warn("history load failed", zap.String("exchange", exchange), zap.Error(err))
			continue
		}
		e.registry.Import(exchange, hist, nowMS)
		for instrument := range hist.CVD {
			e.acc.RegisterExchange(exchange, instrument)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, instrument := range e.cfg.Instruments {
		e.loadBiasHistory(ctx, instrument, nowMS)
		e.loadSignalLog(ctx, instrument, nowMS)
	}
	return nil
}

func (e *Engine) loadBiasHistory(ctx context.Context, instrument market.Instrument, nowMS int64) {
	blob, ok, err := e.store.Get(ctx, state.Key(state.NamespaceBias, instrument))
	if err != nil || !ok {
		if err != nil {
			e.log.Warn("bias history load failed", zap.String("instrument", instrument), zap.Error(err))
		}
		return
	}
	var samples []state.BiasSample
	if err := json.Unmarshal([]byte(blob), &samples); err != nil {
		e.log.Warn("bias history decode failed", zap.String("instrument", instrument), zap.Error(err))
		return
	}
	points := make([]history.Point, len(samples))
	for i, s := range samples {
		points[i] = history.Point{TS: s.Timestamp, V: s.Score}
	}
	e.biasSeries(instrument).Load(nowMS, points)
}

func (e *Engine) loadSignalLog(ctx context.Context, instrument market.Instrument, nowMS int64) {
	blob, ok, err := e.store.Get(ctx, state.Key(state.NamespaceSignals, instrument))
	if err != nil || !ok {
		if err != nil {
			e.log.Warn("signal log load failed", zap.String("instrument", instrument), zap.Error(err))
		}
		return
	}
	var entries []outcome.Entry
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		e.log.Warn("signal log decode failed", zap.String("instrument", instrument), zap.Error(err))
		return
	}
	e.tracker.Load(instrument, entries, nowMS)
}

// flush persists everything that changed since the last flush. Write
// failures are counted and logged; in-memory state stays authoritative and
// the next change re-marks the blob dirty.
func (e *Engine) flush(ctx context.Context) {
	if e.store == nil {
		return
	}

	for _, exchange := range e.registry.DirtyExchanges() {
		hist := e.registry.Export(exchange, e.cfg.Instruments)
		e.writeBlob(ctx, state.Key(state.NamespaceHistorical, exchange), hist)
	}

	e.mu.Lock()
	biasDirty := e.biasDirty
	e.biasDirty = make(map[market.Instrument]struct{})
	samplesByInstrument := make(map[market.Instrument][]state.BiasSample, len(biasDirty))
	for instrument := range biasDirty {
		samplesByInstrument[instrument] = e.biasSamplesLocked(instrument)
	}
	e.mu.Unlock()
	for instrument, samples := range samplesByInstrument {
		e.writeBlob(ctx, state.Key(state.NamespaceBias, instrument), samples)
	}

	for _, instrument := range e.tracker.DirtyInstruments() {
		e.writeBlob(ctx, state.Key(state.NamespaceSignals, instrument), e.tracker.Export(instrument))
	}
}

func (e *Engine) biasSamplesLocked(instrument market.Instrument) []state.BiasSample {
	series, ok := e.biasHist[instrument]
	if !ok {
		return nil
	}
	points := series.Snapshot()
	samples := make([]state.BiasSample, len(points))
	for i, p := range points {
		samples[i] = state.BiasSample{Timestamp: p.TS, Score: p.V}
	}
	return samples
}

func (e *Engine) writeBlob(ctx context.Context, key string, v any) {
	blob, err := state.EncodeJSON(v)
	if err != nil {
		e.log.Warn("blob encode failed", zap.String("key", key), zap.Error(err))
		e.met.PersistFailed.Inc()
		return
	}
	if err := e.writer.Write(ctx, key, blob); err != nil {
		e.met.PersistFailed.Inc()
	}
}
