package engine

import (
	"market-fusion/internal/history"
	"market-fusion/internal/market"
	"market-fusion/internal/outcome"
	"market-fusion/internal/state"
)

// Family selects which event stream a subscriber receives.
type Family string

const (
	FamilySnapshot Family = "snapshot"
	FamilyBias     Family = "bias"
	FamilySignal   Family = "signal"
)

// Event carries one immutable update; exactly one of the payload pointers is
// set, matching the family.
type Event struct {
	Family     Family
	Instrument market.Instrument

	Snapshot *Snapshot
	Bias     *state.BiasSample
	Signal   *outcome.Entry
}

// Subscribe returns a channel of events for one family. Sends never block:
// when a subscriber falls behind, events are dropped, not queued.
func (e *Engine) Subscribe(family Family, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	e.submu.Lock()
	e.subs[family] = append(e.subs[family], ch)
	e.submu.Unlock()
	return ch
}

func (e *Engine) publish(ev Event) {
	e.submu.Lock()
	subs := e.subs[ev.Family]
	e.submu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// LatestSnapshot returns the last computed snapshot for the pair; false
// until the first sample covers it.
func (e *Engine) LatestSnapshot(instrument market.Instrument, timeframeMin int) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.snapshots[snapKey(instrument, timeframeMin)]
	return snap, ok
}

// BiasHistory returns the rolling composite-score samples, oldest first.
func (e *Engine) BiasHistory(instrument market.Instrument) []state.BiasSample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	series, ok := e.biasHist[instrument]
	if !ok {
		return nil
	}
	points := series.Snapshot()
	out := make([]state.BiasSample, len(points))
	for i, p := range points {
		out[i] = state.BiasSample{Timestamp: p.TS, Score: p.V}
	}
	return out
}

// SignalLog returns the instrument's logged signals, newest first.
func (e *Engine) SignalLog(instrument market.Instrument) []outcome.Entry {
	return e.tracker.Entries(instrument)
}

// WinRates returns the instrument's outcome statistics.
func (e *Engine) WinRates(instrument market.Instrument) outcome.Stats {
	return e.tracker.WinRates(instrument)
}

// History exposes a read-only view of one rolling series for consumers that
// chart raw metrics. Series are unlocked; appends happen under e.mu, so the
// read lock makes the copy consistent.
func (e *Engine) History(exchange market.Exchange, instrument market.Instrument, metric history.Metric) []history.Point {
	e.mu.RLock()
	defer e.mu.RUnlock()
	series, ok := e.registry.Peek(exchange, instrument, metric)
	if !ok {
		return nil
	}
	return series.Snapshot()
}
