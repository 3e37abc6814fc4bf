package history

import (
	"sync"
	"time"

	"market-fusion/internal/state"
)

type Metric string

const (
	MetricPrice     Metric = "price"
	MetricOI        Metric = "oi"
	MetricOrderbook Metric = "orderbook"
	MetricCVD       Metric = "cvd"
)

type key struct {
	exchange   string
	instrument string
	metric     Metric
}

// Registry lazily creates one bounded series per (exchange, instrument,
// metric) and tracks which exchanges have unflushed changes.
type Registry struct {
	mu     sync.RWMutex
	bounds map[Metric]Bounds
	series map[key]*Series
	dirty  map[string]struct{}
}

// DefaultBounds builds the per-family bounds from the configured rolling TTL.
func DefaultBounds(rollingTTL time.Duration) map[Metric]Bounds {
	return map[Metric]Bounds{
		MetricPrice:     {TTL: rollingTTL, MaxCount: 2880},
		MetricOI:        {TTL: rollingTTL, MaxCount: 2880},
		MetricOrderbook: {TTL: rollingTTL, MaxCount: 2880},
		MetricCVD:       {TTL: rollingTTL, MaxCount: 5000},
	}
}

func NewRegistry(bounds map[Metric]Bounds) *Registry {
	return &Registry{
		bounds: bounds,
		series: make(map[key]*Series),
		dirty:  make(map[string]struct{}),
	}
}

// Series returns the series for the triple, creating it on first use.
func (r *Registry) Series(exchange, instrument string, metric Metric) *Series {
	k := key{exchange: exchange, instrument: instrument, metric: metric}
	r.mu.RLock()
	s, ok := r.series[k]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[k]; ok {
		return s
	}
	ex := exchange
	s = NewSeries(r.bounds[metric], func() { r.markDirty(ex) })
	r.series[k] = s
	return s
}

// Peek returns the series without creating it.
func (r *Registry) Peek(exchange, instrument string, metric Metric) (*Series, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[key{exchange: exchange, instrument: instrument, metric: metric}]
	return s, ok
}

func (r *Registry) markDirty(exchange string) {
	r.mu.Lock()
	r.dirty[exchange] = struct{}{}
	r.mu.Unlock()
}

// DirtyExchanges drains and returns the set of exchanges needing a flush.
func (r *Registry) DirtyExchanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.dirty) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.dirty))
	for ex := range r.dirty {
		out = append(out, ex)
	}
	r.dirty = make(map[string]struct{})
	return out
}

// Export builds the persisted blob shape for one exchange.
func (r *Registry) Export(exchange string, instruments []string) state.ExchangeHistory {
	hist := state.NewExchangeHistory()
	for _, instrument := range instruments {
		if s, ok := r.Peek(exchange, instrument, MetricPrice); ok && s.Len() > 0 {
			hist.Price[instrument] = toSeriesEntries(s.Snapshot())
		}
		if s, ok := r.Peek(exchange, instrument, MetricOI); ok && s.Len() > 0 {
			hist.OI[instrument] = toSeriesEntries(s.Snapshot())
		}
		if s, ok := r.Peek(exchange, instrument, MetricOrderbook); ok && s.Len() > 0 {
			hist.Orderbook[instrument] = toImbalanceEntries(s.Snapshot())
		}
		if s, ok := r.Peek(exchange, instrument, MetricCVD); ok && s.Len() > 0 {
			hist.CVD[instrument] = toDeltaEntries(s.Snapshot())
		}
	}
	return hist
}

// Import loads a persisted blob into the registry, age-trimming against nowMS.
func (r *Registry) Import(exchange string, hist state.ExchangeHistory, nowMS int64) {
	for instrument, entries := range hist.Price {
		r.Series(exchange, instrument, MetricPrice).Load(nowMS, fromSeriesEntries(entries))
	}
	for instrument, entries := range hist.OI {
		r.Series(exchange, instrument, MetricOI).Load(nowMS, fromSeriesEntries(entries))
	}
	for instrument, entries := range hist.Orderbook {
		r.Series(exchange, instrument, MetricOrderbook).Load(nowMS, fromImbalanceEntries(entries))
	}
	for instrument, entries := range hist.CVD {
		r.Series(exchange, instrument, MetricCVD).Load(nowMS, fromDeltaEntries(entries))
	}
}

func toSeriesEntries(points []Point) []state.SeriesEntry {
	out := make([]state.SeriesEntry, len(points))
	for i, pt := range points {
		out[i] = state.SeriesEntry{Timestamp: pt.TS, Value: pt.V}
	}
	return out
}

func fromSeriesEntries(entries []state.SeriesEntry) []Point {
	out := make([]Point, len(entries))
	for i, e := range entries {
		out[i] = Point{TS: e.Timestamp, V: e.Value}
	}
	return out
}

func toImbalanceEntries(points []Point) []state.ImbalanceEntry {
	out := make([]state.ImbalanceEntry, len(points))
	for i, pt := range points {
		out[i] = state.ImbalanceEntry{Timestamp: pt.TS, Imbalance: pt.V}
	}
	return out
}

func fromImbalanceEntries(entries []state.ImbalanceEntry) []Point {
	out := make([]Point, len(entries))
	for i, e := range entries {
		out[i] = Point{TS: e.Timestamp, V: e.Imbalance}
	}
	return out
}

func toDeltaEntries(points []Point) []state.DeltaEntry {
	out := make([]state.DeltaEntry, len(points))
	for i, pt := range points {
		out[i] = state.DeltaEntry{Delta: pt.V, Time: pt.TS}
	}
	return out
}

func fromDeltaEntries(entries []state.DeltaEntry) []Point {
	out := make([]Point, len(entries))
	for i, e := range entries {
		out[i] = Point{TS: e.Time, V: e.Delta}
	}
	return out
}
