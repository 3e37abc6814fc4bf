// Package outcome records directional signals at their entry price and
// scores each one against the realized move after a fixed horizon.
package outcome

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"market-fusion/internal/market"
	"market-fusion/internal/signal"
)

// Entry is one logged signal. Won stays nil while the entry is pending and
// after expiry; it is set exactly once on resolution.
type Entry struct {
	Type       signal.FlowType `json:"type"`
	EntryPrice float64         `json:"entryPrice"`
	Timestamp  int64           `json:"timestamp"`
	Won        *bool           `json:"won"`
	Expired    bool            `json:"expired"`
	ExitPrice  *float64        `json:"exitPrice,omitempty"`
}

func (e Entry) pending() bool { return e.Won == nil && !e.Expired }

// Options bounds the tracker. Zero values fall back to the defaults the
// evaluation loop was tuned for.
type Options struct {
	Window          time.Duration // horizon after which an entry is scored
	Grace           time.Duration // extra time past the window before expiry
	Debounce        time.Duration // same-type entries inside this gap are dropped
	WinThresholdPct float64       // move from entry price that counts as a win
	MaxAge          time.Duration // retention for loaded history
	MaxEntries      int           // per-instrument cap for loaded history
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = 15 * time.Minute
	}
	if o.Grace <= 0 {
		o.Grace = 2 * time.Minute
	}
	if o.Debounce <= 0 {
		o.Debounce = time.Minute
	}
	if o.WinThresholdPct <= 0 {
		o.WinThresholdPct = 0.3
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 7 * 24 * time.Hour
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 500
	}
	return o
}

// Tracker keeps a newest-first signal log per instrument.
type Tracker struct {
	opts Options
	log  *zap.Logger

	mu      sync.RWMutex
	entries map[market.Instrument][]Entry
	dirty   map[market.Instrument]struct{}
}

func NewTracker(opts Options, log *zap.Logger) *Tracker {
	return &Tracker{
		opts:    opts.withDefaults(),
		log:     log,
		entries: make(map[market.Instrument][]Entry),
		dirty:   make(map[market.Instrument]struct{}),
	}
}

func isBullish(t signal.FlowType) bool {
	return t == signal.FlowStrongBull || t == signal.FlowWeakBull || t == signal.FlowBullish
}

func isBearish(t signal.FlowType) bool {
	return t == signal.FlowStrongBear || t == signal.FlowWeakBear || t == signal.FlowBearish
}

// Log records a directional signal at its entry price. Neutral and
// divergence types carry no testable direction and are dropped, as is a
// repeat of the most recent type inside the debounce gap.
func (t *Tracker) Log(instrument market.Instrument, typ signal.FlowType, entryPrice float64, nowMS int64) bool {
	if !isBullish(typ) && !isBearish(typ) {
		return false
	}
	if entryPrice <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	log := t.entries[instrument]
	if len(log) > 0 && log[0].Type == typ &&
		nowMS-log[0].Timestamp < t.opts.Debounce.Milliseconds() {
		return false
	}
	t.entries[instrument] = append([]Entry{{
		Type:       typ,
		EntryPrice: entryPrice,
		Timestamp:  nowMS,
	}}, log...)
	t.dirty[instrument] = struct{}{}
	t.log.Info("signal logged",
		zap.String("instrument", instrument),
		zap.String("type", string(typ)),
		zap.Float64("entry", entryPrice))
	return true
}

// Evaluate scores every pending entry whose age has reached the window.
// Entries inside the grace period resolve against the current price; older
// ones expire and never resolve.
func (t *Tracker) Evaluate(prices map[market.Instrument]float64, nowMS int64) (resolved, expired int) {
	windowMS := t.opts.Window.Milliseconds()
	graceMS := t.opts.Grace.Milliseconds()

	t.mu.Lock()
	defer t.mu.Unlock()

	for instrument, log := range t.entries {
		for i := range log {
			e := &log[i]
			if !e.pending() {
				continue
			}
			age := nowMS - e.Timestamp
			if age < windowMS {
				continue
			}
			if age > windowMS+graceMS {
				e.Expired = true
				expired++
				t.dirty[instrument] = struct{}{}
				continue
			}
			price, ok := prices[instrument]
			if !ok || price <= 0 {
				// No price this tick; the grace period covers the retry.
				continue
			}
			pct := (price - e.EntryPrice) / e.EntryPrice * 100
			won := false
			if isBullish(e.Type) {
				won = pct >= t.opts.WinThresholdPct
			} else {
				won = pct <= -t.opts.WinThresholdPct
			}
			e.Won = &won
			exit := price
			e.ExitPrice = &exit
			resolved++
			t.dirty[instrument] = struct{}{}
			t.log.Info("signal resolved",
				zap.String("instrument", instrument),
				zap.String("type", string(e.Type)),
				zap.Float64("pct", pct),
				zap.Bool("won", won))
		}
	}
	return resolved, expired
}

// TypeStats is the resolved win/loss tally for one signal type.
type TypeStats struct {
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Total   int     `json:"total"`
	WinRate float64 `json:"winRate"`
}

func (s *TypeStats) add(won bool) {
	if won {
		s.Wins++
	} else {
		s.Losses++
	}
	s.Total++
	s.WinRate = float64(s.Wins) / float64(s.Total) * 100
}

// Stats summarizes an instrument's log: resolved entries by type, the
// overall tally, and the lifecycle counts.
type Stats struct {
	PerType     map[signal.FlowType]TypeStats `json:"perType"`
	Overall     TypeStats                     `json:"overall"`
	Pending     int                           `json:"pending"`
	Expired     int                           `json:"expired"`
	TotalLogged int                           `json:"totalLogged"`
}

func (t *Tracker) WinRates(instrument market.Instrument) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{PerType: make(map[signal.FlowType]TypeStats)}
	for _, e := range t.entries[instrument] {
		stats.TotalLogged++
		switch {
		case e.Expired:
			stats.Expired++
		case e.Won == nil:
			stats.Pending++
		default:
			ts := stats.PerType[e.Type]
			ts.add(*e.Won)
			stats.PerType[e.Type] = ts
			stats.Overall.add(*e.Won)
		}
	}
	return stats
}

// Entries returns a copy of the instrument's log, newest first.
func (t *Tracker) Entries(instrument market.Instrument) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	log := t.entries[instrument]
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}

// Export returns the instrument's log for persistence.
func (t *Tracker) Export(instrument market.Instrument) []Entry {
	return t.Entries(instrument)
}

// DirtyInstruments drains the set of instruments whose logs changed since
// the last drain.
func (t *Tracker) DirtyInstruments() []market.Instrument {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.dirty) == 0 {
		return nil
	}
	out := make([]market.Instrument, 0, len(t.dirty))
	for instrument := range t.dirty {
		out = append(out, instrument)
	}
	t.dirty = make(map[market.Instrument]struct{})
	return out
}

// Load replaces the instrument's log with persisted entries, dropping
// anything older than the retention and trimming to the per-instrument cap.
// Loaded state is not marked dirty.
func (t *Tracker) Load(instrument market.Instrument, entries []Entry, nowMS int64) {
	cutoff := nowMS - t.opts.MaxAge.Milliseconds()
	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp >= cutoff {
			kept = append(kept, e)
		}
	}
	if len(kept) > t.opts.MaxEntries {
		kept = kept[:t.opts.MaxEntries]
	}
	t.mu.Lock()
	t.entries[instrument] = kept
	t.mu.Unlock()
}
