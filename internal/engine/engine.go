// Package engine wires the rolling histories, derived metrics, classifiers
// and outcome tracking into one single-writer pipeline. Producers push
// payloads into a queue; one runner goroutine drains it in arrival order, so
// every mutation of engine state happens on a single logical thread.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-fusion/internal/bias"
	"market-fusion/internal/config"
	"market-fusion/internal/cvd"
	"market-fusion/internal/history"
	"market-fusion/internal/market"
	"market-fusion/internal/metrics"
	"market-fusion/internal/outcome"
	"market-fusion/internal/signal"
	"market-fusion/internal/state"
)

// TickSource produces primary-exchange snapshots over I/O. The engine calls
// it from scheduler goroutines and feeds the results back through the queue.
type TickSource interface {
	FetchTicks(ctx context.Context) ([]market.InstrumentTick, error)
	FetchBook(ctx context.Context, instrument market.Instrument) (market.OrderbookTop, bool, error)
	FetchWhale(ctx context.Context) (map[market.Instrument]market.WhaleConsensus, error)
}

// AltSource polls secondary exchanges publishing the normalized contract.
type AltSource interface {
	Fetch(ctx context.Context) []market.InstrumentTick
}

type task struct {
	// Tasks with equal non-empty keys supersede each other while queued:
	// only the newest payload for a given (family, exchange, instrument)
	// survives to the runner. Trade batches carry no key so no executed
	// trade is ever dropped.
	key string
	run func(ctx context.Context)
}

type fundingState struct {
	Rate     float64
	PrevRate float64
	Seen     bool
}

const maxSeenTrades = 10000

type Engine struct {
	cfg   *config.Config
	log   *zap.Logger
	met   *metrics.Metrics
	clock Clock

	store  state.Store
	writer *state.Writer

	registry   *history.Registry
	acc        *cvd.Accumulator
	tracker    *outcome.Tracker
	compositor *bias.Compositor
	sched      *Scheduler

	ticks TickSource
	alt   AltSource

	qmu    sync.Mutex
	queue  []task
	notify chan struct{}

	// Read model, mutated only by the runner; the lock lets consumer
	// goroutines read consistent copies.
	mu         sync.RWMutex
	baselines  map[market.Exchange]*market.Baselines
	lastTick   map[string]market.InstrumentTick
	funding    map[market.Instrument]fundingState
	whale      map[market.Instrument]market.WhaleConsensus
	whaleSeen  bool
	lastFlow   map[market.Instrument]signal.FlowType
	sampled    bool
	snapshots  map[string]Snapshot
	biasHist   map[market.Instrument]*history.Series
	biasDirty  map[market.Instrument]struct{}
	seenTrades map[string]struct{}
	tradeOrder []string

	submu sync.Mutex
	subs  map[Family][]chan Event
}

func New(cfg *config.Config, store state.Store, met *metrics.Metrics, log *zap.Logger, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock
	}
	registry := history.NewRegistry(history.DefaultBounds(cfg.Engine.RollingTTL))
	return &Engine{
		cfg:      cfg,
		log:      log,
		met:      met,
		clock:    clock,
		store:    store,
		writer:   state.NewWriter(store, log),
		registry: registry,
		acc:      cvd.New(registry),
		tracker: outcome.NewTracker(outcome.Options{
			Window:          cfg.Engine.EvaluationWindow,
			Grace:           cfg.Engine.EvaluationGrace,
			Debounce:        cfg.Engine.MinSignalGap,
			WinThresholdPct: cfg.Engine.WinThresholdPct,
		}, log),
		compositor: bias.NewCompositor(cfg.Engine.Weights),
		sched:      NewScheduler(log),
		notify:     make(chan struct{}, 1),
		baselines:  make(map[market.Exchange]*market.Baselines),
		lastTick:   make(map[string]market.InstrumentTick),
		funding:    make(map[market.Instrument]fundingState),
		whale:      make(map[market.Instrument]market.WhaleConsensus),
		lastFlow:   make(map[market.Instrument]signal.FlowType),
		snapshots:  make(map[string]Snapshot),
		biasHist:   make(map[market.Instrument]*history.Series),
		biasDirty:  make(map[market.Instrument]struct{}),
		seenTrades: make(map[string]struct{}),
		subs:       make(map[Family][]chan Event),
	}
}

// SetSources attaches the producers polled by the scheduler. Either may be
// nil; the engine then runs on pushed payloads alone.
func (e *Engine) SetSources(ticks TickSource, alt AltSource) {
	e.ticks = ticks
	e.alt = alt
}

// Run loads persisted state, registers the periodic jobs and drains the
// queue until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.load(ctx); err != nil {
		e.log.Warn("state load failed, starting cold", zap.Error(err))
	}
	e.bootstrap()
	e.registerJobs()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.sched.Run(ctx)
	}()

	for {
		if t, ok := e.dequeue(); ok {
			t.run(ctx)
			continue
		}
		select {
		case <-ctx.Done():
			<-done
			// Final flush runs on a fresh context so shutdown still persists.
			e.flush(context.Background())
			return ctx.Err()
		case <-e.notify:
		}
	}
}

// bootstrap queues the one-shot startup work: an immediate evaluation pass,
// so entries restored inside their grace window are scored before the first
// interval firing would push them past it.
func (e *Engine) bootstrap() {
	e.enqueue(task{run: e.evaluate})
}

func (e *Engine) registerJobs() {
	feed := e.cfg.Feed
	if e.ticks != nil {
		e.sched.Register("market", feed.MarketInterval, withTimeout(feed.MarketInterval, e.fetchTicksJob))
		e.sched.Register("orderbook", feed.OrderbookInterval, withTimeout(feed.OrderbookInterval, e.fetchBooksJob))
		e.sched.Register("whale", feed.WhaleInterval, withTimeout(feed.WhaleInterval, e.fetchWhaleJob))
	}
	if e.alt != nil {
		e.sched.Register("altpoll", feed.AltPollInterval, withTimeout(feed.AltPollInterval, e.fetchAltJob))
	}
	e.sched.Register("sample", e.cfg.Engine.SampleInterval, e.queuedJob("sample", e.sample))
	e.sched.Register("evaluate", e.cfg.Engine.EvaluateInterval, e.queuedJob("evaluate", e.evaluate))
	e.sched.Register("flush", e.cfg.Engine.FlushDebounce, e.queuedJob("flush", e.flush))
}

// withTimeout bounds one producer fetch to its schedule interval; a fetch
// that outlives its slot is abandoned rather than stacking behind the next.
func withTimeout(d time.Duration, fn func(ctx context.Context)) func(ctx context.Context) {
	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		fn(ctx)
	}
}

// queuedJob bridges a scheduler firing onto the runner: the closure mutates
// engine state, so it must execute on the queue, and a firing is dropped
// while its predecessor is still queued or running.
func (e *Engine) queuedJob(name string, fn func(ctx context.Context)) func(ctx context.Context) {
	var pending atomic.Bool
	return func(ctx context.Context) {
		if !pending.CompareAndSwap(false, true) {
			e.log.Debug("job backlogged, skipping", zap.String("job", name))
			return
		}
		e.enqueue(task{run: func(ctx context.Context) {
			defer pending.Store(false)
			fn(ctx)
		}})
	}
}

func (e *Engine) enqueue(t task) {
	e.qmu.Lock()
	replaced := false
	if t.key != "" {
		for i := range e.queue {
			if e.queue[i].key == t.key {
				e.queue[i] = t
				replaced = true
				break
			}
		}
	}
	if !replaced {
		e.queue = append(e.queue, t)
	}
	e.qmu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Engine) dequeue() (task, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if len(e.queue) == 0 {
		return task{}, false
	}
	t := e.queue[0]
	e.queue = e.queue[1:]
	return t, true
}

func tickKey(exchange market.Exchange, instrument market.Instrument) string {
	return exchange + "/" + instrument
}

// PushTick queues one normalized tick. A newer tick for the same exchange
// and instrument replaces a queued older one.
func (e *Engine) PushTick(tick market.InstrumentTick) {
	e.enqueue(task{
		key: "tick/" + tickKey(tick.Exchange, tick.Instrument),
		run: func(context.Context) { e.ingestTick(tick) },
	})
}

// PushBook queues an aggregated orderbook for the primary exchange.
func (e *Engine) PushBook(exchange market.Exchange, instrument market.Instrument, top market.OrderbookTop) {
	e.enqueue(task{
		key: "book/" + tickKey(exchange, instrument),
		run: func(context.Context) { e.ingestBook(exchange, instrument, top) },
	})
}

// PushTrades queues a trade batch. Batches are never superseded.
func (e *Engine) PushTrades(trades []market.TradeEvent) {
	if len(trades) == 0 {
		return
	}
	e.enqueue(task{run: func(context.Context) { e.applyTrades(trades) }})
}

// PushWhale queues a whale consensus snapshot, superseding any queued one.
func (e *Engine) PushWhale(consensus map[market.Instrument]market.WhaleConsensus) {
	e.enqueue(task{
		key: "whale",
		run: func(context.Context) { e.ingestWhale(consensus) },
	})
}
