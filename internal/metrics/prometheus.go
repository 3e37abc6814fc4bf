package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "market_fusion"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	ticksIngested   prometheus.Counter
	ticksDropped    prometheus.Counter
	tradesApplied   prometheus.Counter
	tradesDeduped   prometheus.Counter
	persistFailed   prometheus.Counter
	signalsLogged   prometheus.Counter
	signalsResolved prometheus.Counter
	signalsExpired  prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ticksIngested := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ticks_ingested_total",
		Help:      "Total number of instrument ticks accepted into the engine.",
	})
	ticksDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ticks_dropped_total",
		Help:      "Total number of instrument ticks rejected by validation.",
	})
	tradesApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_applied_total",
		Help:      "Total number of trades applied to the CVD ledger.",
	})
	tradesDeduped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_deduped_total",
		Help:      "Total number of trades dropped as duplicates.",
	})
	persistFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "persist_failed_total",
		Help:      "Total number of state persistence failures.",
	})
	signalsLogged := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "signals_logged_total",
		Help:      "Total number of directional signals logged for evaluation.",
	})
	signalsResolved := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "signals_resolved_total",
		Help:      "Total number of signals resolved with a win/loss verdict.",
	})
	signalsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "signals_expired_total",
		Help:      "Total number of signals expired past the grace window.",
	})

	registry.MustRegister(ticksIngested, ticksDropped, tradesApplied, tradesDeduped,
		persistFailed, signalsLogged, signalsResolved, signalsExpired)

	m := &Metrics{
		TicksIngested:   promCounter{ticksIngested},
		TicksDropped:    promCounter{ticksDropped},
		TradesApplied:   promCounter{tradesApplied},
		TradesDeduped:   promCounter{tradesDeduped},
		PersistFailed:   promCounter{persistFailed},
		SignalsLogged:   promCounter{signalsLogged},
		SignalsResolved: promCounter{signalsResolved},
		SignalsExpired:  promCounter{signalsExpired},
	}

	return &Prometheus{
		Metrics:         m,
		registry:        registry,
		ticksIngested:   ticksIngested,
		ticksDropped:    ticksDropped,
		tradesApplied:   tradesApplied,
		tradesDeduped:   tradesDeduped,
		persistFailed:   persistFailed,
		signalsLogged:   signalsLogged,
		signalsResolved: signalsResolved,
		signalsExpired:  signalsExpired,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
