package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	TicksIngested   Counter
	TicksDropped    Counter
	TradesApplied   Counter
	TradesDeduped   Counter
	PersistFailed   Counter
	SignalsLogged   Counter
	SignalsResolved Counter
	SignalsExpired  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		TicksIngested:   n,
		TicksDropped:    n,
		TradesApplied:   n,
		TradesDeduped:   n,
		PersistFailed:   n,
		SignalsLogged:   n,
		SignalsResolved: n,
		SignalsExpired:  n,
	}
}
