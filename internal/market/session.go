package market

// Baselines pins session-start price and open interest per instrument on the
// first valid tick and never re-pins until process restart.
type Baselines struct {
	price map[Instrument]float64
	oi    map[Instrument]float64
}

func NewBaselines() *Baselines {
	return &Baselines{
		price: make(map[Instrument]float64),
		oi:    make(map[Instrument]float64),
	}
}

func (b *Baselines) Observe(tick InstrumentTick) {
	if _, ok := b.price[tick.Instrument]; !ok && tick.Price > 0 {
		b.price[tick.Instrument] = tick.Price
	}
	if _, ok := b.oi[tick.Instrument]; !ok && tick.OpenInterest > 0 {
		b.oi[tick.Instrument] = tick.OpenInterest
	}
}

// PriceChange returns the session change percent for the instrument; false
// when no baseline has been pinned yet.
func (b *Baselines) PriceChange(instrument Instrument, current float64) (float64, bool) {
	start, ok := b.price[instrument]
	if !ok || start == 0 {
		return 0, false
	}
	return (current - start) / start * 100, true
}

func (b *Baselines) OIChange(instrument Instrument, current float64) (float64, bool) {
	start, ok := b.oi[instrument]
	if !ok || start == 0 {
		return 0, false
	}
	return (current - start) / start * 100, true
}
