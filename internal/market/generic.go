package market

// NormalizedTick is the contract alt-exchange adapters publish: one flat row
// per instrument, already in quote units.
type NormalizedTick struct {
	Instrument   Instrument
	Price        float64
	OpenInterest float64
	FundingRate  float64
	BidDepth     float64
	AskDepth     float64
	HasBook      bool
}

// TopFromDepths builds an aggregated book from pre-summed depths.
func TopFromDepths(bidDepth, askDepth float64) (OrderbookTop, bool) {
	total := bidDepth + askDepth
	if total <= 0 {
		return OrderbookTop{}, false
	}
	imbalance := (bidDepth - askDepth) / total * 100
	if imbalance > 100 {
		imbalance = 100
	} else if imbalance < -100 {
		imbalance = -100
	}
	return OrderbookTop{BidDepth: bidDepth, AskDepth: askDepth, Imbalance: imbalance}, true
}

// ParseNormalizedTicks decodes the normalized tick contract: either a bare
// array of rows or an object with a "ticks" array.
func ParseNormalizedTicks(payload any) []NormalizedTick {
	rows, ok := toSlice(payload)
	if !ok {
		if m, isMap := toMap(payload); isMap {
			rows, ok = toSlice(m["ticks"])
		}
		if !ok {
			return nil
		}
	}
	out := make([]NormalizedTick, 0, len(rows))
	for _, row := range rows {
		m, ok := toMap(row)
		if !ok {
			continue
		}
		tick := NormalizedTick{
			Instrument:   stringFromMap(m, "instrument", "symbol", "coin"),
			Price:        floatFromMap(m, "price", "markPrice"),
			OpenInterest: floatFromMap(m, "openInterest", "oi"),
			FundingRate:  floatFromMap(m, "fundingRate", "funding"),
		}
		if tick.Instrument == "" {
			continue
		}
		if _, hasBid := m["bidDepth"]; hasBid {
			tick.BidDepth = floatFromMap(m, "bidDepth")
			tick.AskDepth = floatFromMap(m, "askDepth")
			tick.HasBook = true
		}
		out = append(out, tick)
	}
	return out
}
