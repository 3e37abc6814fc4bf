package market

import (
	"math"

	"go.uber.org/zap"
)

// Normalizer validates raw snapshot fields and aggregates orderbook levels
// into canonical quote-currency units. Invalid input is dropped with a
// warning and never propagated upward.
type Normalizer struct {
	log   *zap.Logger
	depth int
}

func NewNormalizer(log *zap.Logger, depth int) *Normalizer {
	if depth <= 0 {
		depth = 10
	}
	return &Normalizer{log: log, depth: depth}
}

// Tick builds a normalized InstrumentTick. The second return is false when a
// field fails validation and the tick must be discarded.
func (n *Normalizer) Tick(exchange Exchange, instrument Instrument, price, openInterest, fundingRate float64, tsMS int64) (InstrumentTick, bool) {
	if !positiveFinite(price) {
		n.warnDrop(exchange, instrument, "price", price)
		return InstrumentTick{}, false
	}
	if openInterest < 0 || !finite(openInterest) {
		n.warnDrop(exchange, instrument, "open_interest", openInterest)
		return InstrumentTick{}, false
	}
	if !finite(fundingRate) {
		n.warnDrop(exchange, instrument, "funding_rate", fundingRate)
		return InstrumentTick{}, false
	}
	return InstrumentTick{
		Exchange:     exchange,
		Instrument:   instrument,
		Price:        price,
		OpenInterest: openInterest,
		FundingRate:  fundingRate,
		TimestampMS:  tsMS,
	}, true
}

// Book aggregates the top N levels of each side into quote-notional depths.
// Returns false when both sides are empty.
func (n *Normalizer) Book(bids, asks []BookLevel) (OrderbookTop, bool) {
	bidDepth := sumDepth(bids, n.depth)
	askDepth := sumDepth(asks, n.depth)
	total := bidDepth + askDepth
	if total <= 0 {
		return OrderbookTop{}, false
	}
	imbalance := (bidDepth - askDepth) / total * 100
	if imbalance > 100 {
		imbalance = 100
	}
	if imbalance < -100 {
		imbalance = -100
	}
	return OrderbookTop{BidDepth: bidDepth, AskDepth: askDepth, Imbalance: imbalance}, true
}

// Trade validates one trade event; bad fields drop the whole trade.
func (n *Normalizer) Trade(trade TradeEvent) bool {
	if !positiveFinite(trade.Price) || !positiveFinite(trade.Size) {
		n.warnDrop(trade.Exchange, trade.Instrument, "trade", trade.Price*trade.Size)
		return false
	}
	if trade.Side != SideBuy && trade.Side != SideSell {
		n.warnDrop(trade.Exchange, trade.Instrument, "trade_side", 0)
		return false
	}
	return trade.TradeID != ""
}

func sumDepth(levels []BookLevel, depth int) float64 {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	var total float64
	for _, lvl := range levels {
		if !positiveFinite(lvl.Price) || !positiveFinite(lvl.Size) {
			continue
		}
		total += lvl.Price * lvl.Size
	}
	return total
}

func (n *Normalizer) warnDrop(exchange Exchange, instrument Instrument, field string, value float64) {
	if n.log == nil {
		return
	}
	n.log.Warn("dropping invalid snapshot field",
		zap.String("exchange", exchange),
		zap.String("instrument", instrument),
		zap.String("field", field),
		zap.Float64("value", value),
	)
}

func positiveFinite(v float64) bool {
	return v > 0 && finite(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
