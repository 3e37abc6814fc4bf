package market

// Instrument is a symbol drawn from the configured closed set, e.g. BTC.
type Instrument = string

// Exchange is a venue name, e.g. hyperliquid.
type Exchange = string

type ExchangeStatus string

const (
	StatusActive      ExchangeStatus = "active"
	StatusAPIRequired ExchangeStatus = "api_required"
	StatusComingSoon  ExchangeStatus = "coming_soon"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderbookTop aggregates the top N levels of each side. Depths are quote
// notional sums; Imbalance = (bid-ask)/(bid+ask)*100 in [-100, 100].
type OrderbookTop struct {
	BidDepth  float64
	AskDepth  float64
	Imbalance float64
}

// InstrumentTick is one normalized snapshot per (exchange, instrument).
type InstrumentTick struct {
	Exchange     Exchange
	Instrument   Instrument
	Price        float64
	OpenInterest float64
	FundingRate  float64
	Orderbook    OrderbookTop
	HasOrderbook bool
	TimestampMS  int64
}

// TradeEvent is one executed trade; Size is base units, Price quote units.
// Deduplicated by (Exchange, TradeID).
type TradeEvent struct {
	Instrument  Instrument
	Price       float64
	Size        float64
	Side        Side
	TimestampMS int64
	TradeID     string
	Exchange    Exchange
}

// NotionalUSD is the quote value of the trade.
func (t TradeEvent) NotionalUSD() float64 {
	return t.Price * t.Size
}

// BookLevel is one raw price level before aggregation.
type BookLevel struct {
	Price float64
	Size  float64
}

type WhalePosition struct {
	Trader           string
	Side             Side
	NotionalUSD      float64
	ConsistentWinner bool
}

// WhaleConsensus is the top-K positioning for one instrument on the primary
// exchange, delivered by the external leaderboard collaborator.
type WhaleConsensus struct {
	Longs         []WhalePosition
	Shorts        []WhalePosition
	TotalNotional float64
}
