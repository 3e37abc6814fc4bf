package market

import (
	"errors"
	"strconv"
	"strings"
)

// Hyperliquid payload parsing. These accept the handful of shapes the /info
// and ws endpoints are known to produce and stay tolerant about field naming.

// PerpSnapshot is one instrument row out of metaAndAssetCtxs. OpenInterest is
// converted to quote notional using the mark price.
type PerpSnapshot struct {
	MarkPrice    float64
	OpenInterest float64
	FundingRate  float64
}

func ParsePerpSnapshots(payload any) (map[Instrument]PerpSnapshot, error) {
	universe, ctxs := universeAndCtxs(payload)
	if len(universe) == 0 || len(ctxs) == 0 {
		return nil, errors.New("metaAndAssetCtxs missing universe or asset contexts")
	}
	out := make(map[Instrument]PerpSnapshot)
	for i, entry := range universe {
		meta, ok := toMap(entry)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name", "coin", "symbol")
		if name == "" || i >= len(ctxs) {
			continue
		}
		ctx, ok := toMap(ctxs[i])
		if !ok {
			continue
		}
		mark := floatFromMap(ctx, "markPx", "markPrice", "mark")
		oiBase := floatFromMap(ctx, "openInterest", "oi")
		out[name] = PerpSnapshot{
			MarkPrice:    mark,
			OpenInterest: oiBase * mark,
			FundingRate:  floatFromMap(ctx, "funding", "fundingRate"),
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no perp snapshots parsed")
	}
	return out, nil
}

func universeAndCtxs(payload any) ([]any, []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 2 {
		if meta, ok := toMap(arr[0]); ok {
			if universe, ok := toSlice(meta["universe"]); ok {
				ctxs, _ := toSlice(arr[1])
				return universe, ctxs
			}
		}
	}
	if meta, ok := toMap(payload); ok {
		universe, _ := toSlice(meta["universe"])
		ctxs, _ := toSlice(meta["assetCtxs"])
		return universe, ctxs
	}
	return nil, nil
}

// ParseL2Book splits an l2Book payload into bid and ask levels, best first.
func ParseL2Book(payload any) (bids, asks []BookLevel, err error) {
	data, ok := toMap(payload)
	if !ok {
		return nil, nil, errors.New("l2Book payload is not an object")
	}
	if nested, ok := toMap(data["data"]); ok {
		data = nested
	}
	sides, ok := toSlice(data["levels"])
	if !ok || len(sides) < 2 {
		return nil, nil, errors.New("l2Book missing levels")
	}
	bids = parseBookSide(sides[0])
	asks = parseBookSide(sides[1])
	if len(bids) == 0 && len(asks) == 0 {
		return nil, nil, errors.New("l2Book has no parseable levels")
	}
	return bids, asks, nil
}

func parseBookSide(v any) []BookLevel {
	raw, ok := toSlice(v)
	if !ok {
		return nil
	}
	levels := make([]BookLevel, 0, len(raw))
	for _, item := range raw {
		lvl, ok := toMap(item)
		if !ok {
			continue
		}
		price := floatFromMap(lvl, "px", "price")
		size := floatFromMap(lvl, "sz", "size")
		if price <= 0 || size <= 0 {
			continue
		}
		levels = append(levels, BookLevel{Price: price, Size: size})
	}
	return levels
}

// ParseTrades extracts trade events from a ws trades message or a REST
// recentTrades response.
func ParseTrades(payload any, exchange Exchange) []TradeEvent {
	items, ok := toSlice(payload)
	if !ok {
		if data, isMap := toMap(payload); isMap {
			items, ok = toSlice(data["data"])
			if !ok {
				return nil
			}
		} else {
			return nil
		}
	}
	out := make([]TradeEvent, 0, len(items))
	for _, item := range items {
		raw, ok := toMap(item)
		if !ok {
			continue
		}
		trade := TradeEvent{
			Instrument: stringFromMap(raw, "coin", "symbol", "asset"),
			Price:      floatFromMap(raw, "px", "price"),
			Size:       floatFromMap(raw, "sz", "size"),
			Side:       tradeSide(stringFromMap(raw, "side")),
			Exchange:   exchange,
		}
		if ts, ok := int64FromAny(raw["time"]); ok {
			trade.TimestampMS = ts
		}
		trade.TradeID = tradeID(raw)
		if trade.Instrument == "" || trade.TradeID == "" {
			continue
		}
		out = append(out, trade)
	}
	return out
}

func tradeSide(side string) Side {
	switch strings.ToUpper(side) {
	case "B", "BUY", "BID":
		return SideBuy
	case "A", "S", "SELL", "ASK":
		return SideSell
	default:
		return ""
	}
}

func tradeID(raw map[string]any) string {
	if id := stringFromMap(raw, "tid", "tradeId", "id", "hash"); id != "" {
		return id
	}
	if id, ok := int64FromAny(raw["tid"]); ok && id != 0 {
		return strconv.FormatInt(id, 10)
	}
	return ""
}

// ParseWhaleConsensus maps a leaderboard-positions payload to per-instrument
// consensus. Positions below minNotional are ignored.
func ParseWhaleConsensus(payload any, minNotional float64) map[Instrument]WhaleConsensus {
	data, ok := toMap(payload)
	if !ok {
		return nil
	}
	if nested, ok := toMap(data["positions"]); ok {
		data = nested
	}
	out := make(map[Instrument]WhaleConsensus)
	for instrument, v := range data {
		items, ok := toSlice(v)
		if !ok {
			continue
		}
		var consensus WhaleConsensus
		for _, item := range items {
			raw, ok := toMap(item)
			if !ok {
				continue
			}
			pos := WhalePosition{
				Trader:           stringFromMap(raw, "user", "trader", "address"),
				NotionalUSD:      floatFromMap(raw, "notional", "positionValue", "szUsd"),
				ConsistentWinner: boolFromAny(raw["consistentWinner"]),
			}
			if pos.NotionalUSD < minNotional {
				continue
			}
			switch strings.ToLower(stringFromMap(raw, "side", "direction")) {
			case "long", "buy":
				pos.Side = SideBuy
				consensus.Longs = append(consensus.Longs, pos)
			case "short", "sell":
				pos.Side = SideSell
				consensus.Shorts = append(consensus.Shorts, pos)
			default:
				continue
			}
			consensus.TotalNotional += pos.NotionalUSD
		}
		if len(consensus.Longs)+len(consensus.Shorts) > 0 {
			out[instrument] = consensus
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
