package state

import (
	"context"
	"encoding/json"
	"strings"
)

// Persisted blob shapes. Field names match the dashboard's historical layout
// so existing databases load without translation.

type SeriesEntry struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type ImbalanceEntry struct {
	Timestamp int64   `json:"timestamp"`
	Imbalance float64 `json:"imbalance"`
}

type DeltaEntry struct {
	Delta float64 `json:"delta"`
	Time  int64   `json:"time"`
}

// ExchangeHistory is the historicalData/{exchange} blob: one map per data
// family, keyed by instrument.
type ExchangeHistory struct {
	OI        map[string][]SeriesEntry    `json:"oi"`
	Price     map[string][]SeriesEntry    `json:"price"`
	Orderbook map[string][]ImbalanceEntry `json:"orderbook"`
	CVD       map[string][]DeltaEntry     `json:"cvd"`
}

func NewExchangeHistory() ExchangeHistory {
	return ExchangeHistory{
		OI:        make(map[string][]SeriesEntry),
		Price:     make(map[string][]SeriesEntry),
		Orderbook: make(map[string][]ImbalanceEntry),
		CVD:       make(map[string][]DeltaEntry),
	}
}

type BiasSample struct {
	Timestamp int64   `json:"timestamp"`
	Score     float64 `json:"score"`
}

func EncodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DecodeExchangeHistory(blob string) (ExchangeHistory, error) {
	var hist ExchangeHistory
	if err := json.Unmarshal([]byte(blob), &hist); err != nil {
		return ExchangeHistory{}, err
	}
	return hist, nil
}

// LoadExchangeHistory reads historicalData/{exchange}; a missing or corrupt
// blob yields an empty history rather than an error surface for the caller.
func LoadExchangeHistory(ctx context.Context, store Store, exchange string) (ExchangeHistory, error) {
	blob, ok, err := store.Get(ctx, Key(NamespaceHistorical, exchange))
	if err != nil {
		return NewExchangeHistory(), err
	}
	if !ok || strings.TrimSpace(blob) == "" {
		return NewExchangeHistory(), nil
	}
	hist, err := DecodeExchangeHistory(blob)
	if err != nil {
		return NewExchangeHistory(), err
	}
	if hist.OI == nil {
		hist.OI = make(map[string][]SeriesEntry)
	}
	if hist.Price == nil {
		hist.Price = make(map[string][]SeriesEntry)
	}
	if hist.Orderbook == nil {
		hist.Orderbook = make(map[string][]ImbalanceEntry)
	}
	if hist.CVD == nil {
		hist.CVD = make(map[string][]DeltaEntry)
	}
	return hist, nil
}

// MigrateHistorical rewrites a legacy monolithic historicalData blob into
// per-exchange sub-blobs. Legacy shape is detected by its top-level keys being
// data families instead of exchange names; it is wrapped under the primary
// exchange and empty shapes are written for the rest. Returns whether a
// migration ran.
func MigrateHistorical(ctx context.Context, store Store, primary string, exchanges []string) (bool, error) {
	blob, ok, err := store.Get(ctx, NamespaceHistorical)
	if err != nil || !ok {
		return false, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &top); err != nil {
		return false, err
	}
	if !isLegacyHistorical(top) {
		return false, nil
	}
	if err := store.Set(ctx, Key(NamespaceHistorical, primary), blob); err != nil {
		return false, err
	}
	empty, err := EncodeJSON(NewExchangeHistory())
	if err != nil {
		return false, err
	}
	for _, ex := range exchanges {
		if ex == primary {
			continue
		}
		if _, exists, err := store.Get(ctx, Key(NamespaceHistorical, ex)); err != nil {
			return false, err
		} else if exists {
			continue
		}
		if err := store.Set(ctx, Key(NamespaceHistorical, ex), empty); err != nil {
			return false, err
		}
	}
	if err := store.Delete(ctx, NamespaceHistorical); err != nil {
		return false, err
	}
	return true, nil
}

func isLegacyHistorical(top map[string]json.RawMessage) bool {
	if len(top) == 0 {
		return false
	}
	for key := range top {
		switch key {
		case "oi", "price", "orderbook", "cvd":
		default:
			return false
		}
	}
	return true
}
