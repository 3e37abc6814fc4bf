package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type memStore struct {
	data map[string]string
	fail bool
	sets int
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	if m.fail {
		return "", false, errors.New("store unavailable")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	if m.fail {
		return errors.New("store unavailable")
	}
	m.sets++
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestKey(t *testing.T) {
	if got := Key(NamespaceHistorical, "hyperliquid"); got != "historicalData/hyperliquid" {
		t.Fatalf("unexpected key: %s", got)
	}
	if got := Key(NamespaceBias); got != "biasHistory" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestExchangeHistoryRoundTrip(t *testing.T) {
	hist := NewExchangeHistory()
	hist.Price["BTC"] = []SeriesEntry{{Timestamp: 1000, Value: 50000}}
	hist.OI["BTC"] = []SeriesEntry{{Timestamp: 1000, Value: 1e9}}
	hist.Orderbook["BTC"] = []ImbalanceEntry{{Timestamp: 1000, Imbalance: 12.5}}
	hist.CVD["BTC"] = []DeltaEntry{{Delta: 4200, Time: 1000}}

	blob, err := EncodeJSON(hist)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeExchangeHistory(blob)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	blob2, err := EncodeJSON(decoded)
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	if blob != blob2 {
		t.Fatalf("round trip not byte-equal:\n%s\n%s", blob, blob2)
	}
}

func TestLoadExchangeHistoryMissing(t *testing.T) {
	hist, err := LoadExchangeHistory(context.Background(), newMemStore(), "hyperliquid")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if hist.Price == nil || hist.OI == nil || hist.Orderbook == nil || hist.CVD == nil {
		t.Fatalf("expected initialized maps on miss")
	}
}

func TestMigrateHistoricalLegacyBlob(t *testing.T) {
	store := newMemStore()
	legacy := `{"oi":{"BTC":[{"timestamp":1000,"value":1000000}]},"price":{},"orderbook":{},"cvd":{}}`
	store.data[NamespaceHistorical] = legacy

	ctx := context.Background()
	migrated, err := MigrateHistorical(ctx, store, "hyperliquid", []string{"hyperliquid", "bybit"})
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !migrated {
		t.Fatalf("expected migration to run")
	}
	if got := store.data["historicalData/hyperliquid"]; got != legacy {
		t.Fatalf("legacy blob not moved under primary: %q", got)
	}
	var empty ExchangeHistory
	if err := json.Unmarshal([]byte(store.data["historicalData/bybit"]), &empty); err != nil {
		t.Fatalf("bybit blob invalid: %v", err)
	}
	if len(empty.OI) != 0 {
		t.Fatalf("expected empty shape for bybit")
	}
	if _, ok := store.data[NamespaceHistorical]; ok {
		t.Fatalf("monolithic blob should be removed")
	}
}

func TestMigrateHistoricalAlreadyExchangeKeyed(t *testing.T) {
	store := newMemStore()
	store.data[NamespaceHistorical] = `{"hyperliquid":{"oi":{}}}`
	migrated, err := MigrateHistorical(context.Background(), store, "hyperliquid", []string{"hyperliquid"})
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if migrated {
		t.Fatalf("exchange-keyed blob must not migrate")
	}
}

func TestWriterElidesIdenticalWrites(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store, zap.NewNop())
	ctx := context.Background()
	if err := w.Write(ctx, "biasHistory", `{"BTC":[]}`); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Write(ctx, "biasHistory", `{"BTC":[]}`); err != nil {
		t.Fatalf("repeat write failed: %v", err)
	}
	if store.sets != 1 {
		t.Fatalf("expected identical write elided, got %d sets", store.sets)
	}
	if err := w.Write(ctx, "biasHistory", `{"BTC":[1]}`); err != nil {
		t.Fatalf("changed write failed: %v", err)
	}
	if store.sets != 2 {
		t.Fatalf("expected changed blob written, got %d sets", store.sets)
	}
}

func TestWriterFailureIsNonFatal(t *testing.T) {
	store := newMemStore()
	store.fail = true
	w := NewWriter(store, zap.NewNop())
	if err := w.Write(context.Background(), "biasHistory", "{}"); err == nil {
		t.Fatalf("expected error surfaced for counting")
	}
	store.fail = false
	if err := w.Write(context.Background(), "biasHistory", "{}"); err != nil {
		t.Fatalf("recovery write failed: %v", err)
	}
}
