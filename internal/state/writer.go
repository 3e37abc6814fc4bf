package state

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// Writer funnels blob writes to the store, eliding consecutive identical
// writes per key. Failures are logged and reported but never fatal; the
// engine keeps running on in-memory state.
type Writer struct {
	store Store
	log   *zap.Logger

	mu       sync.Mutex
	lastHash map[string]uint64
}

func NewWriter(store Store, log *zap.Logger) *Writer {
	return &Writer{store: store, log: log, lastHash: make(map[string]uint64)}
}

func (w *Writer) Write(ctx context.Context, key, blob string) error {
	if w.store == nil {
		return nil
	}
	sum := hashBlob(blob)
	w.mu.Lock()
	if last, ok := w.lastHash[key]; ok && last == sum {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	if err := w.store.Set(ctx, key, blob); err != nil {
		w.log.Warn("state write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	w.mu.Lock()
	w.lastHash[key] = sum
	w.mu.Unlock()
	return nil
}

func hashBlob(blob string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(blob))
	return h.Sum64()
}
