package state

import "context"

// Store is a namespaced key to blob store. Namespaces are encoded into the
// key with Key; readers outside the engine must treat the store as read-only.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	NamespaceHistorical = "historicalData"
	NamespaceBias       = "biasHistory"
	NamespaceSignals    = "signalHistory"
)

// Key joins a namespace with optional sub-keys, e.g. historicalData/hyperliquid.
func Key(ns string, parts ...string) string {
	key := ns
	for _, part := range parts {
		key += "/" + part
	}
	return key
}
