package storage

import (
	"context"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
)

// NamespacedAdapter scopes another Storage to a key prefix, so several services
// can share one medium without seeing each other's keys.
type NamespacedAdapter struct {
	client    interfaces.Storage
	keyPrefix string
}

var _ interfaces.Storage = (*NamespacedAdapter)(nil)

// NewNamespacedAdapter wraps client so every key is stored as namespace + ":" + key.
// An empty namespace applies no prefix.
func NewNamespacedAdapter(client interfaces.Storage, namespace string) *NamespacedAdapter {
	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}
	return &NamespacedAdapter{
		client:    client,
		keyPrefix: prefix,
	}
}

// Namespace returns the key prefix applied by this adapter
func (n *NamespacedAdapter) Namespace() string {
	return n.keyPrefix
}

func (n *NamespacedAdapter) prefixedKey(key string) string {
	return n.keyPrefix + key
}

// Get retrieves a value from storage using the prefixed key.
func (n *NamespacedAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	return n.client.Get(ctx, n.prefixedKey(key))
}

// Set stores a value in storage using the prefixed key.
func (n *NamespacedAdapter) Set(ctx context.Context, key string, value []byte) error {
	return n.client.Set(ctx, n.prefixedKey(key), value)
}

// Delete removes a value from storage using the prefixed key.
func (n *NamespacedAdapter) Delete(ctx context.Context, key string) error {
	return n.client.Delete(ctx, n.prefixedKey(key))
}

// Keys lists keys inside the namespace, returned without the namespace prefix.
func (n *NamespacedAdapter) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.client.Keys(ctx, n.prefixedKey(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, n.keyPrefix))
	}
	return out, nil
}

// Clear removes every key inside the namespace and returns how many were removed
func (n *NamespacedAdapter) Clear(ctx context.Context) (int, error) {
	keys, err := n.client.Keys(ctx, n.keyPrefix)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		// Keys already carry the prefix
		if err := n.client.Delete(ctx, key); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
