// Package memory is an in-process snapshot store for single-instance
// deployments and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Store keeps snapshots in a map keyed by namespace and key.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string][]byte)}
}

// Namespace satisfies cart.StorageFactory.
func (s *Store) Namespace(namespace string) cart.Storage {
	return &namespaced{store: s, namespace: namespace}
}

// Len returns the number of stored keys across namespaces.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, keys := range s.data {
		n += len(keys)
	}
	return n
}

type namespaced struct {
	store     *Store
	namespace string
}

func (n *namespaced) Load(_ context.Context, key string) ([]byte, error) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	return slices.Clone(n.store.data[n.namespace][key]), nil
}

func (n *namespaced) Save(_ context.Context, key string, data []byte) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	keys, ok := n.store.data[n.namespace]
	if !ok {
		keys = make(map[string][]byte)
		n.store.data[n.namespace] = keys
	}
	keys[key] = slices.Clone(data)
	return nil
}

func (n *namespaced) Delete(_ context.Context, key string) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	delete(n.store.data[n.namespace], key)
	if len(n.store.data[n.namespace]) == 0 {
		delete(n.store.data, n.namespace)
	}
	return nil
}
