// Package kv provides the device-local key-value capability the widget uses
// to persist its identity. Values are opaque strings; there is no expiry and
// no schema version.
package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Store exposes string get/set for persisted widget state. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open builds a Store for the configured driver. The returned close function
// is never nil.
func Open(driver, path string) (Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), noop, nil
	case DriverFile:
		store, err := NewFileStore(path)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case DriverSQLite:
		store, err := NewSQLiteStore(path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// MemoryStore implements Store with a map, suitable for tests and
// single-process deployments that accept losing identities on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

// Get looks up a key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	return value, ok, nil
}

// Set stores a value, replacing any previous one.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

// Prefixed scopes every key of an underlying store under a fixed prefix.
type Prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix returns a view of store whose keys are prefixed with prefix.
func WithPrefix(store Store, prefix string) *Prefixed {
	return &Prefixed{inner: store, prefix: prefix}
}

// Get reads prefix+key from the underlying store.
func (p *Prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

// Set writes prefix+key to the underlying store.
func (p *Prefixed) Set(ctx context.Context, key, value string) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}
