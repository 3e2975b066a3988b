package identity

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/service/geo"
	"github.com/zhouzirui/chat-widget/backend/internal/storage/kv"
)

// Registry hands out one Store per device over a shared key-value backend,
// so a server hosting many browsers keeps each device's identity apart.
type Registry struct {
	backend    kv.Store
	locator    geo.Locator
	geoTimeout time.Duration
	logger     *zap.Logger

	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	stores   map[string]*Store
	lastUsed map[string]time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStoreTTL lets Sweep drop stores not handed out for longer than ttl.
// A dropped store is rebuilt from the backend on the next For.
func WithStoreTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.idleTTL = ttl
	}
}

// WithRegistryClock replaces time.Now.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry over backend.
func NewRegistry(backend kv.Store, locator geo.Locator, geoTimeout time.Duration, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		backend:    backend,
		locator:    locator,
		geoTimeout: geoTimeout,
		logger:     logger,
		now:        time.Now,
		stores:     make(map[string]*Store),
		lastUsed:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// For returns the store for deviceID, creating it on first use. userAgent and
// clientIP only matter if the device has no persisted identity yet.
func (r *Registry) For(deviceID, userAgent, clientIP string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastUsed[deviceID] = r.now()
	if store, ok := r.stores[deviceID]; ok {
		return store
	}

	store := NewStore(
		kv.WithPrefix(r.backend, "device/"+deviceID+"/"),
		r.locator,
		Config{UserAgent: userAgent, ClientIP: clientIP, GeoTimeout: r.geoTimeout},
		r.logger.With(zap.String("device", deviceID)),
	)
	r.stores[deviceID] = store
	return store
}

// Len returns the number of cached stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Sweep forgets stores idle for longer than the configured TTL and returns
// how many it dropped. Persisted identities stay in the backend.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for deviceID, used := range r.lastUsed {
		if !used.Before(cutoff) {
			continue
		}
		delete(r.stores, deviceID)
		delete(r.lastUsed, deviceID)
		removed++
	}
	return removed
}
