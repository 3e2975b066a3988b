package identity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	model "github.com/zhouzirui/chat-widget/backend/internal/model/identity"
	"github.com/zhouzirui/chat-widget/backend/internal/service/geo"
	"github.com/zhouzirui/chat-widget/backend/internal/storage/kv"
)

// DefaultGeoTimeout bounds the one geolocation attempt made per identity.
const DefaultGeoTimeout = 3 * time.Second

// Config describes how identities are synthesized.
type Config struct {
	UserAgent  string
	ClientIP   string
	GeoTimeout time.Duration
}

// Store resolves the device's identity. The first Resolve reads or
// synthesizes it; every later call returns the memoized value.
type Store struct {
	kv      kv.Store
	locator geo.Locator
	cfg     Config
	logger  *zap.Logger

	group singleflight.Group

	mu     sync.Mutex
	cached *model.Identity
}

// NewStore creates an identity store over a key-value backend. locator may be
// nil, in which case the location stays unknown.
func NewStore(store kv.Store, locator geo.Locator, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GeoTimeout <= 0 {
		cfg.GeoTimeout = DefaultGeoTimeout
	}
	return &Store{
		kv:      store,
		locator: locator,
		cfg:     cfg,
		logger:  logger,
	}
}

// Resolve returns the device identity. It never fails: storage and
// geolocation problems are logged and the identity is still returned.
func (s *Store) Resolve(ctx context.Context) model.Identity {
	if id, ok := s.memoized(); ok {
		return id
	}

	v, _, _ := s.group.Do("resolve", func() (any, error) {
		if id, ok := s.memoized(); ok {
			return id, nil
		}
		// The first caller's cancellation must not leave a half-written
		// identity behind for everyone else.
		id := s.load(context.WithoutCancel(ctx))
		s.mu.Lock()
		s.cached = &id
		s.mu.Unlock()
		return id, nil
	})
	return v.(model.Identity)
}

func (s *Store) memoized() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return model.Identity{}, false
	}
	return *s.cached, true
}

// load returns the persisted identity, or synthesizes and persists a new one.
func (s *Store) load(ctx context.Context) model.Identity {
	if id, ok := s.readPersisted(ctx); ok {
		return id
	}

	id := model.New(s.cfg.UserAgent)
	if legacy, ok, err := s.kv.Get(ctx, model.LegacyIDKey); err != nil {
		s.logger.Warn("read legacy chat id failed", zap.Error(err))
	} else if ok && legacy != "" {
		id.LocalID = legacy
	}

	id.Location = s.locate(ctx)
	s.persist(ctx, id)

	s.logger.Info("identity created",
		zap.String("localId", id.LocalID),
		zap.String("device", string(id.Device)),
		zap.String("location", id.Location))
	return id
}

func (s *Store) readPersisted(ctx context.Context) (model.Identity, bool) {
	raw, ok, err := s.kv.Get(ctx, model.DetailsKey)
	if err != nil {
		s.logger.Warn("read identity failed", zap.Error(err))
		return model.Identity{}, false
	}
	if !ok {
		return model.Identity{}, false
	}

	var id model.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil || !id.Valid() {
		s.logger.Warn("discarding unreadable identity", zap.Error(err))
		return model.Identity{}, false
	}
	if id.Location == "" {
		id.Location = model.UnknownLocation
	}
	return id, true
}

// locate makes the single best-effort lookup. Failures degrade to
// UnknownLocation and are never retried.
func (s *Store) locate(ctx context.Context) string {
	if s.locator == nil {
		return model.UnknownLocation
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.GeoTimeout)
	defer cancel()

	location, err := s.locator.Locate(lookupCtx, s.cfg.ClientIP)
	if err != nil {
		s.logger.Debug("geolocation failed, using default location", zap.Error(err))
		return model.UnknownLocation
	}
	return location
}

func (s *Store) persist(ctx context.Context, id model.Identity) {
	encoded, err := json.Marshal(id)
	if err != nil {
		s.logger.Error("encode identity failed", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, model.LegacyIDKey, id.LocalID); err != nil {
		s.logger.Warn("persist legacy chat id failed", zap.Error(err))
	}
	if err := s.kv.Set(ctx, model.DetailsKey, string(encoded)); err != nil {
		s.logger.Warn("persist identity failed", zap.Error(err))
	}
}
