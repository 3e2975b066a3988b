package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/chat-widget/backend/internal/model/chat"
)

var (
	ErrDeviceRequired  = errors.New("device id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Service keeps the transcript of every widget session in memory.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	lastSeen map[string]time.Time

	idleTTL time.Duration
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIdleTTL lets Sweep drop sessions untouched for longer than ttl. Zero
// keeps sessions forever.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.idleTTL = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an empty transcript store.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a session for a device posting to route.
func (s *Service) CreateSession(_ context.Context, deviceID, route string) (chat.Session, error) {
	if deviceID == "" {
		return chat.Session{}, ErrDeviceRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Route:     route,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.lastSeen[session.ID] = s.now()
	s.mu.Unlock()

	return session, nil
}

// SaveMessage appends a message to the session transcript. A missing ID or
// creation time is filled in.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return ErrSessionNotFound
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now().UTC()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	s.lastSeen[message.SessionID] = s.now()
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	s.lastSeen[sessionID] = s.now()
	return session, nil
}

// LoadTranscript returns a copy of the session's messages in append order.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// Len returns the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the configured TTL together
// with their messages, and returns how many it removed. Sessions for which
// keep reports true are left alone; keep may be nil.
func (s *Service) Sweep(keep func(sessionID string) bool) int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for id, seen := range s.lastSeen {
		if !seen.Before(cutoff) || (keep != nil && keep(id)) {
			continue
		}
		delete(s.sessions, id)
		delete(s.messages, id)
		delete(s.lastSeen, id)
		removed++
	}
	return removed
}
