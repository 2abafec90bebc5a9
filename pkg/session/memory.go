package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/model"
)

// DefaultMaxSessions bounds the in-memory store when no size is configured.
const DefaultMaxSessions = 1000

// MemoryStore keeps sessions in a process-local LRU. When the bound is
// reached the least recently touched session that is not extracting or
// analyzing is dropped; if every session is busy, Create fails.
type MemoryStore struct {
	mu       sync.Mutex
	max      int
	sessions *lru.Cache[string, *model.Session]
	log      *zap.Logger
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithLogger(l *zap.Logger) MemoryOption {
	return func(m *MemoryStore) { m.log = l }
}

// WithClock overrides time.Now, used by tests that age sessions.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

func NewMemoryStore(maxSessions int, opts ...MemoryOption) (*MemoryStore, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	m := &MemoryStore{
		max: maxSessions,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, o := range opts {
		o(m)
	}

	cache, err := lru.NewWithEvict[string, *model.Session](maxSessions, func(id string, s *model.Session) {
		m.log.Debug("session removed from store", zap.String("session_id", id), zap.Time("uploaded_at", s.UploadedAt))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	m.sessions = cache

	return m, nil
}

func (m *MemoryStore) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions.Contains(s.ID) {
		return fmt.Errorf("session %s: %w", s.ID, errors.ErrAlreadyExists)
	}
	if m.sessions.Len() >= m.max && !m.makeRoom() {
		return fmt.Errorf("all %d sessions are being processed: %w", m.max, errors.ErrUnavailable)
	}
	stored := s.Clone()
	stored.UpdatedAt = m.now()
	m.sessions.Add(s.ID, &stored)
	return nil
}

// makeRoom drops the least recently used idle session. Callers hold mu.
func (m *MemoryStore) makeRoom() bool {
	for _, id := range m.sessions.Keys() {
		s, ok := m.sessions.Peek(id)
		if !ok || busy(s.Status) {
			continue
		}
		m.sessions.Remove(id)
		return true
	}
	return false
}

func busy(status model.Status) bool {
	return status == model.StatusExtracting || status == model.StatusAnalyzing
}

func (m *MemoryStore) Get(_ context.Context, id string) (model.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Get(id)
	if !ok {
		return model.Session{}, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Merge(_ context.Context, id string, p Patch) (model.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Get(id)
	if !ok {
		return model.Session{}, false, nil
	}
	updated := s.Clone()
	p.Apply(&updated)
	updated.UpdatedAt = m.now()
	m.sessions.Add(id, &updated)
	return updated.Clone(), true, nil
}

func (m *MemoryStore) CompareAndSwapStatus(_ context.Context, id string, from, to model.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Peek(id)
	if !ok || s.Status != from {
		return false, nil
	}
	updated := s.Clone()
	updated.Status = to
	updated.UpdatedAt = m.now()
	m.sessions.Add(id, &updated)
	return true, nil
}

func (m *MemoryStore) ListIDs(_ context.Context) ([]string, error) {
	return m.sessions.Keys(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Remove(id), nil
}

func (m *MemoryStore) EvictOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for _, id := range m.sessions.Keys() {
		s, ok := m.sessions.Peek(id)
		if !ok || !expired(s.UploadedAt, now, maxAge) {
			continue
		}
		m.sessions.Remove(id)
		evicted++
	}
	return evicted, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	return m.sessions.Len()
}

func (m *MemoryStore) Close() error {
	m.sessions.Purge()
	return nil
}
