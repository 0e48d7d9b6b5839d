package prefs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/category"
)

// MemoryStore is an in-process Store used in tests and single-node dev
// deployments. A single mutex serializes all mutations, which also covers the
// per-user lost-update hazard. Tokens are kept in a reverse index so
// unsubscribe lookups do not scan every user.
type MemoryStore struct {
	mu       sync.RWMutex
	registry *category.Registry
	users    map[string]*Preferences
	tokens   map[string]string // token -> userID
	now      func() time.Time
	logger   *zap.Logger
}

// NewMemoryStore creates an empty in-memory preference store.
func NewMemoryStore(reg *category.Registry, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		registry: reg,
		users:    make(map[string]*Preferences),
		tokens:   make(map[string]string),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (s *MemoryStore) getOrCreateLocked(userID string) (*Preferences, error) {
	if p, ok := s.users[userID]; ok {
		return p, nil
	}

	p, err := Defaults(userID, s.registry, s.now())
	if err != nil {
		return nil, err
	}
	s.users[userID] = p
	s.tokens[p.UnsubscribeToken] = userID

	s.logger.Info("preferences created with defaults",
		zap.String("user_id", userID),
		zap.Int("categories", len(p.Categories)),
	)

	return p, nil
}

func (s *MemoryStore) UpdateGlobal(ctx context.Context, userID string, upd GlobalUpdate) (*Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}

	ApplyGlobal(p, upd)
	p.UpdatedAt = s.now()
	p.Version++

	return p.Clone(), nil
}

func (s *MemoryStore) UpdateCategory(ctx context.Context, userID, categoryID string, upd CategoryUpdate) (*CategoryPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}

	cp, err := ApplyCategory(p, s.registry, categoryID, upd)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	p.Version++

	out := *cp
	return &out, nil
}

func (s *MemoryStore) UpdateQuietHours(ctx context.Context, userID string, upd QuietHoursUpdate) (*QuietHours, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}

	qh, err := ApplyQuietHours(p, upd)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	p.Version++

	out := *qh
	return &out, nil
}

func (s *MemoryStore) UpdateDigest(ctx context.Context, userID string, upd DigestUpdate) (*DigestSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}

	ds, err := ApplyDigest(p, upd)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	p.Version++

	out := *ds
	return &out, nil
}

func (s *MemoryStore) FindByToken(ctx context.Context, token string) (*Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return s.users[userID].Clone(), nil
}
