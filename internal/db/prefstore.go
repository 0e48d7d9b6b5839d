package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/category"
	"github.com/lalithlochan/cirrus/internal/prefs"
)

// maxUpdateRetries bounds the optimistic-concurrency retry loop. Contention
// on a single user's row is rare (a user editing their own settings), so
// exhausting the retries signals something pathological.
const maxUpdateRetries = 3

// PrefStore is the durable prefs.Store backed by Postgres. Each user owns a
// single row; the nested records are JSONB columns and a version column
// serializes concurrent read-modify-write cycles.
type PrefStore struct {
	db       *DB
	registry *category.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewPrefStore creates a Postgres-backed preference store.
func NewPrefStore(db *DB, reg *category.Registry, logger *zap.Logger) *PrefStore {
	return &PrefStore{
		db:       db,
		registry: reg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *PrefStore) SetClock(now func() time.Time) {
	s.now = now
}

const prefColumns = `
	user_id, enabled, channels, categories, quiet_hours, digest,
	unsubscribe_token, version, created_at, updated_at
`

func scanPreferences(row pgx.Row) (*prefs.Preferences, error) {
	var p prefs.Preferences
	err := row.Scan(
		&p.UserID,
		&p.Enabled,
		&p.Channels,
		&p.Categories,
		&p.QuietHours,
		&p.Digest,
		&p.UnsubscribeToken,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Categories == nil {
		p.Categories = make(map[string]*prefs.CategoryPreference)
	}
	return &p, nil
}

// Get returns the user's stored record, or prefs.ErrNotFound when the user
// has never saved preferences.
func (s *PrefStore) Get(ctx context.Context, userID string) (*prefs.Preferences, error) {
	query := `SELECT ` + prefColumns + ` FROM notification_preferences WHERE user_id = $1`

	p, err := scanPreferences(s.db.Pool().QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, prefs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return p, nil
}

// GetOrCreate returns the user's record, materializing catalog defaults on
// first touch. Concurrent first touches race benignly: the insert is
// ON CONFLICT DO NOTHING and the loser re-reads the winner's row.
func (s *PrefStore) GetOrCreate(ctx context.Context, userID string) (*prefs.Preferences, error) {
	p, err := s.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, prefs.ErrNotFound) {
		return nil, err
	}

	def, err := prefs.Defaults(userID, s.registry, s.now())
	if err != nil {
		return nil, fmt.Errorf("build default preferences: %w", err)
	}

	query := `
		INSERT INTO notification_preferences (
			user_id, enabled, channels, categories, quiet_hours, digest,
			unsubscribe_token, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING
	`

	tag, err := s.db.Pool().Exec(ctx, query,
		def.UserID,
		def.Enabled,
		def.Channels,
		def.Categories,
		def.QuietHours,
		def.Digest,
		def.UnsubscribeToken,
		def.Version,
		def.CreatedAt,
		def.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert default preferences: %w", err)
	}

	if tag.RowsAffected() > 0 {
		s.logger.Info("preferences created with defaults",
			zap.String("user_id", userID),
			zap.Int("categories", len(def.Categories)),
		)
		return def, nil
	}

	// Lost the race; another request created the row.
	return s.Get(ctx, userID)
}

// save writes the mutated record guarded by the version read earlier.
// Returns false when another writer got there first.
func (s *PrefStore) save(ctx context.Context, p *prefs.Preferences) (bool, error) {
	query := `
		UPDATE notification_preferences
		SET enabled = $1, channels = $2, categories = $3, quiet_hours = $4,
		    digest = $5, version = version + 1, updated_at = $6
		WHERE user_id = $7 AND version = $8
	`

	now := s.now()
	tag, err := s.db.Pool().Exec(ctx, query,
		p.Enabled,
		p.Channels,
		p.Categories,
		p.QuietHours,
		p.Digest,
		now,
		p.UserID,
		p.Version,
	)
	if err != nil {
		return false, fmt.Errorf("update preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	p.Version++
	p.UpdatedAt = now
	return true, nil
}

// mutate runs the optimistic read-modify-write loop around apply.
func (s *PrefStore) mutate(ctx context.Context, userID string, apply func(*prefs.Preferences) error) (*prefs.Preferences, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		p, err := s.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		if err := apply(p); err != nil {
			return nil, err
		}

		saved, err := s.save(ctx, p)
		if err != nil {
			return nil, err
		}
		if saved {
			return p, nil
		}

		s.logger.Debug("preference update contended, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("preference update contended for user %s", userID)
}

func (s *PrefStore) UpdateGlobal(ctx context.Context, userID string, upd prefs.GlobalUpdate) (*prefs.Preferences, error) {
	return s.mutate(ctx, userID, func(p *prefs.Preferences) error {
		prefs.ApplyGlobal(p, upd)
		return nil
	})
}

func (s *PrefStore) UpdateCategory(ctx context.Context, userID, categoryID string, upd prefs.CategoryUpdate) (*prefs.CategoryPreference, error) {
	p, err := s.mutate(ctx, userID, func(p *prefs.Preferences) error {
		_, err := prefs.ApplyCategory(p, s.registry, categoryID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := *p.Categories[categoryID]
	return &out, nil
}

func (s *PrefStore) UpdateQuietHours(ctx context.Context, userID string, upd prefs.QuietHoursUpdate) (*prefs.QuietHours, error) {
	p, err := s.mutate(ctx, userID, func(p *prefs.Preferences) error {
		_, err := prefs.ApplyQuietHours(p, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := p.QuietHours
	return &out, nil
}

func (s *PrefStore) UpdateDigest(ctx context.Context, userID string, upd prefs.DigestUpdate) (*prefs.DigestSettings, error) {
	p, err := s.mutate(ctx, userID, func(p *prefs.Preferences) error {
		_, err := prefs.ApplyDigest(p, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := p.Digest
	return &out, nil
}

// FindByToken resolves an unsubscribe token through the unique token index.
func (s *PrefStore) FindByToken(ctx context.Context, token string) (*prefs.Preferences, error) {
	query := `SELECT ` + prefColumns + ` FROM notification_preferences WHERE unsubscribe_token = $1`

	p, err := scanPreferences(s.db.Pool().QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, prefs.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("query preferences by token: %w", err)
	}
	return p, nil
}
