package prefs

import "context"

// Store persists per-user preference records. Implementations must serialize
// concurrent mutations to the same user (per-user lock or optimistic version
// check) so read-modify-write updates are not lost.
type Store interface {
	// Get returns the user's record or ErrNotFound.
	Get(ctx context.Context, userID string) (*Preferences, error)

	// GetOrCreate returns the user's record, lazily creating registry-derived
	// defaults on first access. Repeated calls for the same user return the
	// same record: no duplicate token or category entries.
	GetOrCreate(ctx context.Context, userID string) (*Preferences, error)

	// UpdateGlobal applies a partial update to the top-level toggles.
	UpdateGlobal(ctx context.Context, userID string, upd GlobalUpdate) (*Preferences, error)

	// UpdateCategory applies a partial update to one category preference.
	// Fails with ErrCategoryNotFound for unknown categories and with
	// ErrMandatoryCategory when disabling a non-disableable category.
	UpdateCategory(ctx context.Context, userID, categoryID string, upd CategoryUpdate) (*CategoryPreference, error)

	// UpdateQuietHours applies a partial update to the suppression schedule.
	UpdateQuietHours(ctx context.Context, userID string, upd QuietHoursUpdate) (*QuietHours, error)

	// UpdateDigest applies a partial update to the digest settings.
	UpdateDigest(ctx context.Context, userID string, upd DigestUpdate) (*DigestSettings, error)

	// FindByToken resolves an unsubscribe token through a reverse index.
	// Returns ErrInvalidToken when no record matches.
	FindByToken(ctx context.Context, token string) (*Preferences, error)
}
