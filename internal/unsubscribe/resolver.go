// Package unsubscribe resolves opaque tokens from outbound email links into
// preference changes, without any other authentication.
package unsubscribe

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/category"
	"github.com/lalithlochan/cirrus/internal/prefs"
)

// Store is the slice of the preference store the resolver needs. Token
// lookups go through the store's reverse index, not a scan.
type Store interface {
	FindByToken(ctx context.Context, token string) (*prefs.Preferences, error)
	UpdateCategory(ctx context.Context, userID, categoryID string, upd prefs.CategoryUpdate) (*prefs.CategoryPreference, error)
}

// Resolver maps an unsubscribe token to a user and disables categories.
type Resolver struct {
	store    Store
	registry *category.Registry
	logger   *zap.Logger
}

// NewResolver creates a resolver over the given store and catalog.
func NewResolver(store Store, registry *category.Registry, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Resolve disables categories for the token's owner and returns the user id.
// With a categoryID it disables just that category; with an empty categoryID
// it disables every category the user is allowed to disable, leaving
// mandatory ones untouched. Returns prefs.ErrInvalidToken when the token
// matches no user.
func (r *Resolver) Resolve(ctx context.Context, token, categoryID string) (string, error) {
	p, err := r.store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, prefs.ErrNotFound) || errors.Is(err, prefs.ErrInvalidToken) {
			return "", prefs.ErrInvalidToken
		}
		return "", fmt.Errorf("resolve token: %w", err)
	}

	disabled := false

	if categoryID != "" {
		cat, err := r.registry.Get(categoryID)
		if err != nil {
			return "", fmt.Errorf("%w: %s", prefs.ErrCategoryNotFound, categoryID)
		}
		if cat.AllowDisable {
			if _, err := r.store.UpdateCategory(ctx, p.UserID, categoryID, prefs.CategoryUpdate{Enabled: &disabled}); err != nil {
				return "", fmt.Errorf("disable category %s: %w", categoryID, err)
			}
		}

		r.logger.Info("unsubscribe resolved",
			zap.String("user_id", p.UserID),
			zap.String("category_id", categoryID),
		)
		return p.UserID, nil
	}

	count := 0
	for _, cat := range r.registry.List() {
		if !cat.AllowDisable {
			continue
		}
		if _, err := r.store.UpdateCategory(ctx, p.UserID, cat.ID, prefs.CategoryUpdate{Enabled: &disabled}); err != nil {
			return "", fmt.Errorf("disable category %s: %w", cat.ID, err)
		}
		count++
	}

	r.logger.Info("unsubscribe resolved for all optional categories",
		zap.String("user_id", p.UserID),
		zap.Int("disabled", count),
	)
	return p.UserID, nil
}
