package unsubscribe

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/category"
	"github.com/lalithlochan/cirrus/internal/prefs"
)

func setup(t *testing.T) (*Resolver, *prefs.MemoryStore, string) {
	t.Helper()

	reg := category.NewRegistry()
	store := prefs.NewMemoryStore(reg, zap.NewNop())
	resolver := NewResolver(store, reg, zap.NewNop())

	p, err := store.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resolver, store, p.UnsubscribeToken
}

func TestResolveAllOptionalCategories(t *testing.T) {
	resolver, store, token := setup(t)
	ctx := context.Background()

	userID, err := resolver.Resolve(ctx, token, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("expected user-1, got %s", userID)
	}

	p, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reg := category.NewRegistry()
	for _, cat := range reg.List() {
		cp := p.Categories[cat.ID]
		if cat.AllowDisable && cp.Enabled {
			t.Errorf("optional category %s should be disabled", cat.ID)
		}
		if !cat.AllowDisable && !cp.Enabled {
			t.Errorf("mandatory category %s must remain enabled", cat.ID)
		}
	}
}

func TestResolveSingleCategory(t *testing.T) {
	resolver, store, token := setup(t)
	ctx := context.Background()

	userID, err := resolver.Resolve(ctx, token, "newsletter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("expected user-1, got %s", userID)
	}

	p, _ := store.Get(ctx, "user-1")
	if p.Categories["newsletter"].Enabled {
		t.Error("newsletter should be disabled")
	}
	// Only the named category changes.
	if !p.Categories["mentions"].Enabled {
		t.Error("mentions must remain enabled")
	}
}

func TestResolveMandatoryCategoryIsNoop(t *testing.T) {
	resolver, store, token := setup(t)
	ctx := context.Background()

	userID, err := resolver.Resolve(ctx, token, "security_alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("expected user-1, got %s", userID)
	}

	p, _ := store.Get(ctx, "user-1")
	if !p.Categories["security_alerts"].Enabled {
		t.Error("mandatory category must remain enabled")
	}
}

func TestResolveUnknownCategory(t *testing.T) {
	resolver, _, token := setup(t)

	if _, err := resolver.Resolve(context.Background(), token, "carrier_pigeon"); !errors.Is(err, prefs.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestResolveInvalidToken(t *testing.T) {
	resolver, _, _ := setup(t)

	if _, err := resolver.Resolve(context.Background(), "not-a-real-token", ""); !errors.Is(err, prefs.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
