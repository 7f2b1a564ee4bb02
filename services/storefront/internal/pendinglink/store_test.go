package pendinglink

import (
	"context"
	"errors"
	"testing"
	"time"

	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
)

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	scope := kv.NewScope(kv.NewMemoryStore(), "test", "sess-1")
	store := NewStore(0)

	if _, err := store.Load(ctx, scope); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}
	saved, err := store.Save(ctx, scope, domain.User{ID: "u-1", Email: "user@x.com"}, " L1 ")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.LinkToken != "L1" {
		t.Fatalf("expected trimmed link token, got %q", saved.LinkToken)
	}
	if got := saved.ExpiresAt.Sub(saved.CreatedAt); got != DefaultTTL {
		t.Fatalf("expected default ttl, got %v", got)
	}
	rec, err := store.Load(ctx, scope)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.User.ID != "u-1" || rec.LinkToken != "L1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := store.Clear(ctx, scope); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load(ctx, scope); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestLoadRejectsAndClearsExpiredRecord(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemoryStore()
	scope := kv.NewScope(backing, "test", "sess-1")
	store := NewStore(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if _, err := store.Save(ctx, scope, domain.User{ID: "u-1"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := store.Load(ctx, scope); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, ok, _ := backing.Get(ctx, scope.Key(keyName)); ok {
		t.Fatalf("expired record should be removed from the store")
	}
}

func TestRecordsAreScopedPerSession(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemoryStore()
	store := NewStore(0)
	a := kv.NewScope(backing, "test", "sess-a")
	b := kv.NewScope(backing, "test", "sess-b")
	if _, err := store.Save(ctx, a, domain.User{ID: "u-1"}, "L1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Load(ctx, b); !errors.Is(err, ErrNotFound) {
		t.Fatalf("another session must not see the pending link, got %v", err)
	}
}
