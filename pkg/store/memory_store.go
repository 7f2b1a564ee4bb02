package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"bananastore/pkg/domain"
)

// MemoryStore keeps the ledger in-memory (single instance only).
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.CheckoutAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]domain.CheckoutAttempt)}
}

func (m *MemoryStore) SaveAttempt(_ context.Context, attempt domain.CheckoutAttempt) error {
	if strings.TrimSpace(attempt.ID) == "" {
		return ErrInvalidAttempt
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.attempts[attempt.ID]; ok && !existing.CreatedAt.IsZero() {
		attempt.CreatedAt = existing.CreatedAt
	}
	attempt.Items = append([]domain.CartItem(nil), attempt.Items...)
	m.attempts[attempt.ID] = attempt
	return nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, id string) (domain.CheckoutAttempt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attempt, ok := m.attempts[id]
	return attempt, ok, nil
}

func (m *MemoryStore) ListAttemptsByUser(_ context.Context, userID string, limit int) ([]domain.CheckoutAttempt, error) {
	m.mu.RLock()
	out := make([]domain.CheckoutAttempt, 0)
	for _, a := range m.attempts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
