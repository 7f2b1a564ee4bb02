package pendinglink

import (
	"context"
	"errors"
	"strings"
	"time"

	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
)

// DefaultTTL bounds how long a Discord consent round trip may take.
const DefaultTTL = 15 * time.Minute

const keyName = "pending-discord-auth"

var (
	ErrNotFound = errors.New("pending link not found")
	ErrExpired  = errors.New("pending link expired")
)

// Record holds what is needed to finish linking after the Discord redirect.
type Record struct {
	User      domain.User `json:"user"`
	LinkToken string      `json:"linkToken"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Store keeps at most one pending link per session scope.
type Store struct {
	value kv.Value[Record]
	ttl   time.Duration
	now   func() time.Time
}

// NewStore builds a store. ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		value: kv.NewValue[Record](keyName, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Save replaces the pending record for the scope.
func (s *Store) Save(ctx context.Context, scope kv.Scope, user domain.User, linkToken string) (Record, error) {
	now := s.now().UTC()
	rec := Record{
		User:      user,
		LinkToken: strings.TrimSpace(linkToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.value.Set(ctx, scope, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Load returns the pending record. Expired records are cleared and reported
// as ErrExpired.
func (s *Store) Load(ctx context.Context, scope kv.Scope) (Record, error) {
	rec, ok, err := s.value.Get(ctx, scope)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	if !rec.ExpiresAt.IsZero() && !s.now().UTC().Before(rec.ExpiresAt) {
		_ = s.value.Clear(ctx, scope)
		return Record{}, ErrExpired
	}
	return rec, nil
}

// Clear drops the pending record.
func (s *Store) Clear(ctx context.Context, scope kv.Scope) error {
	return s.value.Clear(ctx, scope)
}
