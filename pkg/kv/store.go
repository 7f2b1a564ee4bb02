package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyKey is returned when a key resolves to an empty string.
var ErrEmptyKey = errors.New("kv: empty key")

// Store is a small byte-oriented key-value store with TTLs.
// Implementations must treat a zero TTL as "no expiry".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Append(ctx context.Context, key string, value []byte, ttl time.Duration) error
	List(ctx context.Context, key string) ([][]byte, error)
	// Move renames every key starting with from so that it starts with to,
	// keeping values and TTLs.
	Move(ctx context.Context, from, to string) error
}

// Scope namespaces keys under a fixed prefix, e.g. one browser session.
type Scope struct {
	store  Store
	prefix string
}

// NewScope returns a scope whose keys are "<prefix>:<name>".
func NewScope(store Store, parts ...string) Scope {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		clean = append(clean, p)
	}
	return Scope{store: store, prefix: strings.Join(clean, ":")}
}

// Sub returns a nested scope.
func (s Scope) Sub(parts ...string) Scope {
	return NewScope(s.store, append([]string{s.prefix}, parts...)...)
}

// Key returns the fully qualified key for name.
func (s Scope) Key(name string) string {
	name = strings.TrimSpace(name)
	if s.prefix == "" {
		return name
	}
	return s.prefix + ":" + name
}

// Prefix returns the namespace prefix.
func (s Scope) Prefix() string {
	return s.prefix
}

// Store returns the backing store.
func (s Scope) Store() Store {
	return s.store
}

// MoveTo transfers every key of s into dst.
func (s Scope) MoveTo(ctx context.Context, dst Scope) error {
	if s.prefix == "" || dst.prefix == "" {
		return ErrEmptyKey
	}
	if s.prefix == dst.prefix {
		return nil
	}
	return s.store.Move(ctx, s.prefix+":", dst.prefix+":")
}

// TryLock acquires a short-lived marker key. The returned release func is a
// no-op when the lock was not acquired.
func (s Scope) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := s.Key(name)
	if key == "" {
		return func() {}, false, ErrEmptyKey
	}
	ok, err := s.store.SetNX(ctx, key, []byte("1"), ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}
	release := func() {
		// the caller's context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.store.Delete(ctx, key)
	}
	return release, true, nil
}

// Clear removes the named keys from the scope.
func (s Scope) Clear(ctx context.Context, names ...string) error {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, s.Key(n))
	}
	if len(keys) == 0 {
		return nil
	}
	return s.store.Delete(ctx, keys...)
}

// Value is a typed JSON value stored under one name in a scope.
type Value[T any] struct {
	name string
	ttl  time.Duration
}

// NewValue declares a typed value. ttl of zero keeps it until cleared.
func NewValue[T any](name string, ttl time.Duration) Value[T] {
	return Value[T]{name: name, ttl: ttl}
}

// Name returns the un-namespaced key name.
func (v Value[T]) Name() string {
	return v.name
}

func (v Value[T]) Get(ctx context.Context, s Scope) (T, bool, error) {
	var out T
	raw, ok, err := s.store.Get(ctx, s.Key(v.name))
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("kv: decode %s: %w", v.name, err)
	}
	return out, true, nil
}

func (v Value[T]) Set(ctx context.Context, s Scope, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", v.name, err)
	}
	return s.store.Set(ctx, s.Key(v.name), raw, v.ttl)
}

func (v Value[T]) Clear(ctx context.Context, s Scope) error {
	return s.store.Delete(ctx, s.Key(v.name))
}

// Log is a typed append-only JSON list stored under one name in a scope.
type Log[T any] struct {
	name string
	ttl  time.Duration
}

func NewLog[T any](name string, ttl time.Duration) Log[T] {
	return Log[T]{name: name, ttl: ttl}
}

func (l Log[T]) Append(ctx context.Context, s Scope, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", l.name, err)
	}
	return s.store.Append(ctx, s.Key(l.name), raw, l.ttl)
}

func (l Log[T]) All(ctx context.Context, s Scope) ([]T, error) {
	raws, err := s.store.List(ctx, s.Key(l.name))
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("kv: decode %s: %w", l.name, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (l Log[T]) Clear(ctx context.Context, s Scope) error {
	return s.store.Delete(ctx, s.Key(l.name))
}
