package cart

import (
	"context"
	"fmt"
	"time"

	"bananastore/pkg/kv"
)

const cartKey = "cart"

// Store persists one cart per session scope.
type Store struct {
	value kv.Value[Cart]
}

func NewStore(ttl time.Duration) *Store {
	return &Store{value: kv.NewValue[Cart](cartKey, ttl)}
}

func (s *Store) Load(ctx context.Context, scope kv.Scope) (Cart, error) {
	c, _, err := s.value.Get(ctx, scope)
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	return c, nil
}

func (s *Store) Save(ctx context.Context, scope kv.Scope, c Cart) error {
	if c.Empty() {
		return s.Clear(ctx, scope)
	}
	if err := s.value.Set(ctx, scope, c); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, scope kv.Scope) error {
	if err := s.value.Clear(ctx, scope); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Update loads the cart, applies fn and saves the result.
func (s *Store) Update(ctx context.Context, scope kv.Scope, fn func(*Cart) error) (Cart, error) {
	c, err := s.Load(ctx, scope)
	if err != nil {
		return Cart{}, err
	}
	if err := fn(&c); err != nil {
		return c, err
	}
	if err := s.Save(ctx, scope, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}
