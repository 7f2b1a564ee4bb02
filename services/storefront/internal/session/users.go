package session

import (
	"context"
	"fmt"
	"time"

	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
)

// DefaultUserTTL bounds how long a signed-in session survives without
// activity.
const DefaultUserTTL = 7 * 24 * time.Hour

const userKey = "user"

// Users keeps the signed-in user of each session.
type Users struct {
	value kv.Value[domain.User]
}

func NewUsers(ttl time.Duration) *Users {
	if ttl <= 0 {
		ttl = DefaultUserTTL
	}
	return &Users{value: kv.NewValue[domain.User](userKey, ttl)}
}

// Current returns the session user, or nil when signed out.
func (u *Users) Current(ctx context.Context, scope kv.Scope) (*domain.User, error) {
	user, ok, err := u.value.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (u *Users) Set(ctx context.Context, scope kv.Scope, user domain.User) error {
	if err := u.value.Set(ctx, scope, user); err != nil {
		return fmt.Errorf("save session user: %w", err)
	}
	return nil
}

// Complete signs the user in. It satisfies authflow.Completer.
func (u *Users) Complete(ctx context.Context, scope kv.Scope, user domain.User) error {
	return u.Set(ctx, scope, user)
}

func (u *Users) SignOut(ctx context.Context, scope kv.Scope) error {
	if err := u.value.Clear(ctx, scope); err != nil {
		return fmt.Errorf("clear session user: %w", err)
	}
	return nil
}
