package store

import (
	"context"
	"errors"

	"bananastore/pkg/domain"
)

// ErrInvalidAttempt is returned for attempts without an id.
var ErrInvalidAttempt = errors.New("store: attempt id is required")

// Store persists the checkout ledger.
type Store interface {
	// SaveAttempt inserts or updates an attempt by id.
	SaveAttempt(ctx context.Context, attempt domain.CheckoutAttempt) error
	GetAttempt(ctx context.Context, id string) (domain.CheckoutAttempt, bool, error)
	// ListAttemptsByUser returns the newest attempts first.
	ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]domain.CheckoutAttempt, error)
}

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultListLimit
	}
	return limit
}
