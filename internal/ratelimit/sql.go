package ratelimit

import (
	"context"
	"fmt"

	"github.com/foxzi/disparos/internal/repository"
)

// UsageStore keeps the counter next to the user settings row
type UsageStore interface {
	DailyUsage(ctx context.Context, userID, today string) (*repository.DailyUsage, error)
	AddDispatches(ctx context.Context, userID string, n int, today string) error
}

// SQLLimiter keeps the counter in the user_settings table
type SQLLimiter struct {
	store UsageStore
	clock Clock
}

func NewSQLLimiter(store UsageStore, clock Clock) *SQLLimiter {
	return &SQLLimiter{store: store, clock: clock}
}

func (l *SQLLimiter) Check(ctx context.Context, userID string, n int) (*Result, error) {
	if err := validateCount(n); err != nil {
		return nil, err
	}

	usage, err := l.store.DailyUsage(ctx, userID, l.clock.Today())
	if err != nil {
		return nil, fmt.Errorf("failed to check daily limit: %w", err)
	}

	limit := usage.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	return newResult(limit, usage.Used, n), nil
}

func (l *SQLLimiter) Confirm(ctx context.Context, userID string, n int) error {
	if err := validateCount(n); err != nil {
		return err
	}
	if err := l.store.AddDispatches(ctx, userID, n, l.clock.Today()); err != nil {
		return fmt.Errorf("failed to confirm dispatch: %w", err)
	}
	return nil
}
