// Package ratelimit enforces the per-user daily dispatch cap.
//
// Limiters split the decision from the bookkeeping: Check reports whether n
// more contacts fit into today's quota without touching the counter, and
// Confirm adds n once the contacts were actually delivered. Two batches of
// the same user checked concurrently can both pass and overshoot the limit
// by at most one batch; the counter itself is never lost.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/foxzi/disparos/internal/models"
)

const dayLayout = "2006-01-02"

// ErrInvalidCount is returned for non-positive contact counts
var ErrInvalidCount = errors.New("contact count must be positive")

// Limiter is implemented by every counter backend
type Limiter interface {
	// Check reports whether n more contacts fit into today's quota
	Check(ctx context.Context, userID string, n int) (*Result, error)
	// Confirm adds n delivered contacts to today's counter
	Confirm(ctx context.Context, userID string, n int) error
}

// Result contains the rate limit check result
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
}

// SettingsSource provides the configured daily limit of a user
type SettingsSource interface {
	Get(ctx context.Context, userID string) (*models.UserSettings, error)
}

// Clock returns the current day in a fixed location
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

// Today returns the current calendar day as YYYY-MM-DD
func (c Clock) Today() string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc).Format(dayLayout)
}

func newResult(limit, used, n int) *Result {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   used+n <= limit,
		Remaining: remaining,
		Limit:     limit,
		Used:      used,
	}
}

const defaultLimit = models.DefaultDailyDispatchLimit

func effectiveLimit(s *models.UserSettings) int {
	if s.DailyDispatchLimit <= 0 {
		return defaultLimit
	}
	return s.DailyDispatchLimit
}

func validateCount(n int) error {
	if n <= 0 {
		return ErrInvalidCount
	}
	return nil
}
