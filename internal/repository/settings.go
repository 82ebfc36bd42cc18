package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/disparos/internal/db"
	"github.com/foxzi/disparos/internal/models"
)

// SettingsRepository stores one settings row per user, including the
// rolling daily dispatch counter
type SettingsRepository struct {
	db *db.DB
}

func NewSettingsRepository(database *db.DB) *SettingsRepository {
	return &SettingsRepository{db: database}
}

// DailyUsage is the effective counter state for one day
type DailyUsage struct {
	Limit int
	Used  int
}

// Get returns the settings of a user
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	s := &models.UserSettings{}
	var statsJSON string

	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT user_id, webhook_url, daily_dispatch_limit, dispatches_today, last_dispatch_date, stats, created_at, updated_at
		FROM user_settings WHERE user_id = ?`), userID,
	).Scan(&s.UserID, &s.WebhookURL, &s.DailyDispatchLimit, &s.DispatchesToday, &s.LastDispatchDate, &statsJSON, &s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	if statsJSON != "" {
		if err := json.Unmarshal([]byte(statsJSON), &s.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode settings stats: %w", err)
		}
	}
	return s, nil
}

// Upsert creates or updates the webhook URL and daily limit of a user.
// Counters and stats are left untouched on update.
func (r *SettingsRepository) Upsert(ctx context.Context, s *models.UserSettings) error {
	ts := now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = ts
	}
	s.UpdatedAt = ts

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO user_settings (user_id, webhook_url, daily_dispatch_limit, dispatches_today, last_dispatch_date, stats, created_at, updated_at)
		VALUES (?, ?, ?, 0, '', '{}', ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			webhook_url = excluded.webhook_url,
			daily_dispatch_limit = excluded.daily_dispatch_limit,
			updated_at = excluded.updated_at`),
		s.UserID, s.WebhookURL, s.DailyDispatchLimit, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// DailyUsage reads the counter as of today. A counter last written on
// another day counts as zero. Nothing is written.
func (r *SettingsRepository) DailyUsage(ctx context.Context, userID, today string) (*DailyUsage, error) {
	var (
		usage    DailyUsage
		lastDate string
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT daily_dispatch_limit, dispatches_today, last_dispatch_date
		FROM user_settings WHERE user_id = ?`), userID,
	).Scan(&usage.Limit, &usage.Used, &lastDate)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily usage: %w", err)
	}

	if lastDate != today {
		usage.Used = 0
	}
	return &usage, nil
}

// AddDispatches adds n to the counter of today in one statement, resetting
// it first when the stored date is not today.
func (r *SettingsRepository) AddDispatches(ctx context.Context, userID string, n int, today string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE user_settings SET
			dispatches_today = CASE WHEN last_dispatch_date = ? THEN dispatches_today + ? ELSE ? END,
			last_dispatch_date = ?,
			updated_at = ?
		WHERE user_id = ?`),
		today, n, n, today, now(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update daily counter: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// RecordAttempt folds one dispatch attempt into the user's stats blob
func (r *SettingsRepository) RecordAttempt(ctx context.Context, userID string, contacts int, success bool, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := "SELECT stats FROM user_settings WHERE user_id = ?"
	if r.db.Driver() == db.DriverPostgres {
		query += " FOR UPDATE"
	}

	var statsJSON string
	err = tx.QueryRowContext(ctx, r.db.Rebind(query), userID).Scan(&statsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	var stats models.DispatchStats
	if statsJSON != "" {
		// A corrupt blob is rebuilt from this attempt on
		_ = json.Unmarshal([]byte(statsJSON), &stats)
	}

	stats.TotalDispatches++
	if success {
		stats.TotalContacts += contacts
	} else {
		stats.TotalErrors++
	}
	at = at.UTC()
	stats.LastDispatchAt = &at

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Rebind("UPDATE user_settings SET stats = ?, updated_at = ? WHERE user_id = ?"),
		string(data), now(), userID); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	return tx.Commit()
}
