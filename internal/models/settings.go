package models

import "time"

// DefaultDailyDispatchLimit applies to users that never set a limit
const DefaultDailyDispatchLimit = 500

// UserSettings holds the per-user webhook target and the rolling daily counter
type UserSettings struct {
	UserID             string        `json:"user_id"`
	WebhookURL         string        `json:"webhook_url"`
	DailyDispatchLimit int           `json:"daily_dispatch_limit"`
	DispatchesToday    int           `json:"dispatches_today"`
	LastDispatchDate   string        `json:"last_dispatch_date"` // YYYY-MM-DD
	Stats              DispatchStats `json:"stats"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// DispatchStats is the aggregate stats blob stored with user settings
type DispatchStats struct {
	TotalDispatches int        `json:"total_dispatches"`
	TotalContacts   int        `json:"total_contacts"`
	TotalErrors     int        `json:"total_errors"`
	LastDispatchAt  *time.Time `json:"last_dispatch_at,omitempty"`
}
