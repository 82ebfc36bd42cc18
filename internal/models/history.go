package models

import "time"

// HistoryStatus is the outcome of one dispatch attempt
type HistoryStatus string

const (
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusError   HistoryStatus = "error"
)

// DispatchHistory is one append-only record per dispatch attempt
type DispatchHistory struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	BatchID        string        `json:"batch_id"`
	Timestamp      time.Time     `json:"timestamp"`
	BlockNumber    int           `json:"block_number"`
	ContactsCount  int           `json:"contacts_count"`
	Status         HistoryStatus `json:"status"`
	ResponseStatus *int          `json:"response_status,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// HistoryFilter for listing history entries
type HistoryFilter struct {
	UserID  string
	BatchID string
	Status  HistoryStatus
	Limit   int
	Offset  int
}
