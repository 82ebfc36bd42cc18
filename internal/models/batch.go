package models

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a batch status change is not allowed
var ErrInvalidTransition = errors.New("invalid batch status transition")

// BatchStatus is the lifecycle state of a batch
type BatchStatus string

const (
	BatchStatusReady     BatchStatus = "ready"
	BatchStatusScheduled BatchStatus = "scheduled"
	BatchStatusSending   BatchStatus = "sending"
	BatchStatusSent      BatchStatus = "sent"
	BatchStatusError     BatchStatus = "error"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusReady:     {BatchStatusSending, BatchStatusScheduled},
	BatchStatusScheduled: {BatchStatusSending, BatchStatusReady},
	BatchStatusSending:   {BatchStatusSent, BatchStatusError},
	BatchStatusError:     {BatchStatusReady},
}

func (s BatchStatus) String() string { return string(s) }

// IsValid reports whether s is a known status
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusReady, BatchStatusScheduled, BatchStatusSending, BatchStatusSent, BatchStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether an attempt ends in s
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusSent || s == BatchStatusError
}

// CanTransitionTo reports whether a batch in status s may move to next
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Deletable reports whether a batch in status s may be deleted.
// A claimed batch is in flight and cannot be removed.
func (s BatchStatus) Deletable() bool {
	return s != BatchStatusSending
}

// Range holds 1-based inclusive positions within the deduplicated contact list
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of positions covered by the range
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Batch is a fixed-size, ordered slice of contacts dispatched as one webhook call
type Batch struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	ImportID      string        `json:"import_id"`
	CampaignID    string        `json:"campaign_id"`
	BlockNumber   int           `json:"block_number"`
	BlockSize     int           `json:"block_size"`
	Range         Range         `json:"range"`
	Contacts      []Contact     `json:"contacts"`
	Status        BatchStatus   `json:"status"`
	ScheduledAt   *time.Time    `json:"scheduled_at,omitempty"`
	SheetMeta     SheetMeta     `json:"sheet_meta"`
	ColumnMapping ColumnMapping `json:"column_mapping"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// BatchListFilter for filtering batches
type BatchListFilter struct {
	UserID     string
	ImportID   string
	CampaignID string
	Status     BatchStatus
	Limit      int
	Offset     int
}
