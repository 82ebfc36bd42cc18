package models

import "time"

// CampaignStatus is the state of a campaign
type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusPaused   CampaignStatus = "paused"
	CampaignStatusArchived CampaignStatus = "archived"
)

// IsValid reports whether s is a known campaign status
func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusActive, CampaignStatusPaused, CampaignStatusArchived:
		return true
	}
	return false
}

// Campaign groups batches sharing AI-personalization instructions
type Campaign struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Objective      string         `json:"objective"`
	Description    string         `json:"description"`
	Status         CampaignStatus `json:"status"`
	AIInstructions string         `json:"ai_instructions"`
	Stats          string         `json:"stats"` // JSON
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	UserID string
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}
