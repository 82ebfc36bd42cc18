package webhook

import (
	"time"

	"github.com/foxzi/disparos/internal/models"
)

// Source identifies this system in every payload
const Source = "lovable-disparos"

// Payload is the JSON document posted for one batch
type Payload struct {
	Source    string          `json:"source"`
	Campaign  CampaignInfo    `json:"campaign"`
	SheetMeta SheetMetaInfo   `json:"sheet_meta"`
	Mapping   MappingInfo     `json:"mapping"`
	Batch     BatchInfo       `json:"batch"`
	Contacts  []ContactRecord `json:"contacts"`
}

type CampaignInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Objective      string `json:"objective"`
	AIInstructions string `json:"ai_instructions"`
}

type SheetMetaInfo struct {
	Origin        string `json:"origin"`
	FilenameOrURL string `json:"filename_or_url"`
	TotalRows     int    `json:"total_rows"`
}

type MappingInfo struct {
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Phone  string   `json:"phone"`
	Extras []string `json:"extras"`
}

type BatchInfo struct {
	BlockNumber int       `json:"block_number"`
	BlockSize   int       `json:"block_size"`
	Range       RangeInfo `json:"range"`
}

type RangeInfo struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type ContactRecord struct {
	Name   string            `json:"name"`
	Email  string            `json:"email"`
	Phone  string            `json:"phone"`
	Extras map[string]string `json:"extras"`
}

// TestPayload is the probe sent by Client.Test
type TestPayload struct {
	Source    string    `json:"source"`
	Test      bool      `json:"test"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildPayload assembles the webhook document of a batch
func BuildPayload(b *models.Batch, c *models.Campaign) *Payload {
	extras := b.ColumnMapping.Extras
	if extras == nil {
		extras = []string{}
	}

	p := &Payload{
		Source: Source,
		Campaign: CampaignInfo{
			ID:             c.ID,
			Name:           c.Name,
			Objective:      c.Objective,
			AIInstructions: c.AIInstructions,
		},
		SheetMeta: SheetMetaInfo{
			Origin:        string(b.SheetMeta.Origin),
			FilenameOrURL: b.SheetMeta.FilenameOrURL,
			TotalRows:     b.SheetMeta.TotalRows,
		},
		Mapping: MappingInfo{
			Name:   b.ColumnMapping.Name,
			Email:  b.ColumnMapping.Email,
			Phone:  b.ColumnMapping.Phone,
			Extras: extras,
		},
		Batch: BatchInfo{
			BlockNumber: b.BlockNumber,
			BlockSize:   b.BlockSize,
			Range:       RangeInfo{Start: b.Range.Start, End: b.Range.End},
		},
		Contacts: make([]ContactRecord, 0, len(b.Contacts)),
	}

	for _, ct := range b.Contacts {
		rec := ContactRecord{Name: ct.Name, Email: ct.Email, Phone: ct.Phone, Extras: ct.Extras}
		if rec.Extras == nil {
			rec.Extras = map[string]string{}
		}
		p.Contacts = append(p.Contacts, rec)
	}

	return p
}
