package contacts

import (
	"errors"
	"fmt"

	"github.com/foxzi/disparos/internal/models"
)

const (
	MinBatchSize     = 1
	MaxBatchSize     = 50
	DefaultBatchSize = 50
)

// ErrInvalidBatchSize is returned for batch sizes outside [MinBatchSize, MaxBatchSize]
var ErrInvalidBatchSize = errors.New("invalid batch size")

// Stats summarizes one partitioning run
type Stats struct {
	Total      int `json:"total"`
	Valid      int `json:"valid"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
}

// Result is the output of CreateBatches
type Result struct {
	Batches []models.Batch `json:"batches"`
	Stats   Stats          `json:"stats"`
}

// ValidateBatchSize rejects sizes outside [MinBatchSize, MaxBatchSize]
func ValidateBatchSize(size int) error {
	if size < MinBatchSize || size > MaxBatchSize {
		return fmt.Errorf("%w: %d (must be between %d and %d)", ErrInvalidBatchSize, size, MinBatchSize, MaxBatchSize)
	}
	return nil
}

type dedupKey struct {
	email string
	phone string
}

// RemoveDuplicates drops contacts whose (email, phone) pair was already
// seen. The first occurrence wins and order is preserved.
func RemoveDuplicates(list []models.Contact) []models.Contact {
	seen := make(map[dedupKey]struct{}, len(list))
	out := make([]models.Contact, 0, len(list))
	for _, c := range list {
		key := dedupKey{email: c.Email, phone: c.Phone}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CreateBatches validates rows, deduplicates the valid contacts and splits
// them into consecutive chunks of at most batchSize. Every batch starts in
// status ready. Zero valid contacts yields no batches and no error.
func CreateBatches(rows []map[string]string, mapping models.ColumnMapping, batchSize int, campaignID string) (*Result, error) {
	if err := ValidateBatchSize(batchSize); err != nil {
		return nil, err
	}

	valid := make([]models.Contact, 0, len(rows))
	invalid := 0
	for _, row := range rows {
		contact, ok := ValidateContact(row, mapping)
		if !ok {
			invalid++
			continue
		}
		valid = append(valid, contact)
	}

	unique := RemoveDuplicates(valid)

	result := &Result{
		Batches: make([]models.Batch, 0, (len(unique)+batchSize-1)/batchSize),
		Stats: Stats{
			Total:      len(rows),
			Valid:      len(unique),
			Invalid:    invalid,
			Duplicates: len(valid) - len(unique),
		},
	}

	for k, start := 0, 0; start < len(unique); k, start = k+1, start+batchSize {
		end := min(start+batchSize, len(unique))
		chunk := make([]models.Contact, end-start)
		copy(chunk, unique[start:end])

		result.Batches = append(result.Batches, models.Batch{
			CampaignID:    campaignID,
			BlockNumber:   k + 1,
			BlockSize:     batchSize,
			Range:         models.Range{Start: start + 1, End: end},
			Contacts:      chunk,
			Status:        models.BatchStatusReady,
			ColumnMapping: mapping,
		})
	}

	return result, nil
}
