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
	"github.com/google/uuid"
)

const batchColumns = `id, user_id, import_id, campaign_id, block_number, block_size, range_start, range_end,
	contacts, status, scheduled_at, sheet_meta, column_mapping, created_at, updated_at`

type BatchRepository struct {
	db *db.DB
}

func NewBatchRepository(database *db.DB) *BatchRepository {
	return &BatchRepository{db: database}
}

// CreateAll inserts the batches of one import in a single transaction.
// IDs, ImportID and timestamps are assigned when empty.
func (r *BatchRepository) CreateAll(ctx context.Context, batches []models.Batch) error {
	if len(batches) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Holds off a concurrent campaign delete until the batches are visible
	if r.db.Driver() == db.DriverPostgres {
		for _, campaignID := range campaignIDs(batches) {
			_, err := tx.ExecContext(ctx, r.db.Rebind("SELECT id FROM campaigns WHERE id = ? FOR SHARE"), campaignID)
			if err != nil {
				return fmt.Errorf("failed to lock campaign: %w", err)
			}
		}
	}

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	importID := batches[0].ImportID
	if importID == "" {
		importID = uuid.New().String()
	}
	ts := now()

	for i := range batches {
		b := &batches[i]
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		if b.ImportID == "" {
			b.ImportID = importID
		}
		if b.Status == "" {
			b.Status = models.BatchStatusReady
		}
		b.CreatedAt = ts
		b.UpdatedAt = ts

		contactsJSON, err := json.Marshal(b.Contacts)
		if err != nil {
			return fmt.Errorf("failed to marshal contacts: %w", err)
		}
		metaJSON, err := json.Marshal(b.SheetMeta)
		if err != nil {
			return fmt.Errorf("failed to marshal sheet meta: %w", err)
		}
		mappingJSON, err := json.Marshal(b.ColumnMapping)
		if err != nil {
			return fmt.Errorf("failed to marshal column mapping: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			b.ID, b.UserID, b.ImportID, b.CampaignID, b.BlockNumber, b.BlockSize, b.Range.Start, b.Range.End,
			string(contactsJSON), string(b.Status), nullTime(b.ScheduledAt), string(metaJSON), string(mappingJSON),
			b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("failed to create batch %d: %w", b.BlockNumber, ErrDuplicate)
			}
			return fmt.Errorf("failed to create batch %d: %w", b.BlockNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batches: %w", err)
	}
	return nil
}

func campaignIDs(batches []models.Batch) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, b := range batches {
		if b.CampaignID != "" && !seen[b.CampaignID] {
			seen[b.CampaignID] = true
			ids = append(ids, b.CampaignID)
		}
	}
	return ids
}

// GetByID returns a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*models.Batch, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+batchColumns+` FROM batches WHERE id = ?`), id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// GetOwned returns a batch only when it belongs to userID
func (r *BatchRepository) GetOwned(ctx context.Context, userID, id string) (*models.Batch, error) {
	b, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrNotFound
	}
	return b, nil
}

// List returns batches with optional filtering, ordered by import and block number
func (r *BatchRepository) List(ctx context.Context, filter models.BatchListFilter) ([]models.Batch, int, error) {
	where := " WHERE user_id = ?"
	args := []any{filter.UserID}

	if filter.ImportID != "" {
		where += " AND import_id = ?"
		args = append(args, filter.ImportID)
	}
	if filter.CampaignID != "" {
		where += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM batches"+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	query := "SELECT " + batchColumns + " FROM batches" + where + " ORDER BY created_at DESC, import_id, block_number"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	batches, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// ListDueScheduled returns scheduled batches whose scheduled_at is not after now
func (r *BatchRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]models.Batch, error) {
	query := "SELECT " + batchColumns + " FROM batches WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ? ORDER BY scheduled_at, block_number"
	args := []any{string(models.BatchStatusScheduled), now.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// Claim moves a batch from scheduled to sending. It returns false when the
// batch was not in scheduled status, i.e. another run already claimed it.
func (r *BatchRepository) Claim(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, `
		UPDATE batches SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.BatchStatusSending), now(), id, string(models.BatchStatusScheduled),
	)
}

// ClaimReady moves an owned batch from ready to sending for an immediate send
func (r *BatchRepository) ClaimReady(ctx context.Context, userID, id string) (bool, error) {
	return r.exec(ctx, `
		UPDATE batches SET status = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		string(models.BatchStatusSending), now(), id, userID, string(models.BatchStatusReady),
	)
}

// Schedule moves an owned batch from ready to scheduled at the given time
func (r *BatchRepository) Schedule(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE batches SET status = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		string(models.BatchStatusScheduled), at.UTC(), now(), id, userID, string(models.BatchStatusReady),
	)
}

// Unschedule moves an owned batch from scheduled back to ready. Only
// possible before a worker claims it.
func (r *BatchRepository) Unschedule(ctx context.Context, userID, id string) (bool, error) {
	return r.exec(ctx, `
		UPDATE batches SET status = ?, scheduled_at = NULL, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		string(models.BatchStatusReady), now(), id, userID, string(models.BatchStatusScheduled),
	)
}

// Reset moves an owned batch from error back to ready for a manual resend
func (r *BatchRepository) Reset(ctx context.Context, userID, id string) (bool, error) {
	return r.exec(ctx, `
		UPDATE batches SET status = ?, scheduled_at = NULL, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		string(models.BatchStatusReady), now(), id, userID, string(models.BatchStatusError),
	)
}

// UpdateStatus sets the batch status unconditionally
func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error {
	ok, err := r.exec(ctx, "UPDATE batches SET status = ?, updated_at = ? WHERE id = ?", string(status), now(), id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete removes an owned batch unless it is being sent
func (r *BatchRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	return r.exec(ctx, "DELETE FROM batches WHERE id = ? AND user_id = ? AND status <> ?",
		id, userID, string(models.BatchStatusSending))
}

// CountByCampaign returns the number of batches referencing a campaign
func (r *BatchRepository) CountByCampaign(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM batches WHERE campaign_id = ?"), campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of stored batches per status
func (r *BatchRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM batches GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count batches: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *BatchRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update batch: %w", err)
	}
	return affected(res)
}

func (r *BatchRepository) query(ctx context.Context, query string, args ...any) ([]models.Batch, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []models.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func scanBatch(s rowScanner) (*models.Batch, error) {
	var (
		b                                  models.Batch
		status                             string
		contactsJSON, metaJSON, mappingRaw string
		scheduledAt                        sql.NullTime
	)

	err := s.Scan(&b.ID, &b.UserID, &b.ImportID, &b.CampaignID, &b.BlockNumber, &b.BlockSize,
		&b.Range.Start, &b.Range.End, &contactsJSON, &status, &scheduledAt, &metaJSON, &mappingRaw,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	b.Status = models.BatchStatus(status)
	if scheduledAt.Valid {
		t := scheduledAt.Time
		b.ScheduledAt = &t
	}
	if err := json.Unmarshal([]byte(contactsJSON), &b.Contacts); err != nil {
		return nil, fmt.Errorf("failed to decode contacts of batch %s: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &b.SheetMeta); err != nil {
		return nil, fmt.Errorf("failed to decode sheet meta of batch %s: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(mappingRaw), &b.ColumnMapping); err != nil {
		return nil, fmt.Errorf("failed to decode column mapping of batch %s: %w", b.ID, err)
	}

	return &b, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
