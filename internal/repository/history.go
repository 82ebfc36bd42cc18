package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/disparos/internal/db"
	"github.com/foxzi/disparos/internal/models"
	"github.com/google/uuid"
)

// HistoryRepository stores the append-only dispatch log
type HistoryRepository struct {
	db *db.DB
}

func NewHistoryRepository(database *db.DB) *HistoryRepository {
	return &HistoryRepository{db: database}
}

// Insert appends a history entry
func (r *HistoryRepository) Insert(ctx context.Context, entry *models.DispatchHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now()
	}

	var responseStatus sql.NullInt64
	if entry.ResponseStatus != nil {
		responseStatus = sql.NullInt64{Int64: int64(*entry.ResponseStatus), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO dispatch_history (id, user_id, batch_id, dispatched_at, block_number, contacts_count, status, response_status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.UserID, entry.BatchID, entry.Timestamp.UTC(), entry.BlockNumber, entry.ContactsCount,
		string(entry.Status), responseStatus, entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// List returns history entries newest first
func (r *HistoryRepository) List(ctx context.Context, filter models.HistoryFilter) ([]models.DispatchHistory, int, error) {
	where := " WHERE user_id = ?"
	args := []any{filter.UserID}

	if filter.BatchID != "" {
		where += " AND batch_id = ?"
		args = append(args, filter.BatchID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM dispatch_history"+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	query := `SELECT id, user_id, batch_id, dispatched_at, block_number, contacts_count, status, response_status, error_message
		FROM dispatch_history` + where + " ORDER BY dispatched_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := []models.DispatchHistory{}
	for rows.Next() {
		var (
			e              models.DispatchHistory
			status         string
			responseStatus sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.BatchID, &e.Timestamp, &e.BlockNumber, &e.ContactsCount,
			&status, &responseStatus, &e.ErrorMessage); err != nil {
			return nil, 0, err
		}
		e.Status = models.HistoryStatus(status)
		if responseStatus.Valid {
			code := int(responseStatus.Int64)
			e.ResponseStatus = &code
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// DeleteOlderThan removes entries dispatched before cutoff
func (r *HistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM dispatch_history WHERE dispatched_at < ?"), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	return res.RowsAffected()
}

// CountOlderThan counts entries dispatched before cutoff
func (r *HistoryRepository) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM dispatch_history WHERE dispatched_at < ?"), cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
