package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/foxzi/disparos/internal/db"
	"github.com/foxzi/disparos/internal/models"
	"github.com/google/uuid"
)

const campaignColumns = "id, user_id, name, objective, description, status, ai_instructions, stats, created_at, updated_at"

type CampaignRepository struct {
	db *db.DB
}

func NewCampaignRepository(database *db.DB) *CampaignRepository {
	return &CampaignRepository{db: database}
}

// Create creates a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	if c.Status == "" {
		c.Status = models.CampaignStatusActive
	}
	if c.Stats == "" {
		c.Stats = "{}"
	}
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.UserID, c.Name, c.Objective, c.Description, string(c.Status), c.AIInstructions, c.Stats, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT "+campaignColumns+" FROM campaigns WHERE id = ?"), id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// GetOwned returns a campaign only when it belongs to userID
func (r *CampaignRepository) GetOwned(ctx context.Context, userID, id string) (*models.Campaign, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns campaigns of a user with optional filtering
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	where := " WHERE user_id = ?"
	args := []any{filter.UserID}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Search != "" {
		where += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM campaigns"+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	query := "SELECT " + campaignColumns + " FROM campaigns" + where + " ORDER BY updated_at DESC"
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
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// Update updates the editable fields of an owned campaign
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = now()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET name = ?, objective = ?, description = ?, status = ?, ai_instructions = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`),
		c.Name, c.Objective, c.Description, string(c.Status), c.AIInstructions, c.UpdatedAt, c.ID, c.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
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

// Delete removes an owned campaign. Campaigns still referenced by batches
// are refused with ErrCampaignInUse. On PostgreSQL the campaign row is
// locked first so the count cannot race a BatchRepository.CreateAll, which
// takes a share lock on the same row.
func (r *CampaignRepository) Delete(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if r.db.Driver() == db.DriverPostgres {
		var locked string
		err := tx.QueryRowContext(ctx, r.db.Rebind("SELECT id FROM campaigns WHERE id = ? AND user_id = ? FOR UPDATE"), id, userID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock campaign: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM batches WHERE campaign_id = ?"), id).Scan(&count); err != nil {
		return fmt.Errorf("failed to count batches: %w", err)
	}
	if count > 0 {
		return ErrCampaignInUse
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind("DELETE FROM campaigns WHERE id = ? AND user_id = ?"), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	return tx.Commit()
}

func scanCampaign(s rowScanner) (*models.Campaign, error) {
	var (
		c      models.Campaign
		status string
	)
	err := s.Scan(&c.ID, &c.UserID, &c.Name, &c.Objective, &c.Description, &status, &c.AIInstructions, &c.Stats, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.CampaignStatus(status)
	return &c, nil
}
