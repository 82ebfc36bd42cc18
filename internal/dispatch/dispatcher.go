package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/disparos/internal/contacts"
	"github.com/foxzi/disparos/internal/metrics"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/repository"
)

var (
	// ErrScheduleInPast is returned when scheduling at or before now
	ErrScheduleInPast = errors.New("scheduled time must be in the future")

	// ErrBatchBusy is returned when a batch changed state concurrently
	ErrBatchBusy = errors.New("batch changed state concurrently")
)

// UserBatchStore is the owner scoped part of the batch store
type UserBatchStore interface {
	GetOwned(ctx context.Context, userID, id string) (*models.Batch, error)
	CreateAll(ctx context.Context, batches []models.Batch) error
	ClaimReady(ctx context.Context, userID, id string) (bool, error)
	Schedule(ctx context.Context, userID, id string, at time.Time) (bool, error)
	Unschedule(ctx context.Context, userID, id string) (bool, error)
	Reset(ctx context.Context, userID, id string) (bool, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
}

// OwnedCampaignStore looks up campaigns on behalf of a user
type OwnedCampaignStore interface {
	GetOwned(ctx context.Context, userID, id string) (*models.Campaign, error)
}

// ImportRequest turns parsed spreadsheet rows into stored batches
type ImportRequest struct {
	CampaignID string
	Data       *models.ParsedData
	Mapping    models.ColumnMapping
	BatchSize  int
	Origin     models.SheetOrigin
	Source     string
}

// Dispatcher runs user initiated batch operations. Immediate sends go
// through the same pipeline as scheduled passes.
type Dispatcher struct {
	batches   UserBatchStore
	campaigns OwnedCampaignStore
	worker    *Worker
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher on top of worker
func NewDispatcher(batches UserBatchStore, campaigns OwnedCampaignStore, worker *Worker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		batches:   batches,
		campaigns: campaigns,
		worker:    worker,
		logger:    logger.With("component", "dispatcher"),
		now:       time.Now,
	}
}

// Import validates rows, partitions them and stores the batches of a new
// import in ready status
func (d *Dispatcher) Import(ctx context.Context, userID string, req ImportRequest) (*contacts.Result, error) {
	if _, err := d.campaigns.GetOwned(ctx, userID, req.CampaignID); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", req.CampaignID, err)
	}
	if req.Data == nil {
		return nil, errors.New("no rows to import")
	}

	result, err := contacts.CreateBatches(req.Data.Rows, req.Mapping, req.BatchSize, req.CampaignID)
	if err != nil {
		return nil, err
	}

	meta := models.SheetMeta{
		Origin:        req.Origin,
		FilenameOrURL: req.Source,
		TotalRows:     len(req.Data.Rows),
	}
	for i := range result.Batches {
		result.Batches[i].UserID = userID
		result.Batches[i].SheetMeta = meta
	}

	if err := d.batches.CreateAll(ctx, result.Batches); err != nil {
		return nil, err
	}

	metrics.AddContactsImported(result.Stats.Valid, result.Stats.Invalid, result.Stats.Duplicates)
	d.logger.Info("import stored",
		"user_id", userID,
		"campaign_id", req.CampaignID,
		"batches", len(result.Batches),
		"valid", result.Stats.Valid,
		"invalid", result.Stats.Invalid,
		"duplicates", result.Stats.Duplicates,
	)
	return result, nil
}

// SendNow delivers a ready batch immediately
func (d *Dispatcher) SendNow(ctx context.Context, userID, batchID string) (*Outcome, error) {
	b, err := d.owned(ctx, userID, batchID, models.BatchStatusSending)
	if err != nil {
		return nil, err
	}

	ok, err := d.batches.ClaimReady(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBatchBusy
	}

	b.Status = models.BatchStatusSending
	return d.worker.Process(ctx, b), nil
}

// Schedule queues a ready batch for a future worker pass
func (d *Dispatcher) Schedule(ctx context.Context, userID, batchID string, at time.Time) (*models.Batch, error) {
	if !at.After(d.now()) {
		return nil, ErrScheduleInPast
	}
	return d.transition(ctx, userID, batchID, models.BatchStatusScheduled, func() (bool, error) {
		return d.batches.Schedule(ctx, userID, batchID, at)
	})
}

// Unschedule returns a scheduled batch to ready. Fails once a worker
// claimed it.
func (d *Dispatcher) Unschedule(ctx context.Context, userID, batchID string) (*models.Batch, error) {
	if err := d.requireStatus(ctx, userID, batchID, models.BatchStatusScheduled); err != nil {
		return nil, err
	}
	return d.transition(ctx, userID, batchID, models.BatchStatusReady, func() (bool, error) {
		return d.batches.Unschedule(ctx, userID, batchID)
	})
}

// Reset returns a failed batch to ready so it can be sent again
func (d *Dispatcher) Reset(ctx context.Context, userID, batchID string) (*models.Batch, error) {
	if err := d.requireStatus(ctx, userID, batchID, models.BatchStatusError); err != nil {
		return nil, err
	}
	return d.transition(ctx, userID, batchID, models.BatchStatusReady, func() (bool, error) {
		return d.batches.Reset(ctx, userID, batchID)
	})
}

// Delete removes a batch unless it is being sent
func (d *Dispatcher) Delete(ctx context.Context, userID, batchID string) error {
	b, err := d.GetBatch(ctx, userID, batchID)
	if err != nil {
		return err
	}
	if !b.Status.Deletable() {
		return fmt.Errorf("%w: batch is %s", models.ErrInvalidTransition, b.Status)
	}

	ok, err := d.batches.Delete(ctx, userID, batchID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBatchBusy
	}
	d.logger.Info("batch deleted", "user_id", userID, "batch_id", batchID)
	return nil
}

// GetBatch returns an owned batch
func (d *Dispatcher) GetBatch(ctx context.Context, userID, batchID string) (*models.Batch, error) {
	b, err := d.batches.GetOwned(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (d *Dispatcher) requireStatus(ctx context.Context, userID, batchID string, want models.BatchStatus) error {
	b, err := d.GetBatch(ctx, userID, batchID)
	if err != nil {
		return err
	}
	if b.Status != want {
		return fmt.Errorf("%w: batch is %s, expected %s", models.ErrInvalidTransition, b.Status, want)
	}
	return nil
}

func (d *Dispatcher) owned(ctx context.Context, userID, batchID string, next models.BatchStatus) (*models.Batch, error) {
	b, err := d.GetBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, b.Status, next)
	}
	return b, nil
}

func (d *Dispatcher) transition(ctx context.Context, userID, batchID string, next models.BatchStatus, apply func() (bool, error)) (*models.Batch, error) {
	if _, err := d.owned(ctx, userID, batchID, next); err != nil {
		return nil, err
	}

	ok, err := apply()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBatchBusy
	}

	b, err := d.GetBatch(ctx, userID, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBatchBusy
	}
	if err != nil {
		return nil, err
	}
	d.logger.Info("batch status changed", "user_id", userID, "batch_id", batchID, "status", b.Status)
	return b, nil
}
