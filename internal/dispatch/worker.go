// Package dispatch delivers batches to user webhooks, either on demand or
// from periodic passes over the scheduled ones.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/foxzi/disparos/internal/events"
	"github.com/foxzi/disparos/internal/metrics"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/ratelimit"
	"github.com/foxzi/disparos/internal/repository"
	"github.com/foxzi/disparos/internal/webhook"
)

// BatchStore persists batches and their state transitions
type BatchStore interface {
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]models.Batch, error)
	Claim(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error
}

// SettingsStore reads user settings and folds attempts into their stats
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*models.UserSettings, error)
	RecordAttempt(ctx context.Context, userID string, contacts int, success bool, at time.Time) error
}

// CampaignStore looks up campaigns
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
}

// HistoryStore appends dispatch history
type HistoryStore interface {
	Insert(ctx context.Context, entry *models.DispatchHistory) error
}

// Sender posts payloads to webhooks
type Sender interface {
	Send(ctx context.Context, url string, payload any) *webhook.Result
}

// Deps are the collaborators of the worker and the dispatcher
type Deps struct {
	Batches   BatchStore
	Settings  SettingsStore
	Campaigns CampaignStore
	History   HistoryStore
	Limiter   ratelimit.Limiter
	Sender    Sender
	Events    events.Publisher
}

// Config holds worker configuration
type Config struct {
	// Concurrency bounds how many batches one pass processes in parallel
	Concurrency int
	// BatchLimit caps the due batches fetched per pass, 0 means all
	BatchLimit int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		Concurrency: 1,
		BatchLimit:  0,
	}
}

// PassResult summarizes one worker pass
type PassResult struct {
	Due       int `json:"due"`
	Claimed   int `json:"claimed"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Outcome is the result of processing one batch
type Outcome struct {
	BatchID        string             `json:"batch_id"`
	Status         models.BatchStatus `json:"status"`
	ResponseStatus int                `json:"response_status,omitempty"`
	Error          string             `json:"error,omitempty"`
	Opaque         bool               `json:"opaque,omitempty"`
}

// Worker claims due scheduled batches and delivers them. It keeps no state
// between passes.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker creates a new worker
func NewWorker(deps Deps, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "dispatch"),
		now:    time.Now,
	}
}

// RunOnce performs one pass over the batches due at now. A batch claimed by
// a concurrent pass is skipped. Failures of one batch never stop the pass.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (*PassResult, error) {
	metrics.IncWorkerPasses()

	due, err := w.deps.Batches.ListDueScheduled(ctx, now, w.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due batches: %w", err)
	}

	result := &PassResult{Due: len(due)}
	if len(due) == 0 {
		return result, nil
	}

	w.logger.Info("dispatch pass started", "due", len(due))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, w.cfg.Concurrency)
	)

	for i := range due {
		if ctx.Err() != nil {
			break
		}

		b := &due[i]
		sem <- struct{}{}
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			claimed, outcome := w.claimAndProcess(ctx, b)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case !claimed:
				result.Skipped++
			case outcome.Status == models.BatchStatusSent:
				result.Claimed++
				result.Succeeded++
			default:
				result.Claimed++
				result.Failed++
			}
		}()
	}
	wg.Wait()

	w.logger.Info("dispatch pass finished",
		"due", result.Due,
		"claimed", result.Claimed,
		"skipped", result.Skipped,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}

func (w *Worker) claimAndProcess(ctx context.Context, b *models.Batch) (bool, *Outcome) {
	ok, err := w.deps.Batches.Claim(ctx, b.ID)
	if err != nil {
		w.logger.Error("failed to claim batch", "batch_id", b.ID, "error", err)
		return false, nil
	}
	if !ok {
		metrics.IncClaimsSkipped()
		w.logger.Debug("batch already claimed", "batch_id", b.ID)
		return false, nil
	}

	b.Status = models.BatchStatusSending
	return true, w.Process(ctx, b)
}

// Process delivers a batch the caller already moved to sending and records
// the outcome. Panics are recovered into an error outcome for this batch.
func (w *Worker) Process(ctx context.Context, b *models.Batch) (outcome *Outcome) {
	start := w.now()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while dispatching batch",
				"batch_id", b.ID, "panic", r, "stack", string(debug.Stack()))
			outcome = w.fail(ctx, b, fmt.Sprintf("%v", r), 0, start)
		}
	}()

	return w.process(ctx, b, start)
}

func (w *Worker) process(ctx context.Context, b *models.Batch, start time.Time) *Outcome {
	logger := w.logger.With("batch_id", b.ID, "user_id", b.UserID, "block", b.BlockNumber)
	count := len(b.Contacts)

	if count == 0 {
		return w.fail(ctx, b, "batch has no contacts", 0, start)
	}

	settings, err := w.deps.Settings.Get(ctx, b.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return w.fail(ctx, b, "user settings not found", 0, start)
	}
	if err != nil {
		return w.fail(ctx, b, err.Error(), 0, start)
	}
	if settings.WebhookURL == "" {
		return w.fail(ctx, b, "webhook URL not configured", 0, start)
	}

	campaign, err := w.deps.Campaigns.GetByID(ctx, b.CampaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return w.fail(ctx, b, "campaign not found", 0, start)
	}
	if err != nil {
		return w.fail(ctx, b, err.Error(), 0, start)
	}

	check, err := w.deps.Limiter.Check(ctx, b.UserID, count)
	if err != nil {
		return w.fail(ctx, b, fmt.Sprintf("rate limit check failed: %v", err), 0, start)
	}
	if !check.Allowed {
		metrics.IncRateLimitDenied()
		logger.Warn("daily dispatch limit reached", "remaining", check.Remaining, "contacts", count)
		return w.fail(ctx, b, fmt.Sprintf("daily dispatch limit exceeded: %d of %d remaining, batch has %d contacts",
			check.Remaining, check.Limit, count), 0, start)
	}

	res := w.deps.Sender.Send(ctx, settings.WebhookURL, webhook.BuildPayload(b, campaign))
	if !res.Success {
		return w.fail(ctx, b, res.Error, res.Status, start)
	}

	// Recording must finish even when the pass is being canceled
	rctx := context.WithoutCancel(ctx)

	if err := w.deps.Batches.UpdateStatus(rctx, b.ID, models.BatchStatusSent); err != nil {
		logger.Error("failed to mark batch sent", "error", err)
	}
	b.Status = models.BatchStatusSent

	if err := w.deps.Limiter.Confirm(rctx, b.UserID, count); err != nil {
		logger.Error("failed to confirm dispatch counter", "contacts", count, "error", err)
	}

	status := res.Status
	w.record(rctx, b, models.HistoryStatusSuccess, &status, "")

	if res.Opaque {
		logger.Warn("webhook response unreadable, delivery assumed", "contacts", count)
	} else {
		logger.Info("batch sent", "status", res.Status, "contacts", count)
	}

	w.publish(rctx, b, events.TypeBatchSent, res.Status, "", res.Opaque)
	metrics.ObserveDispatch(string(models.BatchStatusSent), count, w.now().Sub(start), res.Opaque)

	return &Outcome{BatchID: b.ID, Status: models.BatchStatusSent, ResponseStatus: res.Status, Opaque: res.Opaque}
}

// fail moves the batch to error and records why
func (w *Worker) fail(ctx context.Context, b *models.Batch, msg string, responseStatus int, start time.Time) *Outcome {
	rctx := context.WithoutCancel(ctx)

	if err := w.deps.Batches.UpdateStatus(rctx, b.ID, models.BatchStatusError); err != nil {
		w.logger.Error("failed to mark batch error", "batch_id", b.ID, "error", err)
	}
	b.Status = models.BatchStatusError

	var statusPtr *int
	if responseStatus != 0 {
		statusPtr = &responseStatus
	}
	w.record(rctx, b, models.HistoryStatusError, statusPtr, msg)

	w.logger.Warn("batch dispatch failed", "batch_id", b.ID, "user_id", b.UserID, "error", msg)
	w.publish(rctx, b, events.TypeBatchError, responseStatus, msg, false)
	metrics.ObserveDispatch(string(models.BatchStatusError), len(b.Contacts), w.now().Sub(start), false)

	return &Outcome{BatchID: b.ID, Status: models.BatchStatusError, ResponseStatus: responseStatus, Error: msg}
}

func (w *Worker) record(ctx context.Context, b *models.Batch, status models.HistoryStatus, responseStatus *int, msg string) {
	now := w.now().UTC()
	entry := &models.DispatchHistory{
		UserID:         b.UserID,
		BatchID:        b.ID,
		Timestamp:      now,
		BlockNumber:    b.BlockNumber,
		ContactsCount:  len(b.Contacts),
		Status:         status,
		ResponseStatus: responseStatus,
		ErrorMessage:   msg,
	}
	if err := w.deps.History.Insert(ctx, entry); err != nil {
		w.logger.Error("failed to insert history entry", "batch_id", b.ID, "error", err)
	}

	err := w.deps.Settings.RecordAttempt(ctx, b.UserID, len(b.Contacts), status == models.HistoryStatusSuccess, now)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		w.logger.Error("failed to update dispatch stats", "user_id", b.UserID, "error", err)
	}
}

func (w *Worker) publish(ctx context.Context, b *models.Batch, typ events.Type, responseStatus int, msg string, opaque bool) {
	err := w.deps.Events.Publish(ctx, events.Event{
		Type:           typ,
		BatchID:        b.ID,
		UserID:         b.UserID,
		CampaignID:     b.CampaignID,
		BlockNumber:    b.BlockNumber,
		ContactsCount:  len(b.Contacts),
		ResponseStatus: responseStatus,
		Error:          msg,
		Opaque:         opaque,
		OccurredAt:     w.now().UTC(),
	})
	if err != nil {
		w.logger.Warn("failed to publish event", "batch_id", b.ID, "type", typ, "error", err)
	}
}
