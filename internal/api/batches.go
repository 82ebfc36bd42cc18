package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/disparos/internal/models"
)

// BatchSummary is a batch without its contacts
type BatchSummary struct {
	ID            string             `json:"id"`
	ImportID      string             `json:"import_id"`
	CampaignID    string             `json:"campaign_id"`
	BlockNumber   int                `json:"block_number"`
	BlockSize     int                `json:"block_size"`
	Range         models.Range       `json:"range"`
	ContactsCount int                `json:"contacts_count"`
	Status        models.BatchStatus `json:"status"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
	SheetMeta     models.SheetMeta   `json:"sheet_meta"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ScheduleRequest is the request body for POST /batches/{id}/schedule
type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func summarize(b *models.Batch) BatchSummary {
	return BatchSummary{
		ID:            b.ID,
		ImportID:      b.ImportID,
		CampaignID:    b.CampaignID,
		BlockNumber:   b.BlockNumber,
		BlockSize:     b.BlockSize,
		Range:         b.Range,
		ContactsCount: len(b.Contacts),
		Status:        b.Status,
		ScheduledAt:   b.ScheduledAt,
		SheetMeta:     b.SheetMeta,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

// handleListBatches handles GET /api/v1/batches
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	q := r.URL.Query()

	status := models.BatchStatus(q.Get("status"))
	if status != "" && !status.IsValid() {
		sendError(w, http.StatusBadRequest, "invalid status")
		return
	}

	list, total, err := s.batches.List(r.Context(), models.BatchListFilter{
		UserID:     userID(r),
		ImportID:   q.Get("import_id"),
		CampaignID: q.Get("campaign_id"),
		Status:     status,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.sendStoreError(w, "failed to list batches", err)
		return
	}

	items := make([]BatchSummary, 0, len(list))
	for i := range list {
		items = append(items, summarize(&list[i]))
	}

	sendJSON(w, http.StatusOK, ListResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

// handleGetBatch handles GET /api/v1/batches/{id}
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.dispatcher.GetBatch(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, "failed to get batch", err)
		return
	}
	sendJSON(w, http.StatusOK, b)
}

// handleSendBatch handles POST /api/v1/batches/{id}/send. Delivery
// failures are reported in the outcome with status 200.
func (s *Server) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	out, err := s.dispatcher.SendNow(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, "failed to send batch", err)
		return
	}
	sendJSON(w, http.StatusOK, out)
}

// handleScheduleBatch handles POST /api/v1/batches/{id}/schedule
func (s *Server) handleScheduleBatch(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ScheduledAt.IsZero() {
		sendError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}

	b, err := s.dispatcher.Schedule(r.Context(), userID(r), chi.URLParam(r, "id"), req.ScheduledAt)
	if err != nil {
		s.sendStoreError(w, "failed to schedule batch", err)
		return
	}
	sendJSON(w, http.StatusOK, summarize(b))
}

// handleUnscheduleBatch handles POST /api/v1/batches/{id}/unschedule
func (s *Server) handleUnscheduleBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.dispatcher.Unschedule(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, "failed to unschedule batch", err)
		return
	}
	sendJSON(w, http.StatusOK, summarize(b))
}

// handleResetBatch handles POST /api/v1/batches/{id}/reset
func (s *Server) handleResetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.dispatcher.Reset(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, "failed to reset batch", err)
		return
	}
	sendJSON(w, http.StatusOK, summarize(b))
}

// handleDeleteBatch handles DELETE /api/v1/batches/{id}
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.sendStoreError(w, "failed to delete batch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
