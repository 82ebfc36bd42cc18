package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/foxzi/disparos/internal/contacts"
	"github.com/foxzi/disparos/internal/dispatch"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/repository"
	"github.com/foxzi/disparos/internal/sheet"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Uptime  string         `json:"uptime"`
	Batches map[string]int `json:"batches,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListResponse wraps a page of items
type ListResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// SettingsRequest is the request body for PUT /settings
type SettingsRequest struct {
	WebhookURL         string `json:"webhook_url"`
	DailyDispatchLimit int    `json:"daily_dispatch_limit"`
}

// WebhookTestRequest is the request body for POST /settings/webhook/test
type WebhookTestRequest struct {
	URL string `json:"url"`
}

// WebhookTestResponse is the response for POST /settings/webhook/test
type WebhookTestResponse struct {
	Success   bool   `json:"success"`
	Status    int    `json:"status,omitempty"`
	Opaque    bool   `json:"opaque,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}

	if s.batches != nil {
		counts, err := s.batches.CountByStatus(r.Context())
		if err != nil {
			s.logger.Error("failed to count batches", "error", err)
			resp.Status = "degraded"
		} else {
			resp.Batches = counts
		}
	}

	sendJSON(w, http.StatusOK, resp)
}

// handleGetSettings handles GET /api/v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context(), userID(r))
	if errors.Is(err, repository.ErrNotFound) {
		sendJSON(w, http.StatusOK, &models.UserSettings{
			UserID:             userID(r),
			DailyDispatchLimit: models.DefaultDailyDispatchLimit,
		})
		return
	}
	if err != nil {
		s.sendStoreError(w, "failed to get settings", err)
		return
	}
	sendJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings handles PUT /api/v1/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.WebhookURL != "" && !validWebhookURL(req.WebhookURL) {
		sendError(w, http.StatusBadRequest, "webhook_url must be an absolute http(s) URL")
		return
	}
	if req.DailyDispatchLimit < 0 {
		sendError(w, http.StatusBadRequest, "daily_dispatch_limit must not be negative")
		return
	}
	if req.DailyDispatchLimit == 0 {
		req.DailyDispatchLimit = models.DefaultDailyDispatchLimit
	}

	err := s.settings.Upsert(r.Context(), &models.UserSettings{
		UserID:             userID(r),
		WebhookURL:         req.WebhookURL,
		DailyDispatchLimit: req.DailyDispatchLimit,
	})
	if err != nil {
		s.sendStoreError(w, "failed to save settings", err)
		return
	}

	s.logger.Info("settings updated", "user_id", userID(r), "daily_dispatch_limit", req.DailyDispatchLimit)
	s.handleGetSettings(w, r)
}

// handleTestWebhook handles POST /api/v1/settings/webhook/test. Without a
// URL in the body the stored one is probed.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookTestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if req.URL == "" {
		settings, err := s.settings.Get(r.Context(), userID(r))
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.sendStoreError(w, "failed to get settings", err)
			return
		}
		if settings != nil {
			req.URL = settings.WebhookURL
		}
	}
	if req.URL == "" {
		sendError(w, http.StatusBadRequest, "webhook URL not configured")
		return
	}
	if !validWebhookURL(req.URL) {
		sendError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}

	res := s.webhook.Test(r.Context(), req.URL)
	sendJSON(w, http.StatusOK, WebhookTestResponse{
		Success:   res.Success,
		Status:    res.Status,
		Opaque:    res.Opaque,
		Error:     res.Error,
		LatencyMS: res.Latency.Milliseconds(),
	})
}

// handleUsage handles GET /api/v1/usage
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	res, err := s.limiter.Check(r.Context(), userID(r), 1)
	if errors.Is(err, repository.ErrNotFound) {
		sendJSON(w, http.StatusOK, map[string]int{
			"limit":     models.DefaultDailyDispatchLimit,
			"used":      0,
			"remaining": models.DefaultDailyDispatchLimit,
		})
		return
	}
	if err != nil {
		s.sendStoreError(w, "failed to read usage", err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{
		"limit":     res.Limit,
		"used":      res.Used,
		"remaining": res.Remaining,
	})
}

// handleListHistory handles GET /api/v1/history
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.HistoryFilter{
		UserID:  userID(r),
		BatchID: r.URL.Query().Get("batch_id"),
		Status:  models.HistoryStatus(r.URL.Query().Get("status")),
		Limit:   limit,
		Offset:  offset,
	}

	entries, total, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.sendStoreError(w, "failed to list history", err)
		return
	}
	if entries == nil {
		entries = []models.DispatchHistory{}
	}

	sendJSON(w, http.StatusOK, ListResponse{Items: entries, Total: total, Limit: limit, Offset: offset})
}

// sendStoreError maps domain errors to status codes and hides the rest
func (s *Server) sendStoreError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrCampaignInUse):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, dispatch.ErrBatchBusy):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sheet.ErrSheetTooLarge):
		sendError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, dispatch.ErrScheduleInPast),
		errors.Is(err, contacts.ErrInvalidBatchSize),
		errors.Is(err, sheet.ErrEmptySheet),
		errors.Is(err, sheet.ErrUnsupportedFormat),
		errors.Is(err, sheet.ErrInvalidSheetURL):
		sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(msg, "error", err)
		sendError(w, http.StatusInternalServerError, msg)
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
