package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/disparos/internal/models"
)

// CampaignRequest is the request body for creating or updating a campaign
type CampaignRequest struct {
	Name           string                `json:"name"`
	Objective      string                `json:"objective"`
	Description    string                `json:"description"`
	Status         models.CampaignStatus `json:"status"`
	AIInstructions string                `json:"ai_instructions"`
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.CampaignListFilter{
		UserID: userID(r),
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}

	list, total, err := s.campaigns.List(r.Context(), filter)
	if err != nil {
		s.sendStoreError(w, "failed to list campaigns", err)
		return
	}
	if list == nil {
		list = []models.Campaign{}
	}

	sendJSON(w, http.StatusOK, ListResponse{Items: list, Total: total, Limit: limit, Offset: offset})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Status != "" && !req.Status.IsValid() {
		sendError(w, http.StatusBadRequest, "invalid status")
		return
	}

	c := &models.Campaign{
		UserID:         userID(r),
		Name:           req.Name,
		Objective:      req.Objective,
		Description:    req.Description,
		Status:         req.Status,
		AIInstructions: req.AIInstructions,
	}
	if err := s.campaigns.Create(r.Context(), c); err != nil {
		s.sendStoreError(w, "failed to create campaign", err)
		return
	}

	s.logger.Info("campaign created", "user_id", c.UserID, "campaign_id", c.ID)
	sendJSON(w, http.StatusCreated, c)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.GetOwned(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, "failed to get campaign", err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}. Empty fields
// keep their current value.
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Status != "" && !req.Status.IsValid() {
		sendError(w, http.StatusBadRequest, "invalid status")
		return
	}

	c, err := s.campaigns.GetOwned(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, "failed to get campaign", err)
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		c.Name = name
	}
	if req.Objective != "" {
		c.Objective = req.Objective
	}
	if req.Description != "" {
		c.Description = req.Description
	}
	if req.Status != "" {
		c.Status = req.Status
	}
	if req.AIInstructions != "" {
		c.AIInstructions = req.AIInstructions
	}

	s.saveCampaign(w, r, c)
}

// handleArchiveCampaign handles POST /api/v1/campaigns/{id}/archive
func (s *Server) handleArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.GetOwned(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, "failed to get campaign", err)
		return
	}
	c.Status = models.CampaignStatusArchived
	s.saveCampaign(w, r, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.campaigns.Delete(r.Context(), userID(r), id); err != nil {
		s.sendStoreError(w, "failed to delete campaign", err)
		return
	}

	s.logger.Info("campaign deleted", "user_id", userID(r), "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) saveCampaign(w http.ResponseWriter, r *http.Request, c *models.Campaign) {
	if err := s.campaigns.Update(r.Context(), c); err != nil {
		s.sendStoreError(w, "failed to update campaign", err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}
