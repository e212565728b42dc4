package api

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailtide/mailtide/internal/models"
)

// ErrorResponse is the error response body
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// CampaignRequest is the request body for creating or updating a campaign
type CampaignRequest struct {
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	HTML        string     `json:"html"`
	Text        string     `json:"text"`
	SegmentID   string     `json:"segment_id"`
	IdentityID  string     `json:"identity_id"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Variables   string     `json:"variables,omitempty"`
}

// SendResponse is the response for POST /campaigns/{id}/send
type SendResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// StatusResponse is the response for GET /campaigns/{id}/status
type StatusResponse struct {
	Campaign *models.Campaign   `json:"campaign"`
	Job      models.JobSnapshot `json:"job"`
}

// ListResponse wraps paginated collections
type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	campaigns, total, err := s.campaigns.List(models.CampaignFilter{
		TenantID: tenantID,
		Status:   r.URL.Query().Get("status"),
		Search:   r.URL.Query().Get("search"),
	})
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: campaigns, Total: total})
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TenantID == "" || req.Name == "" || req.Subject == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id, name and subject are required")
		return
	}
	if req.SegmentID == "" || req.IdentityID == "" {
		s.sendError(w, http.StatusBadRequest, "segment_id and identity_id are required")
		return
	}
	if req.HTML == "" && req.Text == "" {
		s.sendError(w, http.StatusBadRequest, "campaign needs an html or text body")
		return
	}

	campaign := &models.Campaign{
		TenantID:    req.TenantID,
		Name:        req.Name,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
		SegmentID:   req.SegmentID,
		IdentityID:  req.IdentityID,
		ScheduledAt: req.ScheduledAt,
		Variables:   req.Variables,
	}
	if req.ScheduledAt != nil {
		campaign.Status = models.CampaignScheduled
	}

	if err := s.campaigns.Create(campaign); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}
	s.sendJSON(w, http.StatusCreated, campaign)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load campaign")
		return
	}
	if campaign == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	s.sendJSON(w, http.StatusOK, campaign)
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load campaign")
		return
	}
	if campaign == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	// Content edits are only safe before any send cycle has run
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignScheduled {
		s.sendError(w, http.StatusConflict, "Only draft or scheduled campaigns can be edited")
		return
	}

	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		campaign.Name = req.Name
	}
	if req.Subject != "" {
		campaign.Subject = req.Subject
	}
	if req.HTML != "" {
		campaign.HTML = req.HTML
	}
	if req.Text != "" {
		campaign.Text = req.Text
	}
	if req.SegmentID != "" {
		campaign.SegmentID = req.SegmentID
	}
	if req.IdentityID != "" {
		campaign.IdentityID = req.IdentityID
	}
	if req.Variables != "" {
		campaign.Variables = req.Variables
	}
	campaign.ScheduledAt = req.ScheduledAt

	if err := s.campaigns.Update(campaign); err != nil {
		s.logger.Error("failed to update campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
		return
	}
	s.sendJSON(w, http.StatusOK, campaign)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	campaign, err := s.campaigns.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load campaign")
		return
	}
	if campaign == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if s.dispatcher.Registry().IsActive(id) {
		s.sendError(w, http.StatusConflict, "Campaign is currently sending")
		return
	}

	if err := s.campaigns.Delete(id); err != nil {
		s.logger.Error("failed to delete campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.dispatcher.StartCampaign(chi.URLParam(r, "id"))
	if err != nil {
		// Configuration problems are the caller's to fix
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.sendJSON(w, http.StatusAccepted, SendResponse{JobID: jobID, Status: models.JobProcessing})
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Pause(chi.URLParam(r, "id")); err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	s.sendJSON(w, http.StatusAccepted, map[string]string{"status": "pausing"})
}

func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	campaign, err := s.campaigns.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load campaign")
		return
	}
	if campaign == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	snapshot, err := s.dispatcher.Status(id)
	if err != nil {
		s.logger.Error("failed to load job status", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load job status")
		return
	}
	s.sendJSON(w, http.StatusOK, StatusResponse{Campaign: campaign, Job: snapshot})
}

func (s *Server) handleCampaignMessages(w http.ResponseWriter, r *http.Request) {
	msgs, total, err := s.messages.ListByCampaign(models.MessageFilter{
		CampaignID: chi.URLParam(r, "id"),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	// Attach derived statuses so clients do not reimplement the priority
	type messageView struct {
		models.Message
		Status models.MessageStatus `json:"status"`
	}
	views := make([]messageView, len(msgs))
	for i := range msgs {
		views[i] = messageView{Message: msgs[i], Status: models.EffectiveStatus(&msgs[i])}
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: views, Total: total})
}

func validEmail(addr string) bool {
	_, err := mail.ParseAddress(addr)
	return err == nil
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
