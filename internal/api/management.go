package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailtide/mailtide/internal/models"
)

// SegmentRequest is the request body for creating or updating a segment
type SegmentRequest struct {
	TenantID    string             `json:"tenant_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Rule        models.SegmentRule `json:"rule"`
}

// RecipientRequest is the request body for creating a recipient
type RecipientRequest struct {
	TenantID  string   `json:"tenant_id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags,omitempty"`
	Variables string   `json:"variables,omitempty"`
}

// IdentityRequest is the request body for creating a sender identity
type IdentityRequest struct {
	TenantID  string `json:"tenant_id"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// CredentialsRequest is the request body for storing delivery credentials
type CredentialsRequest struct {
	Protocol string `json:"protocol"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CredentialsView is the redacted credentials returned by GET
type CredentialsView struct {
	TenantID string `json:"tenant_id"`
	Protocol string `json:"protocol"`
	BaseURL  string `json:"base_url,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	segments, total, err := s.segments.List(models.SegmentFilter{
		TenantID: tenantID,
		Search:   r.URL.Query().Get("search"),
	})
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list segments")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: segments, Total: total})
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TenantID == "" || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id and name are required")
		return
	}
	switch req.Rule.Type {
	case models.RuleAll:
	case models.RuleTagsAny, models.RuleTagsAll:
		if len(req.Rule.Tags) == 0 {
			s.sendError(w, http.StatusBadRequest, "tag rules need at least one tag")
			return
		}
	default:
		s.sendError(w, http.StatusBadRequest, "rule.type must be all, tags_any or tags_all")
		return
	}

	seg := &models.Segment{
		TenantID:    req.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Rule:        req.Rule,
	}
	if err := s.segments.Create(seg); err != nil {
		s.logger.Error("failed to create segment", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create segment")
		return
	}
	s.sendJSON(w, http.StatusCreated, seg)
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := s.segments.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load segment")
		return
	}
	if seg == nil {
		s.sendError(w, http.StatusNotFound, "Segment not found")
		return
	}
	s.sendJSON(w, http.StatusOK, seg)
}

func (s *Server) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := s.segments.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load segment")
		return
	}
	if seg == nil {
		s.sendError(w, http.StatusNotFound, "Segment not found")
		return
	}

	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name != "" {
		seg.Name = req.Name
	}
	if req.Description != "" {
		seg.Description = req.Description
	}
	if req.Rule.Type != "" {
		seg.Rule = req.Rule
	}

	if err := s.segments.Update(seg); err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to update segment")
		return
	}
	s.sendJSON(w, http.StatusOK, seg)
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := s.segments.Delete(chi.URLParam(r, "id")); err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to delete segment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSegmentCount walks the segment and reports how many recipients a
// campaign targeting it would reach
func (s *Server) handleSegmentCount(w http.ResponseWriter, r *http.Request) {
	seg, err := s.segments.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load segment")
		return
	}
	if seg == nil {
		s.sendError(w, http.StatusNotFound, "Segment not found")
		return
	}

	count, err := s.pager.Count(seg.TenantID, seg)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to count segment")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	recipients, total, err := s.recipients.List(models.RecipientFilter{
		TenantID: tenantID,
		Search:   r.URL.Query().Get("search"),
		Status:   r.URL.Query().Get("status"),
		Tag:      r.URL.Query().Get("tag"),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list recipients")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: recipients, Total: total})
}

func (s *Server) handleCreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req RecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rcpt, errMsg := recipientFromRequest(&req)
	if errMsg != "" {
		s.sendError(w, http.StatusBadRequest, errMsg)
		return
	}
	if err := s.recipients.Create(rcpt); err != nil {
		s.logger.Error("failed to create recipient", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create recipient")
		return
	}
	s.sendJSON(w, http.StatusCreated, rcpt)
}

// handleImportRecipients bulk-upserts recipients; invalid rows are
// reported back instead of aborting the whole import
func (s *Server) handleImportRecipients(w http.ResponseWriter, r *http.Request) {
	var reqs []RecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	imported := 0
	var rejected []string
	for i := range reqs {
		rcpt, errMsg := recipientFromRequest(&reqs[i])
		if errMsg != "" {
			rejected = append(rejected, reqs[i].Email+": "+errMsg)
			continue
		}
		if err := s.recipients.Create(rcpt); err != nil {
			rejected = append(rejected, reqs[i].Email+": store failed")
			continue
		}
		imported++
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"imported": imported,
		"rejected": rejected,
	})
}

func recipientFromRequest(req *RecipientRequest) (*models.Recipient, string) {
	if req.TenantID == "" {
		return nil, "tenant_id is required"
	}
	if !validEmail(req.Email) {
		return nil, "invalid email address"
	}

	var tags string
	if len(req.Tags) > 0 {
		data, err := json.Marshal(req.Tags)
		if err != nil {
			return nil, "invalid tags"
		}
		tags = string(data)
	}

	return &models.Recipient{
		TenantID:  req.TenantID,
		Email:     req.Email,
		Name:      req.Name,
		Tags:      tags,
		Variables: req.Variables,
	}, ""
}

func (s *Server) handleDeleteRecipient(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid recipient id")
		return
	}
	if err := s.recipients.Delete(id); err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to delete recipient")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	identities, err := s.identities.ListByTenant(tenantID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list identities")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: identities, Total: len(identities)})
}

func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if !validEmail(req.FromEmail) {
		s.sendError(w, http.StatusBadRequest, "invalid from_email")
		return
	}

	identity := &models.SenderIdentity{
		TenantID:  req.TenantID,
		FromEmail: req.FromEmail,
		FromName:  req.FromName,
	}
	if err := s.identities.Create(identity); err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to create identity")
		return
	}
	s.sendJSON(w, http.StatusCreated, identity)
}

func (s *Server) handleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity, err := s.identities.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load identity")
		return
	}
	if identity == nil {
		s.sendError(w, http.StatusNotFound, "Identity not found")
		return
	}

	if err := s.identities.SetVerified(id, true); err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to verify identity")
		return
	}
	identity.Verified = true
	s.sendJSON(w, http.StatusOK, identity)
}

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentials.GetDecryptedCredentials(chi.URLParam(r, "tenant_id"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to load credentials")
		return
	}
	if creds == nil {
		s.sendError(w, http.StatusNotFound, "No credentials configured")
		return
	}

	// Secrets never leave the server
	s.sendJSON(w, http.StatusOK, CredentialsView{
		TenantID: creds.TenantID,
		Protocol: creds.Protocol,
		BaseURL:  creds.BaseURL,
		Host:     creds.Host,
		Port:     creds.Port,
		Username: creds.Username,
	})
}

func (s *Server) handleUpsertCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Protocol {
	case models.ProtocolAPI:
		if req.BaseURL == "" || req.APIKey == "" {
			s.sendError(w, http.StatusBadRequest, "api credentials need base_url and api_key")
			return
		}
	case models.ProtocolSMTP:
		if req.Host == "" {
			s.sendError(w, http.StatusBadRequest, "smtp credentials need a host")
			return
		}
	default:
		s.sendError(w, http.StatusBadRequest, "protocol must be api or smtp")
		return
	}

	creds := &models.Credentials{
		TenantID: chi.URLParam(r, "tenant_id"),
		Protocol: req.Protocol,
		BaseURL:  req.BaseURL,
		APIKey:   req.APIKey,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	}
	if err := s.credentials.Upsert(creds); err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to store credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	events, err := s.auditLog.ListByTenant(tenantID, queryInt(r, "limit", 100))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list audit events")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: events, Total: len(events)})
}
