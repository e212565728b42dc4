// Package audit records operator-visible campaign lifecycle events.
// Recording is best-effort: a failed insert is logged and never blocks
// or fails the operation being audited.
package audit

import (
	"encoding/json"
	"log/slog"

	"github.com/mailtide/mailtide/internal/models"
	"github.com/mailtide/mailtide/internal/repository"
)

// Event categories
const (
	CategoryCampaign = "campaign"
	CategoryFeedback = "feedback"
	CategoryConfig   = "config"
)

type Recorder struct {
	repo   *repository.AuditRepository
	logger *slog.Logger
}

func NewRecorder(repo *repository.AuditRepository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger.With("component", "audit")}
}

// Record writes an audit event. metadata values must be JSON-encodable.
func (r *Recorder) Record(tenantID, action, category, status string, metadata map[string]any) {
	var meta string
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			r.logger.Warn("failed to encode audit metadata", "action", action, "error", err)
		} else {
			meta = string(data)
		}
	}

	event := &models.AuditEvent{
		TenantID: tenantID,
		Action:   action,
		Category: category,
		Status:   status,
		Metadata: meta,
	}
	if err := r.repo.Record(event); err != nil {
		r.logger.Error("failed to record audit event", "action", action, "tenant_id", tenantID, "error", err)
	}
}
