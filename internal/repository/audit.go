package repository

import (
	"database/sql"
	"time"

	"github.com/mailtide/mailtide/internal/models"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends an audit event
func (r *AuditRepository) Record(event *models.AuditEvent) error {
	event.CreatedAt = time.Now()
	_, err := r.db.Exec(`
		INSERT INTO audit_log (tenant_id, action, category, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.TenantID, event.Action, event.Category, event.Status, event.Metadata, event.CreatedAt,
	)
	return err
}

// RecordFeedback appends a feedback event
func (r *AuditRepository) RecordFeedback(event *models.FeedbackEvent) error {
	event.CreatedAt = time.Now()
	_, err := r.db.Exec(`
		INSERT INTO feedback_events (message_id, campaign_id, type, provider_message_id, recipient, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.MessageID, event.CampaignID, event.Type, event.ProviderMessageID, event.Recipient, event.Detail, event.CreatedAt,
	)
	return err
}

// ListByTenant returns a tenant's audit events, newest first
func (r *AuditRepository) ListByTenant(tenantID string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, COALESCE(tenant_id, ''), action, COALESCE(category, ''), COALESCE(status, ''), COALESCE(metadata, ''), created_at
		FROM audit_log WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.AuditEvent{}
	for rows.Next() {
		var e models.AuditEvent
		err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &e.Category, &e.Status, &e.Metadata, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
