package models

import "time"

// AuditEvent is a structured record of an operator-visible action.
type AuditEvent struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Action    string    `json:"action"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	Metadata  string    `json:"metadata"` // JSON
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackEvent is an append-only record of an asynchronous delivery
// outcome notification from the provider.
type FeedbackEvent struct {
	ID                int64     `json:"id"`
	MessageID         string    `json:"message_id"`
	CampaignID        string    `json:"campaign_id"`
	Type              string    `json:"type"` // bounce, complaint, delivery
	ProviderMessageID string    `json:"provider_message_id"`
	Recipient         string    `json:"recipient"`
	Detail            string    `json:"detail"` // raw payload JSON
	CreatedAt         time.Time `json:"created_at"`
}
