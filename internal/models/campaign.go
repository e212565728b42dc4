package models

import "time"

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
)

// Campaign represents an email campaign targeting a segment.
// The six counters are incremented by the dispatcher and the feedback
// handler and never decrease.
type Campaign struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	HTML        string     `json:"html"`
	Text        string     `json:"text"`
	SegmentID   string     `json:"segment_id"`
	IdentityID  string     `json:"identity_id"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Variables   string     `json:"variables"` // JSON object

	SentCount       int64 `json:"sent_count"`
	DeliveredCount  int64 `json:"delivered_count"`
	OpenedCount     int64 `json:"opened_count"`
	ClickedCount    int64 `json:"clicked_count"`
	BouncedCount    int64 `json:"bounced_count"`
	ComplainedCount int64 `json:"complained_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CampaignCounter names a campaign aggregate counter column.
type CampaignCounter string

const (
	CounterSent       CampaignCounter = "sent_count"
	CounterDelivered  CampaignCounter = "delivered_count"
	CounterOpened     CampaignCounter = "opened_count"
	CounterClicked    CampaignCounter = "clicked_count"
	CounterBounced    CampaignCounter = "bounced_count"
	CounterComplained CampaignCounter = "complained_count"
)

// CampaignFilter for listing campaigns
type CampaignFilter struct {
	TenantID string
	Status   string
	Search   string
	Limit    int
	Offset   int
}
