package models

import "time"

// Segment rule types. "all" targets every active recipient; the tag
// rules filter on the recipient's tag set.
const (
	RuleAll     = "all"
	RuleTagsAny = "tags_any"
	RuleTagsAll = "tags_all"
)

// SegmentRule describes how a segment selects recipients.
type SegmentRule struct {
	Type string   `json:"type"`
	Tags []string `json:"tags,omitempty"`
}

// Segment represents a named audience filter over a tenant's recipients.
type Segment struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Rule        SegmentRule `json:"rule"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SegmentFilter for listing segments
type SegmentFilter struct {
	TenantID string
	Search   string
	Limit    int
	Offset   int
}
