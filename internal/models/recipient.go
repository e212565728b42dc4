package models

import (
	"encoding/json"
	"time"
)

// Recipient statuses. Feedback processing only ever demotes a recipient;
// it never moves one back to active.
const (
	RecipientActive       = "active"
	RecipientUnsubscribed = "unsubscribed"
	RecipientBounced      = "bounced"
	RecipientComplained   = "complained"
)

// Recipient represents a single email recipient owned by a tenant.
// The integer ID doubles as the pagination cursor, so it must be
// strictly increasing within a tenant.
type Recipient struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Variables string    `json:"variables"` // JSON object
	Tags      string    `json:"tags"`      // JSON array
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TagList decodes the recipient's JSON tag array. Malformed or empty
// tag data yields an empty list.
func (r *Recipient) TagList() []string {
	if r.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

// VariableMap decodes the recipient's JSON variables object.
func (r *Recipient) VariableMap() map[string]string {
	if r.Variables == "" {
		return nil
	}
	var vars map[string]string
	if err := json.Unmarshal([]byte(r.Variables), &vars); err != nil {
		return nil
	}
	return vars
}

// RecipientFilter for listing recipients
type RecipientFilter struct {
	TenantID string
	Search   string
	Status   string
	Tag      string
	Limit    int
	Offset   int
}
