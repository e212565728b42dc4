package models

import "time"

// SenderIdentity is a verified from-address/display-name pair owned by a
// tenant. Jobs fail fast when the campaign's identity is missing or
// unverified.
type SenderIdentity struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	FromEmail string    `json:"from_email"`
	FromName  string    `json:"from_name"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential protocols
const (
	ProtocolAPI  = "api"
	ProtocolSMTP = "smtp"
)

// Credentials holds a tenant's delivery channel configuration. Values
// are stored as opaque text; encryption at rest is handled by an
// external collaborator.
type Credentials struct {
	TenantID string `json:"tenant_id"`
	Protocol string `json:"protocol"` // api or smtp

	// API protocol
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`

	// SMTP protocol
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}
