// Package mailer provides the outbound delivery channel used by the
// dispatcher. A Sender is constructed once per job from the tenant's
// credentials and reused by every worker in the job's pool, so
// implementations must be safe for concurrent use.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailtide/mailtide/internal/models"
)

// SendParams describes one outbound message
type SendParams struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// SendResult reports the outcome of a dispatch
type SendResult struct {
	ProviderMessageID string
}

// Sender delivers a single message through the external channel
type Sender interface {
	Send(ctx context.Context, params *SendParams) (*SendResult, error)
}

// Factory builds senders from tenant credentials. The dispatcher is
// agnostic to which protocol the tenant configured.
type Factory struct {
	dkim   *DKIMSigner // optional, SMTP only
	logger *slog.Logger
}

func NewFactory(dkim *DKIMSigner, logger *slog.Logger) *Factory {
	return &Factory{dkim: dkim, logger: logger.With("component", "mailer")}
}

// New constructs a sender for the given credentials
func (f *Factory) New(creds *models.Credentials) (Sender, error) {
	switch creds.Protocol {
	case models.ProtocolAPI:
		if creds.BaseURL == "" || creds.APIKey == "" {
			return nil, fmt.Errorf("api credentials incomplete for tenant %s", creds.TenantID)
		}
		return NewAPISender(creds.BaseURL, creds.APIKey), nil
	case models.ProtocolSMTP:
		if creds.Host == "" {
			return nil, fmt.Errorf("smtp credentials incomplete for tenant %s", creds.TenantID)
		}
		return NewSMTPSender(creds, f.dkim, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown credential protocol %q", creds.Protocol)
	}
}

func formatFrom(email, name string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}
