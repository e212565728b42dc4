// Package feedback ingests asynchronous delivery outcome notifications
// (bounces, complaints, deliveries) posted by the provider. The webhook
// always answers 200: the provider retries on anything else, and a
// malformed or unknown notification will not get better on retry.
package feedback

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailtide/mailtide/internal/metrics"
	"github.com/mailtide/mailtide/internal/models"
	"github.com/mailtide/mailtide/internal/repository"
)

// Notification types
const (
	TypeBounce    = "Bounce"
	TypeComplaint = "Complaint"
	TypeDelivery  = "Delivery"
)

// envelope is the SNS-style outer message
type envelope struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// notification is the provider's delivery outcome payload
type notification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
}

// Handler processes provider feedback webhooks
type Handler struct {
	messages   *repository.MessageRepository
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
	audit      *repository.AuditRepository

	httpClient *http.Client
	logger     *slog.Logger
}

func NewHandler(db *sql.DB, logger *slog.Logger) *Handler {
	return &Handler{
		messages:   repository.NewMessageRepository(db),
		campaigns:  repository.NewCampaignRepository(db),
		recipients: repository.NewRecipientRepository(db),
		audit:      repository.NewAuditRepository(db),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "feedback"),
	}
}

// Routes mounts the webhook endpoint
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/feedback", h.Receive)
}

// Receive handles one webhook POST
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Warn("malformed webhook envelope", "error", err)
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		h.confirmSubscription(env.SubscribeURL)
	case "Notification":
		h.handleNotification(env.Message)
	default:
		h.logger.Warn("unknown webhook type", "type", env.Type)
	}
}

// confirmSubscription follows the SubscribeURL so the provider starts
// delivering notifications
func (h *Handler) confirmSubscription(subscribeURL string) {
	if subscribeURL == "" {
		h.logger.Warn("subscription confirmation without SubscribeURL")
		return
	}
	resp, err := h.httpClient.Get(subscribeURL)
	if err != nil {
		h.logger.Error("failed to confirm subscription", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	h.logger.Info("webhook subscription confirmed", "status", resp.StatusCode)
}

func (h *Handler) handleNotification(message string) {
	var n notification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		h.logger.Warn("malformed notification payload", "error", err)
		return
	}

	metrics.IncWebhookEvents(n.NotificationType)

	msg, err := h.messages.GetByProviderMessageID(n.Mail.MessageID)
	if err != nil {
		h.logger.Error("message lookup failed", "provider_message_id", n.Mail.MessageID, "error", err)
		return
	}
	if msg == nil {
		// Not ours, or a campaign purged long ago. Acknowledge and move on.
		metrics.IncWebhookUnknown()
		h.logger.Debug("notification for unknown message", "provider_message_id", n.Mail.MessageID, "type", n.NotificationType)
		return
	}

	campaign, err := h.campaigns.GetByID(msg.CampaignID)
	if err != nil || campaign == nil {
		h.logger.Error("campaign lookup failed", "campaign_id", msg.CampaignID, "error", err)
		return
	}

	switch n.NotificationType {
	case TypeBounce:
		h.handleBounce(msg, campaign, &n, message)
	case TypeComplaint:
		h.handleComplaint(msg, campaign, &n, message)
	case TypeDelivery:
		h.handleDelivery(msg, campaign)
	default:
		h.logger.Warn("unknown notification type", "type", n.NotificationType)
	}
}

func (h *Handler) handleBounce(msg *models.Message, campaign *models.Campaign, n *notification, raw string) {
	changed, err := h.messages.MarkBounced(msg.ID)
	if err != nil {
		h.logger.Error("failed to mark bounced", "message_id", msg.ID, "error", err)
		return
	}
	if changed {
		if err := h.campaigns.IncrementCounter(campaign.ID, models.CounterBounced, 1); err != nil {
			h.logger.Error("failed to bump bounce counter", "campaign_id", campaign.ID, "error", err)
		}
		metrics.IncBounces(campaign.TenantID)
	}

	// Only hard bounces take the recipient out of circulation
	if n.Bounce.BounceType == "Permanent" {
		if err := h.recipients.Demote(campaign.TenantID, msg.Email, models.RecipientBounced); err != nil {
			h.logger.Error("failed to demote recipient", "email", msg.Email, "error", err)
		}
	}

	h.recordEvent(msg, campaign, TypeBounce, raw)
	h.logger.Info("bounce processed", "message_id", msg.ID, "email", msg.Email, "bounce_type", n.Bounce.BounceType)
}

func (h *Handler) handleComplaint(msg *models.Message, campaign *models.Campaign, n *notification, raw string) {
	changed, err := h.messages.MarkComplained(msg.ID)
	if err != nil {
		h.logger.Error("failed to mark complained", "message_id", msg.ID, "error", err)
		return
	}
	if changed {
		if err := h.campaigns.IncrementCounter(campaign.ID, models.CounterComplained, 1); err != nil {
			h.logger.Error("failed to bump complaint counter", "campaign_id", campaign.ID, "error", err)
		}
		metrics.IncComplaints(campaign.TenantID)
	}

	if err := h.recipients.Demote(campaign.TenantID, msg.Email, models.RecipientComplained); err != nil {
		h.logger.Error("failed to demote recipient", "email", msg.Email, "error", err)
	}

	h.recordEvent(msg, campaign, TypeComplaint, raw)
	h.logger.Info("complaint processed", "message_id", msg.ID, "email", msg.Email)
}

func (h *Handler) handleDelivery(msg *models.Message, campaign *models.Campaign) {
	changed, err := h.messages.MarkDelivered(msg.ID)
	if err != nil {
		h.logger.Error("failed to mark delivered", "message_id", msg.ID, "error", err)
		return
	}
	if changed {
		if err := h.campaigns.IncrementCounter(campaign.ID, models.CounterDelivered, 1); err != nil {
			h.logger.Error("failed to bump delivery counter", "campaign_id", campaign.ID, "error", err)
		}
	}
}

func (h *Handler) recordEvent(msg *models.Message, campaign *models.Campaign, eventType, raw string) {
	event := &models.FeedbackEvent{
		MessageID:         msg.ID,
		CampaignID:        campaign.ID,
		Type:              eventType,
		ProviderMessageID: msg.ProviderMessageID,
		Recipient:         msg.Email,
		Detail:            raw,
	}
	if err := h.audit.RecordFeedback(event); err != nil {
		h.logger.Error("failed to record feedback event", "message_id", msg.ID, "error", err)
	}
}
