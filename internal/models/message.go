package models

import "time"

// MessageStatus is derived from the message's timestamp set, never
// stored. See EffectiveStatus.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageFailed     MessageStatus = "failed"
	MessageSent       MessageStatus = "sent"
	MessageDelivered  MessageStatus = "delivered"
	MessageOpened     MessageStatus = "opened"
	MessageClicked    MessageStatus = "clicked"
	MessageBounced    MessageStatus = "bounced"
	MessageComplained MessageStatus = "complained"
)

// Message is one row per (campaign, recipient) pair, created immediately
// before a delivery attempt so a crash mid-send still leaves an auditable
// pending record. The tracking token is unique system-wide and is the
// sole join key for open/click callbacks.
type Message struct {
	ID                string `json:"id"`
	CampaignID        string `json:"campaign_id"`
	RecipientID       int64  `json:"recipient_id"`
	Email             string `json:"email"`
	Token             string `json:"token"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`

	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	ClickedAt    *time.Time `json:"clicked_at,omitempty"`
	BouncedAt    *time.Time `json:"bounced_at,omitempty"`
	ComplainedAt *time.Time `json:"complained_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EffectiveStatus computes the message status from its timestamp set.
// Timestamp presence is the status: the feedback handler may set a later
// timestamp after the dispatcher already considered the message sent,
// and the priority order below resolves the combination.
func EffectiveStatus(m *Message) MessageStatus {
	switch {
	case m.ComplainedAt != nil:
		return MessageComplained
	case m.BouncedAt != nil:
		return MessageBounced
	case m.ClickedAt != nil:
		return MessageClicked
	case m.OpenedAt != nil:
		return MessageOpened
	case m.DeliveredAt != nil:
		return MessageDelivered
	case m.SentAt != nil:
		return MessageSent
	case m.Error != "":
		return MessageFailed
	default:
		return MessagePending
	}
}

// MessageFilter for listing campaign messages
type MessageFilter struct {
	CampaignID string
	Limit      int
	Offset     int
}
