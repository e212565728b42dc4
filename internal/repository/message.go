package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/internal/models"
)

type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateBatch inserts one message row per recipient in a single
// transaction, immediately before the delivery attempt. The insert is
// idempotent on (campaign, recipient): a resumed job that re-examines a
// recipient keeps the original row and token, and the slice is rewritten
// in place with the persisted ids and tokens.
func (r *MessageRepository) CreateBatch(msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (id, campaign_id, recipient_id, email, token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, recipient_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.New().String()
		}
		if msgs[i].Token == "" {
			msgs[i].Token = uuid.New().String()
		}
		msgs[i].CreatedAt = now

		if _, err := stmt.Exec(msgs[i].ID, msgs[i].CampaignID, msgs[i].RecipientID, msgs[i].Email, msgs[i].Token, msgs[i].CreatedAt); err != nil {
			return err
		}
	}

	// Read back ids, tokens and sent_at for rows that already existed, so
	// a resumed batch reuses original tokens and skips completed sends
	lookup, err := tx.Prepare(`SELECT id, token, sent_at FROM messages WHERE campaign_id = ? AND recipient_id = ?`)
	if err != nil {
		return err
	}
	defer lookup.Close()

	for i := range msgs {
		var id, token string
		var sentAt sql.NullTime
		if err := lookup.QueryRow(msgs[i].CampaignID, msgs[i].RecipientID).Scan(&id, &token, &sentAt); err != nil {
			return err
		}
		msgs[i].ID = id
		msgs[i].Token = token
		if sentAt.Valid {
			msgs[i].SentAt = &sentAt.Time
		}
	}

	return tx.Commit()
}

const messageColumns = `id, campaign_id, recipient_id, email, token,
	COALESCE(provider_message_id, ''), COALESCE(error, ''),
	sent_at, delivered_at, opened_at, clicked_at, bounced_at, complained_at, created_at`

func scanMessage(scan func(...any) error) (*models.Message, error) {
	m := &models.Message{}
	var sentAt, deliveredAt, openedAt, clickedAt, bouncedAt, complainedAt sql.NullTime

	err := scan(&m.ID, &m.CampaignID, &m.RecipientID, &m.Email, &m.Token,
		&m.ProviderMessageID, &m.Error,
		&sentAt, &deliveredAt, &openedAt, &clickedAt, &bouncedAt, &complainedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		m.DeliveredAt = &deliveredAt.Time
	}
	if openedAt.Valid {
		m.OpenedAt = &openedAt.Time
	}
	if clickedAt.Valid {
		m.ClickedAt = &clickedAt.Time
	}
	if bouncedAt.Valid {
		m.BouncedAt = &bouncedAt.Time
	}
	if complainedAt.Valid {
		m.ComplainedAt = &complainedAt.Time
	}
	return m, nil
}

// GetByToken returns a message by its tracking token
func (r *MessageRepository) GetByToken(token string) (*models.Message, error) {
	row := r.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE token = ?`, token)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetByProviderMessageID returns a message by the provider's identifier.
// The provider id, not the email, is the join key: multiple campaigns may
// target the same address.
func (r *MessageRepository) GetByProviderMessageID(providerID string) (*models.Message, error) {
	if providerID == "" {
		return nil, nil
	}
	row := r.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE provider_message_id = ?`, providerID)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MarkSent records a successful dispatch and the provider message id
func (r *MessageRepository) MarkSent(id, providerMessageID string) error {
	_, err := r.db.Exec(`
		UPDATE messages SET provider_message_id = ?, sent_at = COALESCE(sent_at, ?), error = ''
		WHERE id = ?`,
		providerMessageID, time.Now(), id)
	return err
}

// MarkFailed records a per-recipient send failure
func (r *MessageRepository) MarkFailed(id, errorMsg string) error {
	_, err := r.db.Exec("UPDATE messages SET error = ? WHERE id = ?", errorMsg, id)
	return err
}

// markTimestamp sets a timestamp column only if it is currently null and
// reports whether this call performed the transition. Callers use the
// return value to keep campaign counters equal to the number of messages
// with the timestamp set.
func (r *MessageRepository) markTimestamp(id, column string) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE messages SET "+column+" = ? WHERE id = ? AND "+column+" IS NULL",
		time.Now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDelivered sets delivered_at if unset
func (r *MessageRepository) MarkDelivered(id string) (bool, error) {
	return r.markTimestamp(id, "delivered_at")
}

// MarkOpened sets opened_at if unset
func (r *MessageRepository) MarkOpened(id string) (bool, error) {
	return r.markTimestamp(id, "opened_at")
}

// MarkClicked sets clicked_at if unset
func (r *MessageRepository) MarkClicked(id string) (bool, error) {
	return r.markTimestamp(id, "clicked_at")
}

// MarkBounced sets bounced_at if unset
func (r *MessageRepository) MarkBounced(id string) (bool, error) {
	return r.markTimestamp(id, "bounced_at")
}

// MarkComplained sets complained_at if unset
func (r *MessageRepository) MarkComplained(id string) (bool, error) {
	return r.markTimestamp(id, "complained_at")
}

// ListByCampaign returns a campaign's messages
func (r *MessageRepository) ListByCampaign(filter models.MessageFilter) ([]models.Message, int, error) {
	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM messages WHERE campaign_id = ?", filter.CampaignID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE campaign_id = ? ORDER BY recipient_id`
	args := []any{filter.CampaignID}

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, *m)
	}

	return msgs, total, nil
}

// CountWithTimestamp returns how many of a campaign's messages have the
// given timestamp column set
func (r *MessageRepository) CountWithTimestamp(campaignID, column string) (int64, error) {
	switch column {
	case "sent_at", "delivered_at", "opened_at", "clicked_at", "bounced_at", "complained_at":
	default:
		return 0, sql.ErrNoRows
	}
	var count int64
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE campaign_id = ? AND "+column+" IS NOT NULL",
		campaignID).Scan(&count)
	return count, err
}
