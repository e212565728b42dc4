package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign in draft status
func (r *CampaignRepository) Create(campaign *models.Campaign) error {
	campaign.ID = uuid.New().String()
	if campaign.Status == "" {
		campaign.Status = models.CampaignDraft
	}
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, tenant_id, name, subject, html, text, segment_id, identity_id, status, scheduled_at, variables, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		campaign.ID, campaign.TenantID, campaign.Name, campaign.Subject, campaign.HTML, campaign.Text,
		campaign.SegmentID, campaign.IdentityID, campaign.Status, campaign.ScheduledAt, campaign.Variables,
		campaign.CreatedAt, campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func scanCampaign(scan func(...any) error) (*models.Campaign, error) {
	c := &models.Campaign{}
	var scheduledAt sql.NullTime

	err := scan(&c.ID, &c.TenantID, &c.Name, &c.Subject, &c.HTML, &c.Text,
		&c.SegmentID, &c.IdentityID, &c.Status, &scheduledAt, &c.Variables,
		&c.SentCount, &c.DeliveredCount, &c.OpenedCount, &c.ClickedCount, &c.BouncedCount, &c.ComplainedCount,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	return c, nil
}

const campaignColumns = `id, tenant_id, name, subject, COALESCE(html, ''), COALESCE(text, ''),
	segment_id, identity_id, status, scheduled_at, COALESCE(variables, ''),
	sent_count, delivered_count, opened_count, clicked_count, bounced_count, complained_count,
	created_at, updated_at`

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with filtering
func (r *CampaignRepository) List(filter models.CampaignFilter) ([]models.Campaign, int, error) {
	countQuery := "SELECT COUNT(*) FROM campaigns WHERE tenant_id = ?"
	args := []any{filter.TenantID}

	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		countQuery += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id = ?`
	args = []any{filter.TenantID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	query += " ORDER BY created_at DESC"

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

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, total, nil
}

// Update updates a campaign's editable fields
func (r *CampaignRepository) Update(campaign *models.Campaign) error {
	campaign.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE campaigns SET name = ?, subject = ?, html = ?, text = ?, segment_id = ?, identity_id = ?, scheduled_at = ?, variables = ?, updated_at = ?
		WHERE id = ?`,
		campaign.Name, campaign.Subject, campaign.HTML, campaign.Text, campaign.SegmentID, campaign.IdentityID,
		campaign.ScheduledAt, campaign.Variables, campaign.UpdatedAt, campaign.ID,
	)
	return err
}

// UpdateStatus updates a campaign's lifecycle status
func (r *CampaignRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec("UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now(), id)
	return err
}

// IncrementCounter adds delta to one of the campaign aggregate counters.
// Counters are only ever incremented, never recomputed from scratch.
func (r *CampaignRepository) IncrementCounter(id string, counter models.CampaignCounter, delta int64) error {
	if delta <= 0 {
		return nil
	}

	col := string(counter)
	switch counter {
	case models.CounterSent, models.CounterDelivered, models.CounterOpened,
		models.CounterClicked, models.CounterBounced, models.CounterComplained:
	default:
		return fmt.Errorf("unknown campaign counter %q", col)
	}

	_, err := r.db.Exec(
		"UPDATE campaigns SET "+col+" = "+col+" + ?, updated_at = ? WHERE id = ?",
		delta, time.Now(), id)
	return err
}

// GetScheduledDue returns campaigns scheduled to start at or before now
func (r *CampaignRepository) GetScheduledDue() ([]models.Campaign, error) {
	rows, err := r.db.Query(`SELECT `+campaignColumns+` FROM campaigns
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at`, models.CampaignScheduled, time.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, rows.Err()
}

// Delete removes a campaign
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}
