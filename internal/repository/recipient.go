package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mailtide/mailtide/internal/models"
)

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Create adds a recipient, upserting on (tenant, email). The autoincrement
// id is written back to the model.
func (r *RecipientRepository) Create(recipient *models.Recipient) error {
	recipient.CreatedAt = time.Now()
	if recipient.Status == "" {
		recipient.Status = models.RecipientActive
	}

	res, err := r.db.Exec(`
		INSERT INTO recipients (tenant_id, email, name, variables, tags, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, email) DO UPDATE SET
			name = excluded.name,
			variables = excluded.variables,
			tags = excluded.tags`,
		recipient.TenantID, recipient.Email, recipient.Name, recipient.Variables, recipient.Tags, recipient.Status, recipient.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}

	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		recipient.ID = id
	}
	return nil
}

// GetByID returns a recipient by id
func (r *RecipientRepository) GetByID(id int64) (*models.Recipient, error) {
	rec := &models.Recipient{}
	err := r.db.QueryRow(`
		SELECT id, tenant_id, email, name, COALESCE(variables, ''), COALESCE(tags, ''), status, created_at
		FROM recipients WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.TenantID, &rec.Email, &rec.Name, &rec.Variables, &rec.Tags, &rec.Status, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPage returns up to limit recipients of a tenant with id > afterID,
// in ascending id order. This is the keyset query behind the cursor
// pager: no already-returned row is ever re-scanned.
func (r *RecipientRepository) ListPage(tenantID string, afterID int64, limit int, activeOnly bool) ([]models.Recipient, error) {
	query := `
		SELECT id, tenant_id, email, name, COALESCE(variables, ''), COALESCE(tags, ''), status, created_at
		FROM recipients WHERE tenant_id = ? AND id > ?`
	args := []any{tenantID, afterID}

	if activeOnly {
		query += " AND status = ?"
		args = append(args, models.RecipientActive)
	}

	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []models.Recipient{}
	for rows.Next() {
		var rec models.Recipient
		err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Email, &rec.Name, &rec.Variables, &rec.Tags, &rec.Status, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}

	return recipients, rows.Err()
}

// CountActive returns the number of active recipients of a tenant
func (r *RecipientRepository) CountActive(tenantID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM recipients WHERE tenant_id = ? AND status = ?`,
		tenantID, models.RecipientActive,
	).Scan(&count)
	return count, err
}

// List returns recipients with filtering
func (r *RecipientRepository) List(filter models.RecipientFilter) ([]models.Recipient, int, error) {
	countQuery := "SELECT COUNT(*) FROM recipients WHERE tenant_id = ?"
	args := []any{filter.TenantID}

	if filter.Search != "" {
		countQuery += " AND (email LIKE ? OR name LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}
	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Tag != "" {
		countQuery += " AND tags LIKE ?"
		args = append(args, "%\""+filter.Tag+"\"%")
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, tenant_id, email, name, COALESCE(variables, ''), COALESCE(tags, ''), status, created_at
		FROM recipients WHERE tenant_id = ?`

	args = []any{filter.TenantID}
	if filter.Search != "" {
		query += " AND (email LIKE ? OR name LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Tag != "" {
		query += " AND tags LIKE ?"
		args = append(args, "%\""+filter.Tag+"\"%")
	}

	query += " ORDER BY id"

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

	recipients := []models.Recipient{}
	for rows.Next() {
		var rec models.Recipient
		err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Email, &rec.Name, &rec.Variables, &rec.Tags, &rec.Status, &rec.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		recipients = append(recipients, rec)
	}

	return recipients, total, nil
}

// Update updates a recipient's mutable fields
func (r *RecipientRepository) Update(recipient *models.Recipient) error {
	_, err := r.db.Exec(`
		UPDATE recipients SET email = ?, name = ?, variables = ?, tags = ?, status = ?
		WHERE id = ?`,
		recipient.Email, recipient.Name, recipient.Variables, recipient.Tags, recipient.Status, recipient.ID,
	)
	return err
}

// Demote lowers a recipient's status after a bounce or complaint. The
// lookup is scoped to one tenant so a notification for one tenant's
// campaign never alters another tenant's recipient with the same email.
// A complaint may overwrite a bounce; nothing overwrites a complaint,
// and demotion never resurrects an unsubscribed recipient.
func (r *RecipientRepository) Demote(tenantID, email, status string) error {
	_, err := r.db.Exec(`
		UPDATE recipients SET status = ?
		WHERE tenant_id = ? AND email = ?
		  AND (status = ? OR (? = ? AND status = ?))`,
		status, tenantID, email,
		models.RecipientActive, status, models.RecipientComplained, models.RecipientBounced,
	)
	return err
}

// Delete removes a recipient
func (r *RecipientRepository) Delete(id int64) error {
	_, err := r.db.Exec("DELETE FROM recipients WHERE id = ?", id)
	return err
}
