package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/internal/models"
)

type SegmentRepository struct {
	db *sql.DB
}

func NewSegmentRepository(db *sql.DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// Create creates a new segment
func (r *SegmentRepository) Create(segment *models.Segment) error {
	segment.ID = uuid.New().String()
	segment.CreatedAt = time.Now()
	segment.UpdatedAt = segment.CreatedAt

	tags, _ := json.Marshal(segment.Rule.Tags)

	_, err := r.db.Exec(`
		INSERT INTO segments (id, tenant_id, name, description, rule_type, rule_tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		segment.ID, segment.TenantID, segment.Name, segment.Description, segment.Rule.Type, string(tags), segment.CreatedAt, segment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	return nil
}

// GetByID returns a segment by ID
func (r *SegmentRepository) GetByID(id string) (*models.Segment, error) {
	segment := &models.Segment{}
	var ruleTags string

	err := r.db.QueryRow(`
		SELECT id, tenant_id, name, COALESCE(description, ''), rule_type, COALESCE(rule_tags, ''), created_at, updated_at
		FROM segments WHERE id = ?`, id,
	).Scan(&segment.ID, &segment.TenantID, &segment.Name, &segment.Description, &segment.Rule.Type, &ruleTags, &segment.CreatedAt, &segment.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if ruleTags != "" {
		if err := json.Unmarshal([]byte(ruleTags), &segment.Rule.Tags); err != nil {
			segment.Rule.Tags = nil
		}
	}

	return segment, nil
}

// List returns segments with filtering
func (r *SegmentRepository) List(filter models.SegmentFilter) ([]models.Segment, int, error) {
	countQuery := "SELECT COUNT(*) FROM segments WHERE tenant_id = ?"
	args := []any{filter.TenantID}

	if filter.Search != "" {
		countQuery += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, tenant_id, name, COALESCE(description, ''), rule_type, COALESCE(rule_tags, ''), created_at, updated_at
		FROM segments WHERE tenant_id = ?`

	args = []any{filter.TenantID}
	if filter.Search != "" {
		query += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	query += " ORDER BY updated_at DESC"

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

	segments := []models.Segment{}
	for rows.Next() {
		var segment models.Segment
		var ruleTags string
		err := rows.Scan(&segment.ID, &segment.TenantID, &segment.Name, &segment.Description, &segment.Rule.Type, &ruleTags, &segment.CreatedAt, &segment.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		if ruleTags != "" {
			json.Unmarshal([]byte(ruleTags), &segment.Rule.Tags)
		}
		segments = append(segments, segment)
	}

	return segments, total, nil
}

// Update updates a segment
func (r *SegmentRepository) Update(segment *models.Segment) error {
	segment.UpdatedAt = time.Now()
	tags, _ := json.Marshal(segment.Rule.Tags)

	_, err := r.db.Exec(`
		UPDATE segments SET name = ?, description = ?, rule_type = ?, rule_tags = ?, updated_at = ?
		WHERE id = ?`,
		segment.Name, segment.Description, segment.Rule.Type, string(tags), segment.UpdatedAt, segment.ID,
	)
	return err
}

// Delete removes a segment
func (r *SegmentRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM segments WHERE id = ?", id)
	return err
}
