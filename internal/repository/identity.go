package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/internal/models"
)

type IdentityRepository struct {
	db *sql.DB
}

func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create creates a sender identity
func (r *IdentityRepository) Create(identity *models.SenderIdentity) error {
	identity.ID = uuid.New().String()
	identity.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO sender_identities (id, tenant_id, from_email, from_name, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.TenantID, identity.FromEmail, identity.FromName, identity.Verified, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sender identity: %w", err)
	}
	return nil
}

// GetByID returns a sender identity by ID
func (r *IdentityRepository) GetByID(id string) (*models.SenderIdentity, error) {
	identity := &models.SenderIdentity{}
	err := r.db.QueryRow(`
		SELECT id, tenant_id, from_email, COALESCE(from_name, ''), verified, created_at
		FROM sender_identities WHERE id = ?`, id,
	).Scan(&identity.ID, &identity.TenantID, &identity.FromEmail, &identity.FromName, &identity.Verified, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// SetVerified marks an identity as verified
func (r *IdentityRepository) SetVerified(id string, verified bool) error {
	_, err := r.db.Exec("UPDATE sender_identities SET verified = ? WHERE id = ?", verified, id)
	return err
}

// ListByTenant returns a tenant's sender identities
func (r *IdentityRepository) ListByTenant(tenantID string) ([]models.SenderIdentity, error) {
	rows, err := r.db.Query(`
		SELECT id, tenant_id, from_email, COALESCE(from_name, ''), verified, created_at
		FROM sender_identities WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	identities := []models.SenderIdentity{}
	for rows.Next() {
		var identity models.SenderIdentity
		err := rows.Scan(&identity.ID, &identity.TenantID, &identity.FromEmail, &identity.FromName, &identity.Verified, &identity.CreatedAt)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}

	return identities, rows.Err()
}

// CredentialRepository stores per-tenant delivery credentials. Values are
// stored as opaque text; encryption at rest is an external collaborator's
// concern.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetDecryptedCredentials returns the tenant's delivery credentials, or
// nil when none are configured.
func (r *CredentialRepository) GetDecryptedCredentials(tenantID string) (*models.Credentials, error) {
	creds := &models.Credentials{}
	var port sql.NullInt64

	err := r.db.QueryRow(`
		SELECT tenant_id, protocol, COALESCE(base_url, ''), COALESCE(api_key, ''),
			COALESCE(host, ''), port, COALESCE(username, ''), COALESCE(password, ''), updated_at
		FROM credentials WHERE tenant_id = ?`, tenantID,
	).Scan(&creds.TenantID, &creds.Protocol, &creds.BaseURL, &creds.APIKey,
		&creds.Host, &port, &creds.Username, &creds.Password, &creds.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if port.Valid {
		creds.Port = int(port.Int64)
	}
	return creds, nil
}

// Upsert stores a tenant's delivery credentials
func (r *CredentialRepository) Upsert(creds *models.Credentials) error {
	creds.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		INSERT INTO credentials (tenant_id, protocol, base_url, api_key, host, port, username, password, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			protocol = excluded.protocol,
			base_url = excluded.base_url,
			api_key = excluded.api_key,
			host = excluded.host,
			port = excluded.port,
			username = excluded.username,
			password = excluded.password,
			updated_at = excluded.updated_at`,
		creds.TenantID, creds.Protocol, creds.BaseURL, creds.APIKey,
		creds.Host, creds.Port, creds.Username, creds.Password, creds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}
