package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create creates a new send job in pending status
func (r *JobRepository) Create(job *models.SendJob) error {
	job.ID = uuid.New().String()
	job.Status = models.JobPending
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO send_jobs (id, campaign_id, tenant_id, status, total_recipients, batch_size, concurrency, rate_per_sec, last_cursor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CampaignID, job.TenantID, job.Status, job.TotalRecipients,
		job.BatchSize, job.Concurrency, job.RatePerSec, job.LastCursor, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = `id, campaign_id, tenant_id, status, total_recipients, batch_size, concurrency, rate_per_sec,
	processed_count, sent_count, failed_count, current_batch, last_cursor,
	COALESCE(last_error, ''), started_at, finished_at, created_at, updated_at`

func scanJob(scan func(...any) error) (*models.SendJob, error) {
	job := &models.SendJob{}
	var startedAt, finishedAt sql.NullTime

	err := scan(&job.ID, &job.CampaignID, &job.TenantID, &job.Status, &job.TotalRecipients,
		&job.BatchSize, &job.Concurrency, &job.RatePerSec,
		&job.ProcessedCount, &job.SentCount, &job.FailedCount, &job.CurrentBatch, &job.LastCursor,
		&job.LastError, &startedAt, &finishedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return job, nil
}

// GetByID returns a job by ID
func (r *JobRepository) GetByID(id string) (*models.SendJob, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM send_jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetLatestByCampaign returns the most recent job for a campaign, or nil.
// Resumption seeds its cursor from this job's last durable position.
func (r *JobRepository) GetLatestByCampaign(campaignID string) (*models.SendJob, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM send_jobs
		WHERE campaign_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, campaignID)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateStatus transitions a job and records start/finish timestamps.
// lastError is only written for failed jobs.
func (r *JobRepository) UpdateStatus(id, status, lastError string) error {
	now := time.Now()
	var startedAt, finishedAt *time.Time

	switch status {
	case models.JobProcessing:
		startedAt = &now
	case models.JobCompleted, models.JobFailed, models.JobPaused:
		finishedAt = &now
	}

	_, err := r.db.Exec(`
		UPDATE send_jobs SET status = ?, last_error = ?,
			started_at = COALESCE(?, started_at), finished_at = COALESCE(?, finished_at), updated_at = ?
		WHERE id = ?`,
		status, lastError, startedAt, finishedAt, now, id,
	)
	return err
}

// UpdateProgress persists the durable resume point after a batch. The
// cursor written here is what a later resumption starts from, so this
// must succeed for the dispatcher to continue.
func (r *JobRepository) UpdateProgress(id string, processed, sent, failed int64, currentBatch int, lastCursor int64) error {
	_, err := r.db.Exec(`
		UPDATE send_jobs SET processed_count = ?, sent_count = ?, failed_count = ?,
			current_batch = ?, last_cursor = ?, updated_at = ?
		WHERE id = ?`,
		processed, sent, failed, currentBatch, lastCursor, time.Now(), id,
	)
	return err
}

// ListByCampaign returns all jobs of a campaign, newest first
func (r *JobRepository) ListByCampaign(campaignID string) ([]models.SendJob, error) {
	rows, err := r.db.Query(`SELECT `+jobColumns+` FROM send_jobs
		WHERE campaign_id = ? ORDER BY created_at DESC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.SendJob{}
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}
