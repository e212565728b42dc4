package models

import "time"

// Send job statuses
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobPaused     = "paused"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// SendJob represents one execution attempt of sending a campaign to its
// segment. A fresh job is created for every send/resume cycle; pausing
// never rewrites a prior job's progress. Resumption seeds LastCursor
// from the most recent job of the same campaign.
type SendJob struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	TenantID   string `json:"tenant_id"`
	Status     string `json:"status"`

	TotalRecipients int64 `json:"total_recipients"` // snapshot at creation
	BatchSize       int   `json:"batch_size"`
	Concurrency     int   `json:"concurrency"`
	RatePerSec      int   `json:"rate_per_sec"`

	ProcessedCount int64 `json:"processed_count"`
	SentCount      int64 `json:"sent_count"`
	FailedCount    int64 `json:"failed_count"`
	CurrentBatch   int   `json:"current_batch"`
	LastCursor     int64 `json:"last_cursor"`

	LastError  string     `json:"last_error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// JobSnapshot is the externally observable job status.
type JobSnapshot struct {
	HasJob          bool    `json:"has_job"`
	JobID           string  `json:"job_id,omitempty"`
	Status          string  `json:"status,omitempty"`
	Progress        float64 `json:"progress"`
	TotalRecipients int64   `json:"total_recipients"`
	ProcessedCount  int64   `json:"processed_count"`
	SentCount       int64   `json:"sent_count"`
	FailedCount     int64   `json:"failed_count"`
	IsActive        bool    `json:"is_active"`
	LastError       string  `json:"last_error,omitempty"`
}

// Snapshot builds the external status view of a job. isActive reports
// whether a dispatcher currently owns the job id.
func (j *SendJob) Snapshot(isActive bool) JobSnapshot {
	s := JobSnapshot{
		HasJob:          true,
		JobID:           j.ID,
		Status:          j.Status,
		TotalRecipients: j.TotalRecipients,
		ProcessedCount:  j.ProcessedCount,
		SentCount:       j.SentCount,
		FailedCount:     j.FailedCount,
		IsActive:        isActive,
		LastError:       j.LastError,
	}
	if j.TotalRecipients > 0 {
		s.Progress = float64(j.ProcessedCount) / float64(j.TotalRecipients)
	}
	return s
}
