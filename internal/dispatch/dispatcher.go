// Package dispatch runs send jobs: it walks a campaign's segment in
// cursor order, fans sends out to a bounded worker pool, paces them to
// the configured rate ceiling and checkpoints progress after every batch
// so a pause, crash or quota denial resumes without re-sending.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailtide/mailtide/internal/audit"
	"github.com/mailtide/mailtide/internal/mailer"
	"github.com/mailtide/mailtide/internal/metrics"
	"github.com/mailtide/mailtide/internal/models"
	"github.com/mailtide/mailtide/internal/quota"
	"github.com/mailtide/mailtide/internal/repository"
	"github.com/mailtide/mailtide/internal/segment"
	"github.com/mailtide/mailtide/internal/tracking"
)

// Config holds dispatch defaults applied to new jobs
type Config struct {
	BatchSize       int
	Concurrency     int
	RatePerSec      int
	TrackingBaseURL string
}

// DefaultConfig returns default dispatch configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		Concurrency: 20,
		RatePerSec:  18,
	}
}

// SenderFactory builds delivery channels from tenant credentials
type SenderFactory interface {
	New(creds *models.Credentials) (mailer.Sender, error)
}

// QuotaChecker reserves send volume against tenant quotas
type QuotaChecker interface {
	AllowN(tenantID string, n int) (*quota.Result, error)
}

// errPauseRequested signals a cooperative stop at a safe boundary
var errPauseRequested = errors.New("pause requested")

// Dispatcher owns the lifecycle of send jobs
type Dispatcher struct {
	campaigns   *repository.CampaignRepository
	jobs        *repository.JobRepository
	messages    *repository.MessageRepository
	segments    *repository.SegmentRepository
	identities  *repository.IdentityRepository
	credentials *repository.CredentialRepository

	pager    *segment.Pager
	senders  SenderFactory
	quota    QuotaChecker // optional
	audit    *audit.Recorder
	registry *Registry

	defaults Config
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a dispatcher. quota may be nil to disable quota checks.
func New(db *sql.DB, cfg Config, senders SenderFactory, qc QuotaChecker, rec *audit.Recorder, logger *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultConfig().RatePerSec
	}

	return &Dispatcher{
		campaigns:   repository.NewCampaignRepository(db),
		jobs:        repository.NewJobRepository(db),
		messages:    repository.NewMessageRepository(db),
		segments:    repository.NewSegmentRepository(db),
		identities:  repository.NewIdentityRepository(db),
		credentials: repository.NewCredentialRepository(db),
		pager:       segment.NewPager(repository.NewRecipientRepository(db)),
		senders:     senders,
		quota:       qc,
		audit:       rec,
		registry:    NewRegistry(),
		defaults:    cfg,
		logger:      logger.With("component", "dispatch"),
	}
}

// Registry exposes active job handles, used by status endpoints
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// StartCampaign validates the campaign's configuration and launches a
// send job for it. A paused campaign resumes from the latest job's
// cursor; sent messages keep their rows and tokens. Configuration
// problems fail here, before any job row is written.
func (d *Dispatcher) StartCampaign(campaignID string) (string, error) {
	campaign, err := d.campaigns.GetByID(campaignID)
	if err != nil {
		return "", fmt.Errorf("load campaign: %w", err)
	}
	if campaign == nil {
		return "", fmt.Errorf("campaign %s not found", campaignID)
	}
	if campaign.Status == models.CampaignCompleted {
		return "", fmt.Errorf("campaign %s is already completed", campaignID)
	}
	if d.registry.IsActive(campaignID) {
		return "", fmt.Errorf("campaign %s is already sending", campaignID)
	}

	seg, err := d.segments.GetByID(campaign.SegmentID)
	if err != nil {
		return "", fmt.Errorf("load segment: %w", err)
	}
	if seg == nil || seg.TenantID != campaign.TenantID {
		return "", fmt.Errorf("segment %s not found", campaign.SegmentID)
	}

	identity, err := d.identities.GetByID(campaign.IdentityID)
	if err != nil {
		return "", fmt.Errorf("load sender identity: %w", err)
	}
	if identity == nil || identity.TenantID != campaign.TenantID {
		return "", fmt.Errorf("sender identity %s not found", campaign.IdentityID)
	}
	if !identity.Verified {
		return "", fmt.Errorf("sender identity %s is not verified", identity.FromEmail)
	}

	creds, err := d.credentials.GetDecryptedCredentials(campaign.TenantID)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		return "", fmt.Errorf("tenant %s has no delivery credentials", campaign.TenantID)
	}

	sender, err := d.senders.New(creds)
	if err != nil {
		return "", fmt.Errorf("build sender: %w", err)
	}

	total, err := d.pager.Count(campaign.TenantID, seg)
	if err != nil {
		return "", fmt.Errorf("count segment: %w", err)
	}
	if total == 0 {
		return "", fmt.Errorf("segment %s matches no recipients", seg.Name)
	}

	// Resume from where the previous job stopped. A fresh job row is
	// created per cycle; prior jobs keep their final state.
	var cursor int64
	if prev, err := d.jobs.GetLatestByCampaign(campaignID); err != nil {
		return "", fmt.Errorf("load previous job: %w", err)
	} else if prev != nil {
		cursor = prev.LastCursor
	}

	job := &models.SendJob{
		ID:              uuid.New().String(),
		CampaignID:      campaign.ID,
		TenantID:        campaign.TenantID,
		Status:          models.JobPending,
		TotalRecipients: total,
		BatchSize:       d.defaults.BatchSize,
		Concurrency:     d.defaults.Concurrency,
		RatePerSec:      d.defaults.RatePerSec,
		LastCursor:      cursor,
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := d.registry.Acquire(campaignID, job.ID, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	if err := d.jobs.Create(job); err != nil {
		d.registry.Release(handle)
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := d.campaigns.UpdateStatus(campaign.ID, models.CampaignSending); err != nil {
		d.registry.Release(handle)
		return "", fmt.Errorf("update campaign status: %w", err)
	}
	if err := d.jobs.UpdateStatus(job.ID, models.JobProcessing, ""); err != nil {
		d.registry.Release(handle)
		return "", fmt.Errorf("update job status: %w", err)
	}

	metrics.IncActiveJobs()
	d.audit.Record(campaign.TenantID, "campaign.send", audit.CategoryCampaign, "started", map[string]any{
		"campaign_id": campaign.ID,
		"job_id":      job.ID,
		"total":       total,
		"cursor":      cursor,
	})
	d.logger.Info("job started",
		"job_id", job.ID, "campaign_id", campaign.ID,
		"total", total, "cursor", cursor,
		"batch_size", job.BatchSize, "concurrency", job.Concurrency, "rate_per_sec", job.RatePerSec)

	d.wg.Add(1)
	go d.run(ctx, handle, job, campaign, seg, identity, sender)

	return job.ID, nil
}

// Pause asks the campaign's active job to stop at the next batch or
// chunk boundary. Returns an error if no job is running.
func (d *Dispatcher) Pause(campaignID string) error {
	handle := d.registry.Get(campaignID)
	if handle == nil {
		return fmt.Errorf("campaign %s has no active job", campaignID)
	}
	handle.RequestPause()
	return nil
}

// Status returns the externally observable state of the campaign's most
// recent job
func (d *Dispatcher) Status(campaignID string) (models.JobSnapshot, error) {
	job, err := d.jobs.GetLatestByCampaign(campaignID)
	if err != nil {
		return models.JobSnapshot{}, err
	}
	if job == nil {
		return models.JobSnapshot{}, nil
	}
	return job.Snapshot(d.registry.IsActive(campaignID)), nil
}

// Shutdown cancels all active jobs and waits for their run loops to
// checkpoint and exit
func (d *Dispatcher) Shutdown() {
	for _, h := range d.registry.Handles() {
		h.Cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, handle *Handle, job *models.SendJob, campaign *models.Campaign, seg *models.Segment, identity *models.SenderIdentity, sender mailer.Sender) {
	defer d.wg.Done()
	defer metrics.DecActiveJobs()
	defer d.registry.Release(handle)

	logger := d.logger.With("job_id", job.ID, "campaign_id", campaign.ID)
	writer := newOutcomeWriter(d.messages, d.campaigns, campaign.ID, campaign.TenantID, job.Concurrency*4, logger)

	cursor := job.LastCursor
	var processed int64
	batchNum := 0

	finalStatus := models.JobCompleted
	finalError := ""

loop:
	for {
		select {
		case <-ctx.Done():
			finalStatus = models.JobPaused
			finalError = "dispatcher shutdown"
			break loop
		default:
		}
		if handle.PauseRequested() {
			finalStatus = models.JobPaused
			break loop
		}

		batch, next, err := d.pager.NextBatch(campaign.TenantID, seg, cursor, job.BatchSize)
		if err != nil {
			finalStatus = models.JobFailed
			finalError = err.Error()
			break loop
		}
		if len(batch) == 0 {
			if next == cursor {
				break loop // segment exhausted
			}
			// window held no matches, keep walking
			cursor = next
			continue
		}

		if d.quota != nil {
			res, err := d.quota.AllowN(campaign.TenantID, len(batch))
			if err != nil {
				finalStatus = models.JobFailed
				finalError = fmt.Sprintf("quota check: %v", err)
				break loop
			}
			if !res.Allowed {
				metrics.IncQuotaDenied(campaign.TenantID, string(res.DeniedBy))
				finalStatus = models.JobPaused
				finalError = fmt.Sprintf("tenant quota exhausted (%s window), retry in %s", res.DeniedBy, res.RetryAfter.Round(time.Second))
				break loop
			}
		}

		msgs := make([]models.Message, len(batch))
		for i := range batch {
			msgs[i] = models.Message{
				CampaignID:  campaign.ID,
				RecipientID: batch[i].ID,
				Email:       batch[i].Email,
			}
		}
		if err := d.messages.CreateBatch(msgs); err != nil {
			finalStatus = models.JobFailed
			finalError = fmt.Sprintf("create message rows: %v", err)
			break loop
		}

		err = d.sendBatch(ctx, handle, job, campaign, identity, sender, batch, msgs, writer)
		if err != nil {
			// The batch may be partially sent. Leave the cursor where it
			// was: the next cycle refetches the batch and the sent_at
			// read-back in CreateBatch skips the completed sends.
			if errors.Is(err, errPauseRequested) || errors.Is(err, context.Canceled) {
				finalStatus = models.JobPaused
				if errors.Is(err, context.Canceled) {
					finalError = "dispatcher shutdown"
				}
			} else {
				finalStatus = models.JobFailed
				finalError = err.Error()
			}
			break loop
		}

		processed += int64(len(batch))
		cursor = next
		batchNum++

		sent, failed := writer.counts()
		if perr := d.jobs.UpdateProgress(job.ID, processed, sent, failed, batchNum, cursor); perr != nil {
			logger.Error("failed to checkpoint progress", "error", perr)
		}
	}

	if werr := writer.close(); werr != nil && finalStatus == models.JobCompleted {
		finalStatus = models.JobFailed
		finalError = fmt.Sprintf("persist outcomes: %v", werr)
	}

	sent, failed := writer.counts()
	if err := d.jobs.UpdateProgress(job.ID, processed, sent, failed, batchNum, cursor); err != nil {
		logger.Error("failed to write final progress", "error", err)
	}
	if err := d.jobs.UpdateStatus(job.ID, finalStatus, finalError); err != nil {
		logger.Error("failed to write final job status", "error", err)
	}

	campaignStatus := models.CampaignCompleted
	switch finalStatus {
	case models.JobPaused:
		campaignStatus = models.CampaignPaused
	case models.JobFailed:
		campaignStatus = models.CampaignFailed
	}
	if err := d.campaigns.UpdateStatus(campaign.ID, campaignStatus); err != nil {
		logger.Error("failed to write final campaign status", "error", err)
	}

	d.audit.Record(campaign.TenantID, "campaign.send", audit.CategoryCampaign, finalStatus, map[string]any{
		"campaign_id": campaign.ID,
		"job_id":      job.ID,
		"processed":   processed,
		"sent":        sent,
		"failed":      failed,
		"error":       finalError,
	})
	logger.Info("job finished", "status", finalStatus, "processed", processed, "sent", sent, "failed", failed)
}

// sendBatch fans one batch out to the worker pool in chunks of the job's
// concurrency. Each chunk is paced so the batch as a whole stays at or
// under the rate ceiling: a chunk of n sends must take at least n/rate
// seconds of wall clock, and the residual is slept off.
func (d *Dispatcher) sendBatch(ctx context.Context, handle *Handle, job *models.SendJob, campaign *models.Campaign, identity *models.SenderIdentity, sender mailer.Sender, batch []models.Recipient, msgs []models.Message, writer *outcomeWriter) error {
	for start := 0; start < len(batch); start += job.Concurrency {
		if handle.PauseRequested() {
			return errPauseRequested
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start + job.Concurrency
		if end > len(batch) {
			end = len(batch)
		}

		chunkStart := time.Now()
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if msgs[i].SentAt != nil {
				continue // already sent by a previous cycle
			}
			wg.Add(1)
			go func(rcpt models.Recipient, msg models.Message) {
				defer wg.Done()
				d.sendOne(ctx, campaign, identity, sender, rcpt, msg, writer)
			}(batch[i], msgs[i])
		}
		wg.Wait()

		if job.RatePerSec > 0 {
			floor := time.Duration(end-start) * time.Second / time.Duration(job.RatePerSec)
			if elapsed := time.Since(chunkStart); elapsed < floor {
				select {
				case <-time.After(floor - elapsed):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, campaign *models.Campaign, identity *models.SenderIdentity, sender mailer.Sender, rcpt models.Recipient, msg models.Message, writer *outcomeWriter) {
	vars := mergeVariables(campaign.Variables, rcpt.Variables)
	vars["email"] = rcpt.Email
	if rcpt.Name != "" {
		vars["name"] = rcpt.Name
	}

	html := renderTemplate(campaign.HTML, vars)
	if html != "" && d.defaults.TrackingBaseURL != "" {
		html = tracking.Inject(html, msg.Token, d.defaults.TrackingBaseURL)
	}

	params := &mailer.SendParams{
		From:     identity.FromEmail,
		FromName: identity.FromName,
		To:       rcpt.Email,
		Subject:  renderTemplate(campaign.Subject, vars),
		HTML:     html,
		Text:     renderTemplate(campaign.Text, vars),
	}

	res, err := sender.Send(ctx, params)
	if err != nil {
		writer.record(outcome{messageID: msg.ID, err: err})
		return
	}
	writer.record(outcome{messageID: msg.ID, providerID: res.ProviderMessageID})
}
