package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mailtide/mailtide/internal/models"
)

// Scheduler launches campaigns whose scheduled_at has passed.
type Scheduler struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewScheduler creates a scheduler polling at the given interval.
func NewScheduler(dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.With("component", "scheduler"),
		done:       make(chan struct{}),
	}
}

// Start starts the polling goroutine
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop stops the scheduler and waits for the goroutine to finish
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on start so restarts pick up overdue campaigns
	s.launchDue()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.launchDue()
		}
	}
}

func (s *Scheduler) launchDue() {
	due, err := s.dispatcher.campaigns.GetScheduledDue()
	if err != nil {
		s.logger.Error("failed to query scheduled campaigns", "error", err)
		return
	}

	for _, campaign := range due {
		jobID, err := s.dispatcher.StartCampaign(campaign.ID)
		if err != nil {
			// A misconfigured campaign would otherwise be retried every
			// tick; park it as failed so the operator sees it once.
			s.logger.Error("failed to launch scheduled campaign",
				"campaign_id", campaign.ID, "error", err)
			if uerr := s.dispatcher.campaigns.UpdateStatus(campaign.ID, models.CampaignFailed); uerr != nil {
				s.logger.Error("failed to mark campaign failed", "campaign_id", campaign.ID, "error", uerr)
			}
			continue
		}
		s.logger.Info("launched scheduled campaign",
			"campaign_id", campaign.ID, "name", campaign.Name, "job_id", jobID)
	}
}
