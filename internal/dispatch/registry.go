package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle controls one running send job. The dispatch loop polls
// PauseRequested at batch and chunk boundaries; Cancel aborts in-flight
// sends via the job context.
type Handle struct {
	JobID      string
	CampaignID string

	cancel context.CancelFunc
	paused atomic.Bool
	done   chan struct{}
}

// RequestPause asks the job to stop at the next safe boundary
func (h *Handle) RequestPause() {
	h.paused.Store(true)
}

// PauseRequested reports whether a pause has been requested
func (h *Handle) PauseRequested() bool {
	return h.paused.Load()
}

// Cancel aborts the job immediately
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed when the job's run loop has fully exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Registry tracks active jobs, at most one per campaign. Ownership of a
// campaign id is acquired before the run loop starts and released when it
// exits, so double-starting a campaign fails fast instead of racing.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Handle // campaign id -> handle
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Handle)}
}

// Acquire registers a handle for the campaign. Fails if the campaign
// already has an active job.
func (r *Registry) Acquire(campaignID, jobID string, cancel context.CancelFunc) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[campaignID]; ok {
		return nil, fmt.Errorf("campaign %s already has active job %s", campaignID, existing.JobID)
	}

	h := &Handle{
		JobID:      jobID,
		CampaignID: campaignID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	r.active[campaignID] = h
	return h, nil
}

// Release removes the handle and signals Done. Only the run loop that
// acquired the handle calls this.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	delete(r.active, h.CampaignID)
	r.mu.Unlock()
	close(h.done)
}

// Get returns the active handle for the campaign, or nil
func (r *Registry) Get(campaignID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[campaignID]
}

// IsActive reports whether the campaign has a running job
func (r *Registry) IsActive(campaignID string) bool {
	return r.Get(campaignID) != nil
}

// Handles returns a snapshot of all active handles
func (r *Registry) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*Handle, 0, len(r.active))
	for _, h := range r.active {
		handles = append(handles, h)
	}
	return handles
}
