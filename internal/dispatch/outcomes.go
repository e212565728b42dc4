package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mailtide/mailtide/internal/metrics"
	"github.com/mailtide/mailtide/internal/models"
	"github.com/mailtide/mailtide/internal/repository"
)

// outcome is one delivery attempt result
type outcome struct {
	messageID  string
	providerID string
	err        error // non-nil marks the attempt failed
}

// outcomeWriter serializes per-message result writes behind a bounded
// channel. Send workers record outcomes without contending on the
// database; a full buffer applies backpressure to the workers rather than
// dropping results. The first persistent write error is kept and reported
// by close.
type outcomeWriter struct {
	messages  *repository.MessageRepository
	campaigns *repository.CampaignRepository

	campaignID string
	tenantID   string

	ch      chan outcome
	wg      sync.WaitGroup
	logger  *slog.Logger
	sent    atomic.Int64
	failed  atomic.Int64
	firstMu sync.Mutex
	first   error
}

func newOutcomeWriter(msgs *repository.MessageRepository, campaigns *repository.CampaignRepository, campaignID, tenantID string, buffer int, logger *slog.Logger) *outcomeWriter {
	if buffer <= 0 {
		buffer = 256
	}
	w := &outcomeWriter{
		messages:   msgs,
		campaigns:  campaigns,
		campaignID: campaignID,
		tenantID:   tenantID,
		ch:         make(chan outcome, buffer),
		logger:     logger,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// record enqueues an outcome, blocking when the buffer is full
func (w *outcomeWriter) record(o outcome) {
	w.ch <- o
}

func (w *outcomeWriter) run() {
	defer w.wg.Done()

	for o := range w.ch {
		if o.err != nil {
			w.failed.Add(1)
			if err := w.messages.MarkFailed(o.messageID, o.err.Error()); err != nil {
				w.keep(err)
			}
			metrics.IncMessagesFailed(w.tenantID)
			continue
		}

		w.sent.Add(1)
		if err := w.messages.MarkSent(o.messageID, o.providerID); err != nil {
			w.keep(err)
			continue
		}
		if err := w.campaigns.IncrementCounter(w.campaignID, models.CounterSent, 1); err != nil {
			w.keep(err)
		}
		metrics.IncMessagesSent(w.tenantID)
	}
}

func (w *outcomeWriter) keep(err error) {
	w.logger.Error("failed to persist delivery outcome", "campaign_id", w.campaignID, "error", err)
	w.firstMu.Lock()
	if w.first == nil {
		w.first = err
	}
	w.firstMu.Unlock()
}

// counts returns outcomes recorded so far
func (w *outcomeWriter) counts() (sent, failed int64) {
	return w.sent.Load(), w.failed.Load()
}

// close drains the buffer, stops the writer goroutine and returns the
// first write error, if any
func (w *outcomeWriter) close() error {
	close(w.ch)
	w.wg.Wait()
	w.firstMu.Lock()
	defer w.firstMu.Unlock()
	return w.first
}
