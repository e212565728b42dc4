package tracking

import (
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/mailtide/mailtide/internal/metrics"
	"github.com/mailtide/mailtide/internal/models"
	"github.com/mailtide/mailtide/internal/repository"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the open pixel and click redirect. Both endpoints
// respond normally no matter what the token resolves to: a broken or
// replayed token must never break mail rendering or eat a click.
type Handler struct {
	messages  *repository.MessageRepository
	campaigns *repository.CampaignRepository
	logger    *slog.Logger
}

func NewHandler(db *sql.DB, logger *slog.Logger) *Handler {
	return &Handler{
		messages:  repository.NewMessageRepository(db),
		campaigns: repository.NewCampaignRepository(db),
		logger:    logger.With("component", "tracking"),
	}
}

// Routes mounts the tracking endpoints
func (h *Handler) Routes(r chi.Router) {
	r.Get("/t/open/{token}", h.Open)
	r.Get("/t/click/{token}", h.Click)
}

// Open serves the tracking pixel and records the first open
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	h.mark(token, models.CounterOpened)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
}

// Click records the first click and redirects to the original target
func (h *Handler) Click(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	target := r.URL.Query().Get("url")

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		http.Error(w, "invalid redirect target", http.StatusBadRequest)
		return
	}

	h.mark(token, models.CounterClicked)
	http.Redirect(w, r, target, http.StatusFound)
}

// mark sets the message timestamp for the event and, on the first
// occurrence only, bumps the campaign counter. Lookup failures are logged
// and swallowed.
func (h *Handler) mark(token string, counter models.CampaignCounter) {
	msg, err := h.messages.GetByToken(token)
	if err != nil {
		h.logger.Error("token lookup failed", "token", token, "error", err)
		return
	}
	if msg == nil {
		h.logger.Debug("unknown tracking token", "token", token)
		return
	}

	var changed bool
	switch counter {
	case models.CounterOpened:
		changed, err = h.messages.MarkOpened(msg.ID)
	case models.CounterClicked:
		changed, err = h.messages.MarkClicked(msg.ID)
	}
	if err != nil {
		h.logger.Error("failed to mark message", "message_id", msg.ID, "error", err)
		return
	}
	if !changed {
		return
	}

	if err := h.campaigns.IncrementCounter(msg.CampaignID, counter, 1); err != nil {
		h.logger.Error("failed to bump campaign counter", "campaign_id", msg.CampaignID, "error", err)
	}

	if campaign, err := h.campaigns.GetByID(msg.CampaignID); err == nil && campaign != nil {
		switch counter {
		case models.CounterOpened:
			metrics.IncOpens(campaign.TenantID)
		case models.CounterClicked:
			metrics.IncClicks(campaign.TenantID)
		}
	}
}
