package feedback

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mailtide/mailtide/internal/db"
	"github.com/mailtide/mailtide/internal/models"
	"github.com/mailtide/mailtide/internal/repository"
)

func setupHandler(t *testing.T) (*sql.DB, http.Handler) {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	h := NewHandler(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Routes(r)
	return conn, r
}

// seedSentMessage creates a campaign with one sent message
func seedSentMessage(t *testing.T, conn *sql.DB, providerID string) (*models.Message, *models.Campaign, *models.Recipient) {
	t.Helper()

	segments := repository.NewSegmentRepository(conn)
	seg := &models.Segment{TenantID: "t1", Name: "all", Rule: models.SegmentRule{Type: models.RuleAll}}
	if err := segments.Create(seg); err != nil {
		t.Fatal(err)
	}
	identities := repository.NewIdentityRepository(conn)
	identity := &models.SenderIdentity{TenantID: "t1", FromEmail: "news@example.com", Verified: true}
	if err := identities.Create(identity); err != nil {
		t.Fatal(err)
	}
	campaigns := repository.NewCampaignRepository(conn)
	campaign := &models.Campaign{TenantID: "t1", Name: "c", Subject: "s", SegmentID: seg.ID, IdentityID: identity.ID}
	if err := campaigns.Create(campaign); err != nil {
		t.Fatal(err)
	}
	recipients := repository.NewRecipientRepository(conn)
	rcpt := &models.Recipient{TenantID: "t1", Email: "a@example.com"}
	if err := recipients.Create(rcpt); err != nil {
		t.Fatal(err)
	}

	msgs := []models.Message{{CampaignID: campaign.ID, RecipientID: rcpt.ID, Email: rcpt.Email}}
	messages := repository.NewMessageRepository(conn)
	if err := messages.CreateBatch(msgs); err != nil {
		t.Fatal(err)
	}
	if err := messages.MarkSent(msgs[0].ID, providerID); err != nil {
		t.Fatal(err)
	}
	return &msgs[0], campaign, rcpt
}

func postNotification(t *testing.T, router http.Handler, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	inner, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	outer, err := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": string(inner),
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/feedback", bytes.NewReader(outer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestBounceDemotesAndCountsOnce(t *testing.T) {
	conn, router := setupHandler(t)
	msg, campaign, rcpt := seedSentMessage(t, conn, "prov-1")

	payload := map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]string{"messageId": "prov-1"},
		"bounce": map[string]any{
			"bounceType":        "Permanent",
			"bouncedRecipients": []map[string]string{{"emailAddress": rcpt.Email}},
		},
	}

	for i := 0; i < 2; i++ {
		if rec := postNotification(t, router, payload); rec.Code != http.StatusOK {
			t.Fatalf("webhook returned %d, want 200", rec.Code)
		}
	}

	got, _ := repository.NewMessageRepository(conn).GetByToken(msg.Token)
	if got.BouncedAt == nil {
		t.Error("bounced_at not set")
	}
	if models.EffectiveStatus(got) != models.MessageBounced {
		t.Errorf("effective status = %s, want bounced", models.EffectiveStatus(got))
	}

	c, _ := repository.NewCampaignRepository(conn).GetByID(campaign.ID)
	// Two webhook deliveries, one counted
	if c.BouncedCount != 1 {
		t.Errorf("bounced_count = %d, want 1", c.BouncedCount)
	}

	r, _ := repository.NewRecipientRepository(conn).GetByID(rcpt.ID)
	if r.Status != models.RecipientBounced {
		t.Errorf("recipient status = %s, want bounced", r.Status)
	}

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM feedback_events WHERE campaign_id = ?", campaign.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("feedback_events rows = %d, want 2 (append-only log keeps every delivery)", n)
	}
}

func TestTransientBounceDoesNotDemote(t *testing.T) {
	conn, router := setupHandler(t)
	_, _, rcpt := seedSentMessage(t, conn, "prov-1")

	postNotification(t, router, map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]string{"messageId": "prov-1"},
		"bounce": map[string]any{
			"bounceType":        "Transient",
			"bouncedRecipients": []map[string]string{{"emailAddress": rcpt.Email}},
		},
	})

	r, _ := repository.NewRecipientRepository(conn).GetByID(rcpt.ID)
	if r.Status != models.RecipientActive {
		t.Errorf("recipient status = %s after soft bounce, want active", r.Status)
	}
}

func TestComplaintBeatsBounce(t *testing.T) {
	conn, router := setupHandler(t)
	_, _, rcpt := seedSentMessage(t, conn, "prov-1")

	recipients := repository.NewRecipientRepository(conn)
	if err := recipients.Demote("t1", rcpt.Email, models.RecipientBounced); err != nil {
		t.Fatal(err)
	}

	postNotification(t, router, map[string]any{
		"notificationType": "Complaint",
		"mail":             map[string]string{"messageId": "prov-1"},
		"complaint": map[string]any{
			"complainedRecipients": []map[string]string{{"emailAddress": rcpt.Email}},
		},
	})

	r, _ := recipients.GetByID(rcpt.ID)
	if r.Status != models.RecipientComplained {
		t.Errorf("recipient status = %s, want complained (complaint outranks bounce)", r.Status)
	}
}

func TestComplaintNeverResurrectsUnsubscribed(t *testing.T) {
	conn, router := setupHandler(t)
	_, _, rcpt := seedSentMessage(t, conn, "prov-1")

	if _, err := conn.Exec("UPDATE recipients SET status = ? WHERE id = ?", models.RecipientUnsubscribed, rcpt.ID); err != nil {
		t.Fatal(err)
	}

	postNotification(t, router, map[string]any{
		"notificationType": "Complaint",
		"mail":             map[string]string{"messageId": "prov-1"},
	})

	r, _ := repository.NewRecipientRepository(conn).GetByID(rcpt.ID)
	if r.Status != models.RecipientUnsubscribed {
		t.Errorf("recipient status = %s, unsubscribed must stick", r.Status)
	}
}

func TestDeliveryMarksMessage(t *testing.T) {
	conn, router := setupHandler(t)
	msg, campaign, _ := seedSentMessage(t, conn, "prov-1")

	postNotification(t, router, map[string]any{
		"notificationType": "Delivery",
		"mail":             map[string]string{"messageId": "prov-1"},
	})

	got, _ := repository.NewMessageRepository(conn).GetByToken(msg.Token)
	if got.DeliveredAt == nil {
		t.Error("delivered_at not set")
	}
	c, _ := repository.NewCampaignRepository(conn).GetByID(campaign.ID)
	if c.DeliveredCount != 1 {
		t.Errorf("delivered_count = %d, want 1", c.DeliveredCount)
	}
}

func TestUnknownProviderIDAcknowledged(t *testing.T) {
	conn, router := setupHandler(t)
	msg, _, rcpt := seedSentMessage(t, conn, "prov-1")

	rec := postNotification(t, router, map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]string{"messageId": "someone-elses-id"},
	})
	if rec.Code != http.StatusOK {
		t.Errorf("unknown message returned %d, want 200", rec.Code)
	}

	// Nothing mutated
	got, _ := repository.NewMessageRepository(conn).GetByToken(msg.Token)
	if got.BouncedAt != nil {
		t.Error("unknown notification mutated a message")
	}
	r, _ := repository.NewRecipientRepository(conn).GetByID(rcpt.ID)
	if r.Status != models.RecipientActive {
		t.Error("unknown notification demoted a recipient")
	}
}

func TestMalformedPayloadAcknowledged(t *testing.T) {
	_, router := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/feedback", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("malformed body returned %d, want 200", rec.Code)
	}
}

func TestSubscriptionConfirmationFollowsURL(t *testing.T) {
	_, router := setupHandler(t)

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{
		"Type":         "SubscriptionConfirmation",
		"SubscribeURL": srv.URL + "/confirm",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/feedback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("confirmation returned %d, want 200", rec.Code)
	}
	if hits.Load() != 1 {
		t.Errorf("SubscribeURL hit %d times, want 1", hits.Load())
	}
}
