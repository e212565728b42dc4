package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mailtide/mailtide/internal/audit"
	"github.com/mailtide/mailtide/internal/config"
	"github.com/mailtide/mailtide/internal/db"
	"github.com/mailtide/mailtide/internal/dispatch"
	"github.com/mailtide/mailtide/internal/mailer"
	"github.com/mailtide/mailtide/internal/metrics"
	"github.com/mailtide/mailtide/internal/models"
	"github.com/mailtide/mailtide/internal/repository"
)

const testAPIKey = "test-key"

type stubSender struct {
	mu    sync.Mutex
	count int
}

func (s *stubSender) Send(ctx context.Context, params *mailer.SendParams) (*mailer.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return &mailer.SendResult{ProviderMessageID: fmt.Sprintf("prov-%d", s.count)}, nil
}

func (s *stubSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

type stubFactory struct{ sender mailer.Sender }

func (f *stubFactory) New(creds *models.Credentials) (mailer.Sender, error) {
	return f.sender, nil
}

func newTestServer(t *testing.T) (*Server, *sql.DB, *stubSender) {
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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &stubSender{}
	rec := audit.NewRecorder(repository.NewAuditRepository(conn), logger)
	dispatcher := dispatch.New(conn,
		dispatch.Config{BatchSize: 10, Concurrency: 5, RatePerSec: 1000},
		&stubFactory{sender: sender}, nil, rec, logger)

	cfg := &config.Config{}
	cfg.Server.APIKey = testAPIKey
	cfg.Tracking.BaseURL = "https://track.example.com"

	srv := NewServer(conn, cfg, dispatcher, metrics.New(), logger)
	return srv, conn, sender
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns?tenant_id=t1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated request returned %d, want 401", rec.Code)
	}

	// Health stays public
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health returned %d, want 200", rec.Code)
	}
}

func TestCampaignLifecycleOverHTTP(t *testing.T) {
	srv, _, sender := newTestServer(t)

	// Recipients
	for i := 1; i <= 12; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/recipients", RecipientRequest{
			TenantID: "t1",
			Email:    fmt.Sprintf("user%02d@example.com", i),
			Name:     fmt.Sprintf("User %d", i),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create recipient returned %d: %s", rec.Code, rec.Body.String())
		}
	}

	// Segment
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/segments", SegmentRequest{
		TenantID: "t1", Name: "everyone", Rule: models.SegmentRule{Type: models.RuleAll},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create segment returned %d: %s", rec.Code, rec.Body.String())
	}
	seg := decode[models.Segment](t, rec)

	count := decode[map[string]int64](t, doJSON(t, srv, http.MethodGet, "/api/v1/segments/"+seg.ID+"/count", nil))
	if count["count"] != 12 {
		t.Errorf("segment count = %d, want 12", count["count"])
	}

	// Identity, unverified at first
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/identities", IdentityRequest{
		TenantID: "t1", FromEmail: "news@example.com", FromName: "News",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create identity returned %d", rec.Code)
	}
	identity := decode[models.SenderIdentity](t, rec)

	// Credentials
	rec = doJSON(t, srv, http.MethodPut, "/api/v1/credentials/t1", CredentialsRequest{
		Protocol: models.ProtocolAPI, BaseURL: "https://api.example.com", APIKey: "secret",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("upsert credentials returned %d: %s", rec.Code, rec.Body.String())
	}

	// GET must not leak the secret
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/credentials/t1", nil)
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("credentials GET leaked the api key")
	}

	// Campaign
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", CampaignRequest{
		TenantID: "t1", Name: "launch", Subject: "Hi {{name}}",
		HTML: "<p>Hello</p>", SegmentID: seg.ID, IdentityID: identity.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create campaign returned %d: %s", rec.Code, rec.Body.String())
	}
	campaign := decode[models.Campaign](t, rec)
	if campaign.Status != models.CampaignDraft {
		t.Errorf("new campaign status = %s, want draft", campaign.Status)
	}

	// Sending with an unverified identity is a config error
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+campaign.ID+"/send", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("send with unverified identity returned %d, want 422", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/identities/"+identity.ID+"/verify", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify identity returned %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+campaign.ID+"/send", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send returned %d: %s", rec.Code, rec.Body.String())
	}
	send := decode[SendResponse](t, rec)
	if send.JobID == "" {
		t.Fatal("send response missing job id")
	}

	// Wait for the job to drain
	deadline := time.Now().Add(30 * time.Second)
	for {
		status := decode[StatusResponse](t, doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/"+campaign.ID+"/status", nil))
		if status.Job.HasJob && !status.Job.IsActive {
			if status.Job.Status != models.JobCompleted {
				t.Fatalf("job status = %s (%s), want completed", status.Job.Status, status.Job.LastError)
			}
			if status.Job.SentCount != 12 || status.Job.Progress != 1 {
				t.Errorf("job sent=%d progress=%f, want 12/1.0", status.Job.SentCount, status.Job.Progress)
			}
			if status.Campaign.SentCount != 12 {
				t.Errorf("campaign sent_count = %d, want 12", status.Campaign.SentCount)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if sender.total() != 12 {
		t.Errorf("sender saw %d sends, want 12", sender.total())
	}

	// Message listing includes derived status
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/"+campaign.ID+"/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"sent"`) {
		t.Error("message listing missing derived sent status")
	}

	// Pause with nothing running conflicts
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+campaign.ID+"/pause", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("pause of idle campaign returned %d, want 409", rec.Code)
	}
}

func TestImportRejectsBadRows(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/recipients/import", []RecipientRequest{
		{TenantID: "t1", Email: "good@example.com"},
		{TenantID: "t1", Email: "not-an-email"},
		{Email: "missing-tenant@example.com"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("import returned %d", rec.Code)
	}

	result := decode[map[string]any](t, rec)
	if result["imported"].(float64) != 1 {
		t.Errorf("imported = %v, want 1", result["imported"])
	}
	if rejected := result["rejected"].([]any); len(rejected) != 2 {
		t.Errorf("rejected = %v, want 2 rows", rejected)
	}
}

func TestSegmentValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/segments", SegmentRequest{
		TenantID: "t1", Name: "vips", Rule: models.SegmentRule{Type: models.RuleTagsAny},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("tag rule without tags returned %d, want 400", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/segments", SegmentRequest{
		TenantID: "t1", Name: "odd", Rule: models.SegmentRule{Type: "geo_radius"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown rule type returned %d, want 400", rec.Code)
	}
}
