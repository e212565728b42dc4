package repository

import (
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mailtide/mailtide/internal/db"
	"github.com/mailtide/mailtide/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	return conn
}

// seedCampaign creates the segment, identity and campaign a message or
// job test needs, returning the campaign.
func seedCampaign(t *testing.T, conn *sql.DB, tenantID string) *models.Campaign {
	t.Helper()

	segments := NewSegmentRepository(conn)
	identities := NewIdentityRepository(conn)
	campaigns := NewCampaignRepository(conn)

	segment := &models.Segment{
		TenantID: tenantID,
		Name:     "everyone",
		Rule:     models.SegmentRule{Type: models.RuleAll},
	}
	if err := segments.Create(segment); err != nil {
		t.Fatalf("create segment: %v", err)
	}

	identity := &models.SenderIdentity{
		TenantID:  tenantID,
		FromEmail: "news@example.com",
		FromName:  "Example News",
		Verified:  true,
	}
	if err := identities.Create(identity); err != nil {
		t.Fatalf("create identity: %v", err)
	}

	campaign := &models.Campaign{
		TenantID:   tenantID,
		Name:       "launch",
		Subject:    "Hello",
		HTML:       "<p>Hi</p>",
		SegmentID:  segment.ID,
		IdentityID: identity.ID,
	}
	if err := campaigns.Create(campaign); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	return campaign
}

func TestRecipientCreateUpsert(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	first := &models.Recipient{TenantID: "t1", Email: "a@example.com", Name: "A"}
	if err := repo.Create(first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.ID == 0 {
		t.Fatal("Create() did not assign id")
	}

	// Same tenant+email updates in place
	dup := &models.Recipient{TenantID: "t1", Email: "a@example.com", Name: "A2", Tags: `["vip"]`}
	if err := repo.Create(dup); err != nil {
		t.Fatalf("Create() upsert error = %v", err)
	}

	got, err := repo.GetByID(first.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID() = %v, %v", got, err)
	}
	if got.Name != "A2" || got.Tags != `["vip"]` {
		t.Errorf("upsert did not update fields: %+v", got)
	}

	var count int
	conn.QueryRow("SELECT COUNT(*) FROM recipients").Scan(&count)
	if count != 1 {
		t.Errorf("recipient count = %d, want 1", count)
	}
}

func TestRecipientListPageOrderAndFilter(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	for i := 0; i < 10; i++ {
		status := models.RecipientActive
		if i%3 == 0 {
			status = models.RecipientUnsubscribed
		}
		rec := &models.Recipient{
			TenantID: "t1",
			Email:    fmt.Sprintf("user%02d@example.com", i),
			Status:   status,
		}
		if err := repo.Create(rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := repo.ListPage("t1", 0, 100, true)
	if err != nil {
		t.Fatalf("ListPage() error = %v", err)
	}
	if len(page) != 6 {
		t.Fatalf("ListPage() returned %d active recipients, want 6", len(page))
	}
	for i := 1; i < len(page); i++ {
		if page[i].ID <= page[i-1].ID {
			t.Errorf("ListPage() not in ascending id order at index %d", i)
		}
	}

	// Keyset resume skips everything at or before the cursor
	resumed, err := repo.ListPage("t1", page[2].ID, 100, true)
	if err != nil {
		t.Fatalf("ListPage() resume error = %v", err)
	}
	if len(resumed) != 3 {
		t.Errorf("resumed page len = %d, want 3", len(resumed))
	}
}

func TestRecipientDemoteScopedToTenant(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	mine := &models.Recipient{TenantID: "t1", Email: "shared@example.com"}
	other := &models.Recipient{TenantID: "t2", Email: "shared@example.com"}
	if err := repo.Create(mine); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(other); err != nil {
		t.Fatal(err)
	}

	if err := repo.Demote("t1", "shared@example.com", models.RecipientBounced); err != nil {
		t.Fatalf("Demote() error = %v", err)
	}

	got, _ := repo.GetByID(mine.ID)
	if got.Status != models.RecipientBounced {
		t.Errorf("t1 recipient status = %q, want bounced", got.Status)
	}
	untouched, _ := repo.GetByID(other.ID)
	if untouched.Status != models.RecipientActive {
		t.Errorf("t2 recipient status = %q, want active (cross-tenant leak)", untouched.Status)
	}
}

func TestRecipientDemotePrecedence(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	rec := &models.Recipient{TenantID: "t1", Email: "a@example.com"}
	if err := repo.Create(rec); err != nil {
		t.Fatal(err)
	}

	// bounce then complaint: complaint wins
	repo.Demote("t1", "a@example.com", models.RecipientBounced)
	repo.Demote("t1", "a@example.com", models.RecipientComplained)
	got, _ := repo.GetByID(rec.ID)
	if got.Status != models.RecipientComplained {
		t.Errorf("status = %q, want complained", got.Status)
	}

	// a later bounce must not downgrade the complaint
	repo.Demote("t1", "a@example.com", models.RecipientBounced)
	got, _ = repo.GetByID(rec.ID)
	if got.Status != models.RecipientComplained {
		t.Errorf("status after bounce = %q, want complained", got.Status)
	}
}

func TestMessageCreateBatchIdempotent(t *testing.T) {
	conn := setupTestDB(t)
	recipients := NewRecipientRepository(conn)
	messages := NewMessageRepository(conn)
	campaign := seedCampaign(t, conn, "t1")

	rec := &models.Recipient{TenantID: "t1", Email: "a@example.com"}
	if err := recipients.Create(rec); err != nil {
		t.Fatal(err)
	}

	batch := []models.Message{{CampaignID: campaign.ID, RecipientID: rec.ID, Email: rec.Email}}
	if err := messages.CreateBatch(batch); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	firstID, firstToken := batch[0].ID, batch[0].Token
	if firstID == "" || firstToken == "" {
		t.Fatal("CreateBatch() did not assign id and token")
	}

	// Re-inserting the same pair keeps the original row and token
	again := []models.Message{{CampaignID: campaign.ID, RecipientID: rec.ID, Email: rec.Email}}
	if err := messages.CreateBatch(again); err != nil {
		t.Fatalf("CreateBatch() second call error = %v", err)
	}
	if again[0].ID != firstID || again[0].Token != firstToken {
		t.Errorf("CreateBatch() replaced existing row: got (%s,%s), want (%s,%s)",
			again[0].ID, again[0].Token, firstID, firstToken)
	}

	var count int
	conn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count)
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
}

func TestMessageMarkTimestampOnce(t *testing.T) {
	conn := setupTestDB(t)
	recipients := NewRecipientRepository(conn)
	messages := NewMessageRepository(conn)
	campaign := seedCampaign(t, conn, "t1")

	rec := &models.Recipient{TenantID: "t1", Email: "a@example.com"}
	recipients.Create(rec)
	batch := []models.Message{{CampaignID: campaign.ID, RecipientID: rec.ID, Email: rec.Email}}
	messages.CreateBatch(batch)

	changed, err := messages.MarkOpened(batch[0].ID)
	if err != nil {
		t.Fatalf("MarkOpened() error = %v", err)
	}
	if !changed {
		t.Error("first MarkOpened() = false, want true")
	}

	changed, err = messages.MarkOpened(batch[0].ID)
	if err != nil {
		t.Fatalf("MarkOpened() second call error = %v", err)
	}
	if changed {
		t.Error("second MarkOpened() = true, want false")
	}
}

func TestCampaignIncrementCounter(t *testing.T) {
	conn := setupTestDB(t)
	campaigns := NewCampaignRepository(conn)
	campaign := seedCampaign(t, conn, "t1")

	if err := campaigns.IncrementCounter(campaign.ID, models.CounterSent, 3); err != nil {
		t.Fatalf("IncrementCounter() error = %v", err)
	}
	if err := campaigns.IncrementCounter(campaign.ID, models.CounterSent, 2); err != nil {
		t.Fatalf("IncrementCounter() error = %v", err)
	}
	// zero and negative deltas are ignored
	if err := campaigns.IncrementCounter(campaign.ID, models.CounterSent, 0); err != nil {
		t.Fatalf("IncrementCounter(0) error = %v", err)
	}
	if err := campaigns.IncrementCounter(campaign.ID, models.CounterSent, -5); err != nil {
		t.Fatalf("IncrementCounter(-5) error = %v", err)
	}

	got, _ := campaigns.GetByID(campaign.ID)
	if got.SentCount != 5 {
		t.Errorf("SentCount = %d, want 5", got.SentCount)
	}

	if err := campaigns.IncrementCounter(campaign.ID, models.CampaignCounter("name"), 1); err == nil {
		t.Error("IncrementCounter with unknown column did not error")
	}
}

func TestJobProgressAndResumeCursor(t *testing.T) {
	conn := setupTestDB(t)
	jobs := NewJobRepository(conn)
	campaign := seedCampaign(t, conn, "t1")

	job := &models.SendJob{
		CampaignID:      campaign.ID,
		TenantID:        "t1",
		TotalRecipients: 100,
		BatchSize:       50,
		Concurrency:     10,
		RatePerSec:      18,
	}
	if err := jobs.Create(job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := jobs.UpdateStatus(job.ID, models.JobProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if err := jobs.UpdateProgress(job.ID, 40, 38, 2, 1, 40); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	if err := jobs.UpdateStatus(job.ID, models.JobPaused, ""); err != nil {
		t.Fatal(err)
	}

	latest, err := jobs.GetLatestByCampaign(campaign.ID)
	if err != nil || latest == nil {
		t.Fatalf("GetLatestByCampaign() = %v, %v", latest, err)
	}
	if latest.LastCursor != 40 || latest.ProcessedCount != 40 || latest.SentCount != 38 || latest.FailedCount != 2 {
		t.Errorf("durable progress = %+v", latest)
	}
	if latest.Status != models.JobPaused {
		t.Errorf("status = %q, want paused", latest.Status)
	}
	if latest.StartedAt == nil || latest.FinishedAt == nil {
		t.Error("expected started_at and finished_at to be set")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	conn := setupTestDB(t)
	creds := NewCredentialRepository(conn)

	if err := creds.Upsert(&models.Credentials{
		TenantID: "t1",
		Protocol: models.ProtocolSMTP,
		Host:     "smtp.example.com",
		Port:     587,
		Username: "mailer",
		Password: "secret",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := creds.GetDecryptedCredentials("t1")
	if err != nil || got == nil {
		t.Fatalf("GetDecryptedCredentials() = %v, %v", got, err)
	}
	if got.Protocol != models.ProtocolSMTP || got.Host != "smtp.example.com" || got.Port != 587 {
		t.Errorf("credentials = %+v", got)
	}

	missing, err := creds.GetDecryptedCredentials("nobody")
	if err != nil {
		t.Fatalf("GetDecryptedCredentials(missing) error = %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown tenant")
	}
}
