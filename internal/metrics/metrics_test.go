package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsRegistration(t *testing.T) {
	m := New()

	m.MessagesSentTotal.WithLabelValues("acme").Add(3)
	m.MessagesFailedTotal.WithLabelValues("acme").Inc()
	m.OpensTotal.WithLabelValues("acme").Inc()
	m.ActiveJobs.Set(2)
	m.QuotaDeniedTotal.WithLabelValues("acme", "hour").Inc()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"mailtide_messages_sent_total",
		"mailtide_messages_failed_total",
		"mailtide_opens_total",
		"mailtide_active_jobs",
		"mailtide_quota_denied_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestGlobalHelpersNilSafe(t *testing.T) {
	SetGlobal(nil)
	// Must not panic when no global metrics are configured
	IncMessagesSent("acme")
	IncMessagesFailed("acme")
	IncOpens("acme")
	IncClicks("acme")
	IncBounces("acme")
	IncComplaints("acme")
	IncActiveJobs()
	DecActiveJobs()
	IncWebhookEvents("bounce")
	IncWebhookUnknown()
	IncQuotaDenied("acme", "day")
}

func TestHTTPMiddlewareRecordsRoute(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/t/open/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/t/open/abc123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	srv := httptest.NewServer(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(data), `path="/t/open/{token}"`) {
		t.Errorf("expected normalized route pattern in exposition, got:\n%s", data)
	}
}
