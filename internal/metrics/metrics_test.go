package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// scrape serves the registry once and returns the exposition text.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", rr.Code)
	}
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("reading metrics body: %v", err)
	}
	return string(body)
}

func wantSample(t *testing.T, body, sample string) {
	t.Helper()
	if !strings.Contains(body, sample) {
		t.Errorf("metrics output missing %q", sample)
	}
}

// gatherFamily returns one named metric family from the registry, for
// assertions the exposition text cannot express cleanly.
func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("Expected non-nil Metrics")
	}
	if m.RequestsTotal == nil {
		t.Error("Expected RequestsTotal to be initialized")
	}
	if m.LoginsTotal == nil {
		t.Error("Expected LoginsTotal to be initialized")
	}
	if m.MigrationsApplied == nil {
		t.Error("Expected MigrationsApplied to be initialized")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	body := scrape(t, m)
	wantSample(t, body, "authservices_requests_total")
	// Go runtime metrics come from the default collectors
	if !strings.Contains(body, "go_") {
		t.Error("Expected metrics output to contain Go runtime metrics")
	}
}

func TestMetrics_Middleware(t *testing.T) {
	m := New()

	var called bool
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("POST", "/sessions/alice@example.com", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("Handler should have been called")
	}
	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", rr.Code)
	}

	body := scrape(t, m)
	wantSample(t, body, `authservices_requests_total{method="POST",path="/sessions/{principal}",status="201"} 1`)
}

func TestMetrics_Middleware_SkipsMetricsEndpoint(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if strings.Contains(scrape(t, m), `path="/metrics"`) {
		t.Error("requests to /metrics must not be counted")
	}
}

func TestRecordLogin(t *testing.T) {
	m := New()
	m.RecordLogin(true)
	m.RecordLogin(true)
	m.RecordLogin(false)

	body := scrape(t, m)
	wantSample(t, body, `authservices_logins_total{result="success"} 2`)
	wantSample(t, body, `authservices_logins_total{result="failure"} 1`)
}

func TestRecordUserCreated(t *testing.T) {
	m := New()
	m.RecordUserCreated()
	m.RecordUserCreated()
	m.RecordUserCreated()

	wantSample(t, scrape(t, m), "authservices_users_created_total 3")
}

func TestRecordMigrationApplied(t *testing.T) {
	m := New()
	m.RecordMigrationApplied(120 * time.Millisecond)
	m.RecordMigrationApplied(3 * time.Second)

	body := scrape(t, m)
	wantSample(t, body, "authservices_schema_migrations_applied_total 2")
	wantSample(t, body, "authservices_schema_migration_duration_seconds_count 2")
}

func TestMiddleware_ObservesRequestDuration(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	}

	mf := gatherFamily(t, m, "authservices_request_duration_seconds")
	if mf.GetType() != dto.MetricType_HISTOGRAM {
		t.Fatalf("expected histogram, got %v", mf.GetType())
	}
	var total uint64
	for _, metric := range mf.GetMetric() {
		total += metric.GetHistogram().GetSampleCount()
	}
	if total != 3 {
		t.Errorf("expected 3 observations, got %d", total)
	}
}

func TestMigrationDurationBuckets(t *testing.T) {
	m := New()
	m.RecordMigrationApplied(30 * time.Second)

	hist := gatherFamily(t, m, "authservices_schema_migration_duration_seconds").GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected 1 observation, got %d", hist.GetSampleCount())
	}
	// Schema DDL waits on cluster agreement, so a 30s script must land
	// inside an explicit bucket rather than spilling into +Inf.
	buckets := hist.GetBucket()
	top := buckets[len(buckets)-1]
	if top.GetUpperBound() < 30 {
		t.Errorf("top bucket upper bound %v does not cover slow DDL", top.GetUpperBound())
	}
	if top.GetCumulativeCount() != 1 {
		t.Errorf("expected the observation inside the bucket range, got %d", top.GetCumulativeCount())
	}
}

func TestRecordElectionRound(t *testing.T) {
	m := New()
	m.RecordElectionRound(true)
	m.RecordElectionRound(false)
	m.RecordElectionRound(false)

	body := scrape(t, m)
	wantSample(t, body, `authservices_schema_election_rounds_total{outcome="won"} 1`)
	wantSample(t, body, `authservices_schema_election_rounds_total{outcome="lost"} 2`)
}

func TestRecordStoreError(t *testing.T) {
	m := New()
	m.RecordStoreError("create_user")
	m.RecordStoreError("create_user")
	m.RecordStoreError("get_org")

	body := scrape(t, m)
	wantSample(t, body, `authservices_store_errors_total{operation="create_user"} 2`)
	wantSample(t, body, `authservices_store_errors_total{operation="get_org"} 1`)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/users", "/users"},
		{"/users/alice@example.com", "/users/{principal}"},
		{"/users/alice@example.com/requestpasswordreset", "/users/{principal}/requestpasswordreset"},
		{"/users/alice@example.com/completepasswordreset", "/users/{principal}/completepasswordreset"},
		{"/users/alice@example.com/unknown", "/users/alice@example.com/unknown"},
		{"/sessions/alice@example.com", "/sessions/{principal}"},
		{"/sessions/alice@example.com/8c0f51e3-97c5-4757-a57c-b639ad0e49b8", "/sessions/{principal}/{sessionid}"},
		{"/admin/status", "/admin/status"},
		{"/admin/orgs/example.com/settings/registrationOpen", "/admin/orgs/{org}/settings/{setting}"},
		{"/admin/settings/defaultorg", "/admin/settings/{setting}"},
		{"/health", "/health"},
		{"/ready", "/ready"},
		{"/", "/"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
