package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/observability"
	"lloydsdigest/internal/quality"
	"lloydsdigest/internal/render"
)

type fakeStore struct {
	pingErr error
	stats   map[string][]core.MethodStats
	prefs   map[string]*core.MethodPrefs
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) MethodStats(_ context.Context, domain string) ([]core.MethodStats, error) {
	return f.stats[domain], nil
}

func (f *fakeStore) AllMethodStats(context.Context) ([]core.DomainMethodStats, error) {
	var out []core.DomainMethodStats
	for _, domain := range []string{"a.com", "b.com"} {
		for _, s := range f.stats[domain] {
			out = append(out, core.DomainMethodStats{Domain: domain, MethodStats: s})
		}
	}
	return out, nil
}

func (f *fakeStore) DomainPrefs(_ context.Context, domain string) (*core.MethodPrefs, error) {
	return f.prefs[domain], nil
}

func newTestServer(t *testing.T, store *fakeStore, digestDir string) *Server {
	t.Helper()
	return New(store, observability.NewMetrics().Handler(), Options{Addr: ":0", DigestDir: digestDir, CORSOrigins: []string{"https://ops.example"}})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func sampleStore() *fakeStore {
	return &fakeStore{
		stats: map[string][]core.MethodStats{
			"a.com": {{Method: "readability", Attempts: 10, Successes: 2}, {Method: "paragraph_density", Attempts: 10, Successes: 8}},
			"b.com": {{Method: "readability", Attempts: 5, Successes: 5}},
		},
		prefs: map[string]*core.MethodPrefs{
			"a.com": {Domain: "a.com", PrimaryMethod: "paragraph_density", FallbackMethods: []string{"readability"}, DriftFlag: true},
		},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, sampleStore(), t.TempDir())
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Status != "ok" {
		t.Errorf("body = %s (%v)", rec.Body.String(), err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}

	down := sampleStore()
	down.pingErr = errors.New("connection refused")
	rec = get(t, newTestServer(t, down, t.TempDir()), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	rec := get(t, newTestServer(t, sampleStore(), t.TempDir()), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("status = %d body prefix = %.100s", rec.Code, rec.Body.String())
	}
}

func TestPrefs(t *testing.T) {
	s := newTestServer(t, sampleStore(), t.TempDir())

	rec := get(t, s, "/api/prefs/A.com")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var prefs core.MethodPrefs
	if err := json.Unmarshal(rec.Body.Bytes(), &prefs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if prefs.PrimaryMethod != "paragraph_density" || !prefs.DriftFlag {
		t.Errorf("prefs = %+v", prefs)
	}

	rec = get(t, s, "/api/prefs/unknown.com")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t, sampleStore(), t.TempDir())

	rec := get(t, s, "/api/stats/a.com")
	var body StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Domain != "a.com" || len(body.Methods) != 2 {
		t.Errorf("body = %+v", body)
	}

	rec = get(t, s, "/api/stats/none.com")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"methods":[]`) {
		t.Errorf("empty stats = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMethodHealth(t *testing.T) {
	s := newTestServer(t, sampleStore(), t.TempDir())

	rec := get(t, s, "/api/health/methods")
	var rows []quality.MethodHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Domain != "a.com" || rows[0].Method != "readability" || !rows[0].DriftFlag {
		t.Errorf("worst row = %+v", rows[0])
	}

	rec = get(t, s, "/api/health/methods?limit=1&min_attempts=6")
	rows = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &rows)
	if len(rows) != 1 {
		t.Errorf("limited rows = %+v", rows)
	}
}

func TestLatestDigest(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, sampleStore(), dir)

	if rec := get(t, s, "/api/digest/latest"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before any digest", rec.Code)
	}

	doc := render.Document{
		RunID:   "run-1",
		RunDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Items:   []core.DigestItem{{Title: "Lloyd's results", URL: "https://a.com/news/1", Topic: "Market"}},
	}
	if _, err := render.WriteDigest(doc, dir); err != nil {
		t.Fatalf("WriteDigest failed: %v", err)
	}

	rec := get(t, s, "/api/digest/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got render.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || len(got.Items) != 1 {
		t.Errorf("doc = %+v", got)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, sampleStore(), t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://ops.example" {
		t.Errorf("CORS header = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
