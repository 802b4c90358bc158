package persistence

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"lloydsdigest/internal/core"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newPostgresDB(sqlx.NewDb(db, "postgres")), mock
}

func TestBuildDSN(t *testing.T) {
	env := map[string]string{
		"POSTGRES_HOST":     "db.internal",
		"POSTGRES_PORT":     "5432",
		"POSTGRES_DB":       "digest",
		"POSTGRES_USER":     "svc",
		"POSTGRES_PASSWORD": "secret",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	dsn, err := BuildDSN(lookup)
	if err != nil {
		t.Fatalf("BuildDSN failed: %v", err)
	}
	want := "host=db.internal port=5432 dbname=digest user=svc password=secret"
	if dsn != want {
		t.Errorf("dsn = %q, want %q", dsn, want)
	}

	delete(env, "POSTGRES_PORT")
	env["POSTGRES_PASSWORD"] = ""
	_, err = BuildDSN(lookup)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "POSTGRES_PORT, POSTGRES_PASSWORD") {
		t.Errorf("error should list missing vars in order: %v", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "mongo"}); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestOpenSQLite(t *testing.T) {
	repo, err := Open(context.Background(), Options{Backend: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = repo.Close() }()
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestPostgresRecordMethodAttempt(t *testing.T) {
	tests := []struct {
		name        string
		history     *string
		success     bool
		wantHistory string
		wantMedian  int64
		wantSuccess int
	}{
		{name: "first attempt", history: nil, success: true, wantHistory: "[400]", wantMedian: 400, wantSuccess: 1},
		{name: "appends to history", history: strPtr("[100,300,200]"), success: false, wantHistory: "[100,300,200,400]", wantMedian: 250, wantSuccess: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newMockDB(t)

			rows := sqlmock.NewRows([]string{"duration_history"})
			if tt.history != nil {
				rows.AddRow([]byte(*tt.history))
			}
			mock.ExpectBegin()
			mock.ExpectQuery("SELECT duration_history FROM domain_method_stats").
				WithArgs("example.com", "readability").
				WillReturnRows(rows)
			mock.ExpectExec("INSERT INTO domain_method_stats").
				WithArgs("example.com", "readability", tt.wantSuccess, sqlmock.AnyArg(), sqlmock.AnyArg(), tt.wantHistory, tt.wantMedian).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			if err := p.RecordMethodAttempt(context.Background(), "example.com", "readability", tt.success, 400); err != nil {
				t.Fatalf("RecordMethodAttempt failed: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresMethodStats(t *testing.T) {
	p, mock := newMockDB(t)
	seen := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"domain", "method", "attempts", "successes", "median_duration_ms", "last_success_at", "last_attempt_at"}).
		AddRow("example.com", "readability", 10, 7, int64(120), seen, seen).
		AddRow("example.com", "paragraph_density", 3, 0, nil, nil, seen)
	mock.ExpectQuery("FROM domain_method_stats WHERE domain").WithArgs("example.com").WillReturnRows(rows)

	stats, err := p.MethodStats(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("MethodStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(stats))
	}
	if stats[0].Attempts != 10 || stats[0].Successes != 7 || *stats[0].MedianDurationMS != 120 {
		t.Errorf("unexpected first row: %+v", stats[0])
	}
	if stats[1].MedianDurationMS != nil || stats[1].LastSuccessAt != nil {
		t.Errorf("expected nil median and last success: %+v", stats[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresDomainPrefs(t *testing.T) {
	p, mock := newMockDB(t)
	changed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM domain_method_prefs").WithArgs("missing.com").
		WillReturnRows(sqlmock.NewRows([]string{"primary_method"}))
	prefs, err := p.DomainPrefs(context.Background(), "missing.com")
	if err != nil || prefs != nil {
		t.Fatalf("expected nil prefs, got %+v (%v)", prefs, err)
	}

	rows := sqlmock.NewRows([]string{"primary_method", "fallback_methods", "confidence", "last_changed_at", "locked_until", "drift_flag", "drift_notes"}).
		AddRow("readability", "{paragraph_density,goquery_heuristic}", 0.7, changed, nil, true, "primary_success_rate=0.30")
	mock.ExpectQuery("FROM domain_method_prefs").WithArgs("example.com").WillReturnRows(rows)

	prefs, err = p.DomainPrefs(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("DomainPrefs failed: %v", err)
	}
	if prefs.PrimaryMethod != "readability" || !reflect.DeepEqual(prefs.FallbackMethods, []string{"paragraph_density", "goquery_heuristic"}) {
		t.Errorf("unexpected prefs: %+v", prefs)
	}
	if prefs.LockedUntil != nil || !prefs.LastChangedAt.Equal(changed) || !prefs.DriftFlag {
		t.Errorf("unexpected timestamps or drift: %+v", prefs)
	}

	mock.ExpectQuery("FROM domain_method_prefs").WithArgs("broken.com").WillReturnError(sql.ErrConnDone)
	if _, err := p.DomainPrefs(context.Background(), "broken.com"); err == nil {
		t.Error("expected error on database failure")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresUpsertDomainPrefs(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO domain_method_prefs").
		WithArgs("example.com", "readability", sqlmock.AnyArg(), 0.5, sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.UpsertDomainPrefs(context.Background(), core.MethodPrefs{
		Domain: "example.com", PrimaryMethod: "readability", FallbackMethods: []string{"goquery_heuristic"}, Confidence: 0.5,
	})
	if err != nil {
		t.Fatalf("UpsertDomainPrefs failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresHasArticle(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectQuery("FROM articles WHERE article_id").WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := p.HasArticle(context.Background(), "abc")
	if err != nil || !exists {
		t.Errorf("HasArticle = %v, %v", exists, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresUpsertArticleSanitizes(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO articles").
		WithArgs("abc", "primary:example.com", "https://example.com/a", "Title", sqlmock.AnyArg(),
			"Body text", sqlmock.AnyArg(), "readability", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.UpsertArticle(context.Background(), core.ArticleRecord{
		ArticleID: "abc", SourceID: "primary:example.com", URL: "https://example.com/a",
		Title: "Ti\x00tle", BodyText: "Body\x00 text", ExtractionMethod: "readability", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresLatestRunID(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectQuery("SELECT run_id FROM runs").WillReturnRows(sqlmock.NewRows([]string{"run_id"}))
	id, err := p.LatestRunID(context.Background())
	if err != nil || id != "" {
		t.Errorf("expected empty run id, got %q (%v)", id, err)
	}

	mock.ExpectQuery("SELECT run_id FROM runs").WillReturnRows(sqlmock.NewRows([]string{"run_id"}).AddRow("run-1"))
	id, _ = p.LatestRunID(context.Background())
	if id != "run-1" {
		t.Errorf("LatestRunID = %q", id)
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		name    string
		version int
		desc    string
		ok      bool
	}{
		{"001_initial_schema.sql", 1, "initial schema", true},
		{"012_add_index.sql", 12, "add index", true},
		{"initial.sql", 0, "", false},
		{"abc_thing.sql", 0, "", false},
	}
	for _, tt := range tests {
		version, desc, ok := parseMigrationName(tt.name)
		if version != tt.version || desc != tt.desc || ok != tt.ok {
			t.Errorf("parseMigrationName(%q) = %d, %q, %v", tt.name, version, desc, ok)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"migrations/002_second.sql":         {Data: []byte("SELECT 2;")},
		"migrations/001_initial_schema.sql": {Data: []byte("SELECT 1;")},
		"migrations/README.md":              {Data: []byte("ignored")},
	}
	migrations, err := loadMigrations(files)
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("unexpected migrations: %+v", migrations)
	}

	embedded, err := loadMigrations(migrationFiles)
	if err != nil || len(embedded) == 0 {
		t.Fatalf("embedded migrations missing: %v", err)
	}
	if !strings.Contains(embedded[0].SQL, "domain_method_stats") {
		t.Error("initial schema should create domain_method_stats")
	}
}

func TestMigrationStatus(t *testing.T) {
	p, mock := newMockDB(t)
	m := NewMigrationManager(p)
	m.files = fstest.MapFS{
		"migrations/001_initial_schema.sql": {Data: []byte("SELECT 1;")},
		"migrations/002_more.sql":           {Data: []byte("SELECT 2;")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status) != 2 || !status[0].Applied || status[1].Applied {
		t.Errorf("unexpected status: %+v", status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMigrateAppliesPending(t *testing.T) {
	p, mock := newMockDB(t)
	m := NewMigrationManager(p)
	m.files = fstest.MapFS{
		"migrations/001_initial_schema.sql": {Data: []byte("SELECT 1;")},
		"migrations/002_more.sql":           {Data: []byte("SELECT 2;")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("SELECT 2;").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(2, "more").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func strPtr(s string) *string { return &s }
