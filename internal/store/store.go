// Package store is the SQLite backend for method statistics, articles, and
// the run audit trail.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/methodprefs"

	_ "github.com/mattn/go-sqlite3"
)

// DBFile is the database file name inside the data directory.
const DBFile = "lloydsdigest.db"

// Store represents the SQLite-based store
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer avoids "database is locked" under concurrent stages
	db.SetMaxOpenConns(1)

	store := &Store{
		db:   db,
		path: dbPath,
		now:  func() time.Time { return time.Now().UTC() },
	}

	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		source_id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		domain TEXT NOT NULL,
		url TEXT NOT NULL,
		page_type TEXT,
		topics TEXT,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS candidates (
		candidate_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		published_at DATETIME,
		discovered_at DATETIME NOT NULL,
		metadata TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		error TEXT,
		metadata TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS articles (
		article_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		published_at DATETIME,
		body_text TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		extraction_method TEXT NOT NULL,
		metadata TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS domain_method_stats (
		domain TEXT NOT NULL,
		method TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		successes INTEGER NOT NULL DEFAULT 0,
		last_attempt_at DATETIME,
		last_success_at DATETIME,
		duration_history TEXT,
		median_duration_ms INTEGER,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (domain, method)
	);`,
	`CREATE TABLE IF NOT EXISTS domain_method_prefs (
		domain TEXT PRIMARY KEY,
		primary_method TEXT NOT NULL,
		fallback_methods TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		last_changed_at DATETIME,
		locked_until DATETIME,
		drift_flag INTEGER NOT NULL DEFAULT 0,
		drift_notes TEXT,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS rejections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		candidate_id TEXT NOT NULL,
		source_id TEXT,
		url TEXT,
		stage TEXT NOT NULL,
		reason TEXT,
		score REAL,
		matches TEXT,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS llm_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		candidate_id TEXT,
		stage TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_version TEXT,
		cached INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		latency_ms INTEGER,
		tokens_prompt INTEGER,
		tokens_completion INTEGER,
		cost_usd REAL,
		error TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		run_date DATE NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		metrics TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS digests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_date DATE NOT NULL,
		output_path TEXT NOT NULL,
		item_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS fetch_cache (
		cache_key TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		status_code INTEGER,
		content BLOB,
		fetched_at DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_candidate ON attempts (candidate_id);`,
	`CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections (run_id);`,
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// UpsertSource records a configured source.
func (s *Store) UpsertSource(ctx context.Context, source core.Source) error {
	topics, _ := json.Marshal(source.Topics)
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sources (source_id, source_type, domain, url, page_type, topics, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (source_id) DO UPDATE SET
		source_type = excluded.source_type,
		domain = excluded.domain,
		url = excluded.url,
		page_type = excluded.page_type,
		topics = excluded.topics,
		updated_at = excluded.updated_at`,
		source.SourceID(), source.SourceType, source.Domain, source.URL, source.PageType, string(topics), s.now())
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	return nil
}

// InsertCandidate stores a discovered candidate, refreshing title and metadata on conflict.
func (s *Store) InsertCandidate(ctx context.Context, c core.Candidate) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode candidate metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO candidates (candidate_id, source_id, url, title, published_at, discovered_at, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (candidate_id) DO UPDATE SET
		title = excluded.title,
		published_at = excluded.published_at,
		metadata = excluded.metadata`,
		c.ID, c.SourceID, sanitize(c.URL), sanitize(c.Title), nullTime(c.PublishedAt), c.DiscoveredAt, string(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert candidate: %w", err)
	}
	return nil
}

// InsertAttempt writes an extraction attempt audit row.
func (s *Store) InsertAttempt(ctx context.Context, a core.ExtractionAttempt) error {
	metadata, _ := json.Marshal(map[string]any{
		"score":       a.Score,
		"success":     a.Success,
		"duration_ms": a.DurationMS,
	})
	endedAt := a.StartedAt.Add(time.Duration(a.DurationMS) * time.Millisecond)
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO attempts (candidate_id, kind, method, status, started_at, ended_at, error, metadata)
	VALUES (?, 'extract', ?, ?, ?, ?, ?, ?)`,
		a.CandidateID, a.Method, string(a.Decision), a.StartedAt, endedAt, nullString(a.Error), string(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// UpsertArticle stores the winning extraction for a candidate.
func (s *Store) UpsertArticle(ctx context.Context, a core.ArticleRecord) error {
	metadata, _ := json.Marshal(map[string]any{"score": a.Score})
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO articles (article_id, source_id, url, title, published_at, body_text, created_at, extraction_method, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (article_id) DO UPDATE SET
		title = excluded.title,
		published_at = excluded.published_at,
		body_text = excluded.body_text,
		extraction_method = excluded.extraction_method,
		metadata = excluded.metadata`,
		a.ArticleID, a.SourceID, sanitize(a.URL), sanitize(a.Title), nullTime(a.PublishedAt),
		sanitize(a.BodyText), a.CreatedAt, a.ExtractionMethod, string(metadata))
	if err != nil {
		return fmt.Errorf("failed to upsert article: %w", err)
	}
	return nil
}

// HasArticle reports whether an article exists for id.
func (s *Store) HasArticle(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM articles WHERE article_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up article: %w", err)
	}
	return true, nil
}

// RecordMethodAttempt folds one attempt into the domain statistics, keeping a
// rolling window of durations for the median.
func (s *Store) RecordMethodAttempt(ctx context.Context, domain, method string, success bool, durationMS int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT duration_history FROM domain_method_stats WHERE domain = ? AND method = ?`,
		domain, method).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read duration history: %w", err)
	}

	history, err := decodeHistory(raw.String)
	if err != nil {
		return err
	}
	history = methodprefs.AppendDuration(history, durationMS)
	median, _ := methodprefs.Median(history)
	encoded, _ := json.Marshal(history)

	now := s.now()
	successes := 0
	var lastSuccess any
	if success {
		successes = 1
		lastSuccess = now
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO domain_method_stats (
		domain, method, attempts, successes, last_attempt_at, last_success_at,
		duration_history, median_duration_ms, updated_at
	)
	VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (domain, method) DO UPDATE SET
		attempts = domain_method_stats.attempts + 1,
		successes = domain_method_stats.successes + excluded.successes,
		last_attempt_at = excluded.last_attempt_at,
		last_success_at = COALESCE(excluded.last_success_at, domain_method_stats.last_success_at),
		duration_history = excluded.duration_history,
		median_duration_ms = excluded.median_duration_ms,
		updated_at = excluded.updated_at`,
		domain, method, successes, now, lastSuccess, string(encoded), median, now)
	if err != nil {
		return fmt.Errorf("failed to record method attempt: %w", err)
	}
	return tx.Commit()
}

// MethodStats returns every method's statistics for domain.
func (s *Store) MethodStats(ctx context.Context, domain string) ([]core.MethodStats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT method, attempts, successes, median_duration_ms, last_success_at, last_attempt_at
	FROM domain_method_stats
	WHERE domain = ?
	ORDER BY method`, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to query method stats: %w", err)
	}
	defer rows.Close()

	var stats []core.MethodStats
	for rows.Next() {
		st, err := scanStats(rows, nil)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st.MethodStats)
	}
	return stats, rows.Err()
}

// AllMethodStats returns the statistics of every domain.
func (s *Store) AllMethodStats(ctx context.Context) ([]core.DomainMethodStats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT domain, method, attempts, successes, median_duration_ms, last_success_at, last_attempt_at
	FROM domain_method_stats
	ORDER BY domain, method`)
	if err != nil {
		return nil, fmt.Errorf("failed to query method stats: %w", err)
	}
	defer rows.Close()

	var stats []core.DomainMethodStats
	for rows.Next() {
		var domain string
		st, err := scanStats(rows, &domain)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStats(row scanner, domain *string) (core.DomainMethodStats, error) {
	var (
		st          core.DomainMethodStats
		median      sql.NullInt64
		lastSuccess sql.NullTime
		lastAttempt sql.NullTime
	)
	dest := []any{&st.Method, &st.Attempts, &st.Successes, &median, &lastSuccess, &lastAttempt}
	if domain != nil {
		dest = append([]any{domain}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return st, fmt.Errorf("failed to scan method stats: %w", err)
	}
	if domain != nil {
		st.Domain = *domain
	}
	if median.Valid {
		v := median.Int64
		st.MedianDurationMS = &v
	}
	st.LastSuccessAt = timePtr(lastSuccess)
	st.LastAttemptAt = timePtr(lastAttempt)
	return st, nil
}

// DomainPrefs returns the stored prefs for domain, or nil when none exist.
func (s *Store) DomainPrefs(ctx context.Context, domain string) (*core.MethodPrefs, error) {
	var (
		prefs       = core.MethodPrefs{Domain: domain}
		fallbacks   sql.NullString
		lastChanged sql.NullTime
		lockedUntil sql.NullTime
		driftNotes  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT primary_method, fallback_methods, confidence, last_changed_at, locked_until, drift_flag, drift_notes
	FROM domain_method_prefs
	WHERE domain = ?`, domain).Scan(
		&prefs.PrimaryMethod, &fallbacks, &prefs.Confidence, &lastChanged, &lockedUntil, &prefs.DriftFlag, &driftNotes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read domain prefs: %w", err)
	}
	if fallbacks.String != "" {
		if err := json.Unmarshal([]byte(fallbacks.String), &prefs.FallbackMethods); err != nil {
			return nil, fmt.Errorf("failed to decode fallback methods: %w", err)
		}
	}
	prefs.LastChangedAt = timePtr(lastChanged)
	prefs.LockedUntil = timePtr(lockedUntil)
	prefs.DriftNotes = driftNotes.String
	return &prefs, nil
}

// UpsertDomainPrefs replaces the prefs for prefs.Domain.
func (s *Store) UpsertDomainPrefs(ctx context.Context, prefs core.MethodPrefs) error {
	fallbacks, _ := json.Marshal(prefs.FallbackMethods)
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO domain_method_prefs (
		domain, primary_method, fallback_methods, confidence,
		last_changed_at, locked_until, drift_flag, drift_notes, updated_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (domain) DO UPDATE SET
		primary_method = excluded.primary_method,
		fallback_methods = excluded.fallback_methods,
		confidence = excluded.confidence,
		last_changed_at = excluded.last_changed_at,
		locked_until = excluded.locked_until,
		drift_flag = excluded.drift_flag,
		drift_notes = excluded.drift_notes,
		updated_at = excluded.updated_at`,
		prefs.Domain, prefs.PrimaryMethod, string(fallbacks), prefs.Confidence,
		nullTime(prefs.LastChangedAt), nullTime(prefs.LockedUntil), prefs.DriftFlag, nullString(prefs.DriftNotes), s.now())
	if err != nil {
		return fmt.Errorf("failed to upsert domain prefs: %w", err)
	}
	return nil
}

// InsertRejection writes a gate rejection audit row.
func (s *Store) InsertRejection(ctx context.Context, r core.Rejection) error {
	matches, _ := json.Marshal(r.Matches)
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO rejections (run_id, candidate_id, source_id, url, stage, reason, score, matches, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(r.RunID), r.CandidateID, r.SourceID, sanitize(r.URL), r.Stage, r.Reason, nullFloat(r.Score), string(matches), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rejection: %w", err)
	}
	return nil
}

// InsertLLMUsage writes one LLM stage usage row.
func (s *Store) InsertLLMUsage(ctx context.Context, u core.LLMUsage) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO llm_usage (
		run_id, candidate_id, stage, model, prompt_version, cached, started_at, ended_at,
		latency_ms, tokens_prompt, tokens_completion, cost_usd, error
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(u.RunID), u.CandidateID, u.Stage, u.Model, u.PromptVersion, u.Cached, u.StartedAt, u.EndedAt,
		u.LatencyMS, u.TokensPrompt, u.TokensCompletion, nullFloat(u.CostUSD), nullString(u.Error))
	if err != nil {
		return fmt.Errorf("failed to insert llm usage: %w", err)
	}
	return nil
}

// CreateRun stores the metrics of a run.
func (s *Store) CreateRun(ctx context.Context, run core.RunMetrics) error {
	metrics, _ := json.Marshal(map[string]int{
		"total_sources":    run.TotalSources,
		"total_candidates": run.TotalCandidates,
		"fetched":          run.Fetched,
		"extracted":        run.Extracted,
		"errors":           run.Errors,
	})
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO runs (run_id, run_date, started_at, ended_at, metrics)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (run_id) DO UPDATE SET
		run_date = excluded.run_date,
		started_at = excluded.started_at,
		ended_at = excluded.ended_at,
		metrics = excluded.metrics`,
		run.RunID, run.RunDate.Format("2006-01-02"), run.StartedAt, nullTime(run.EndedAt), string(metrics))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// LatestRunID returns the most recently started run, or "" when there are none.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest run: %w", err)
	}
	return id, nil
}

// InsertDigest records a rendered digest file.
func (s *Store) InsertDigest(ctx context.Context, d core.DigestRecord) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO digests (run_date, output_path, item_count, status, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		d.RunDate.Format("2006-01-02"), d.OutputPath, d.ItemCount, d.Status, s.now())
	if err != nil {
		return fmt.Errorf("failed to insert digest: %w", err)
	}
	return nil
}

// GetFetch returns a cached fetch result for key, or nil on a miss.
func (s *Store) GetFetch(ctx context.Context, key string) (*core.FetchResult, error) {
	var res core.FetchResult
	err := s.db.QueryRowContext(ctx,
		`SELECT url, status_code, content, fetched_at FROM fetch_cache WHERE cache_key = ?`, key).
		Scan(&res.URL, &res.StatusCode, &res.Content, &res.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch cache: %w", err)
	}
	res.FromCache = true
	return &res, nil
}

// PutFetch caches a successful fetch result under key.
func (s *Store) PutFetch(ctx context.Context, key string, res core.FetchResult) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO fetch_cache (cache_key, url, status_code, content, fetched_at)
	VALUES (?, ?, ?, ?, ?)`,
		key, res.URL, res.StatusCode, res.Content, res.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to write fetch cache: %w", err)
	}
	return nil
}

// ClearFetchCache removes all cached fetches.
func (s *Store) ClearFetchCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetch_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear fetch cache: %w", err)
	}
	return res.RowsAffected()
}

// CleanupFetchCache removes cached fetches older than maxAge.
func (s *Store) CleanupFetchCache(ctx context.Context, maxAge time.Duration) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE fetched_at < ?`, s.now().Add(-maxAge))
	if err != nil {
		return fmt.Errorf("failed to clean fetch cache: %w", err)
	}
	return nil
}

func decodeHistory(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var history []int64
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("failed to decode duration history: %w", err)
	}
	return history, nil
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return sanitize(s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
