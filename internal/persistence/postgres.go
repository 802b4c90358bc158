package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/methodprefs"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // Postgres driver and array support
)

// PostgresDB implements Repository for PostgreSQL
type PostgresDB struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgresDB(db), nil
}

func newPostgresDB(db *sqlx.DB) *PostgresDB {
	return &PostgresDB{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) UpsertSource(ctx context.Context, source core.Source) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sources (source_id, source_type, domain, url, page_type, topics, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (source_id) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			domain = EXCLUDED.domain,
			url = EXCLUDED.url,
			page_type = EXCLUDED.page_type,
			topics = EXCLUDED.topics,
			updated_at = NOW()
	`, source.SourceID(), source.SourceType, source.Domain, source.URL, source.PageType, pq.Array(source.Topics))
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	return nil
}

func (p *PostgresDB) InsertCandidate(ctx context.Context, c core.Candidate) error {
	metadata, err := json.Marshal(orEmpty(c.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode candidate metadata: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO candidates (candidate_id, source_id, url, title, published_at, discovered_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (candidate_id) DO UPDATE SET
			title = EXCLUDED.title,
			published_at = EXCLUDED.published_at,
			metadata = EXCLUDED.metadata
	`, c.ID, c.SourceID, sanitize(c.URL), sanitize(c.Title), c.PublishedAt, c.DiscoveredAt, string(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert candidate: %w", err)
	}
	return nil
}

func (p *PostgresDB) InsertAttempt(ctx context.Context, a core.ExtractionAttempt) error {
	metadata, _ := json.Marshal(map[string]any{
		"score":       a.Score,
		"success":     a.Success,
		"duration_ms": a.DurationMS,
	})
	endedAt := a.StartedAt.Add(time.Duration(a.DurationMS) * time.Millisecond)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attempts (candidate_id, kind, method, status, started_at, ended_at, error, metadata)
		VALUES ($1, 'extract', $2, $3, $4, $5, $6, $7)
	`, a.CandidateID, a.Method, string(a.Decision), a.StartedAt, endedAt, nullString(a.Error), string(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

func (p *PostgresDB) UpsertArticle(ctx context.Context, a core.ArticleRecord) error {
	metadata, _ := json.Marshal(map[string]any{"score": a.Score})
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO articles (
			article_id, source_id, url, title, published_at, body_text, created_at,
			extraction_method, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (article_id) DO UPDATE SET
			title = EXCLUDED.title,
			published_at = EXCLUDED.published_at,
			body_text = EXCLUDED.body_text,
			extraction_method = EXCLUDED.extraction_method,
			metadata = EXCLUDED.metadata
	`, a.ArticleID, a.SourceID, sanitize(a.URL), sanitize(a.Title), a.PublishedAt,
		sanitize(a.BodyText), a.CreatedAt, a.ExtractionMethod, string(metadata))
	if err != nil {
		return fmt.Errorf("failed to upsert article: %w", err)
	}
	return nil
}

func (p *PostgresDB) HasArticle(ctx context.Context, articleID string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM articles WHERE article_id = $1)`, articleID)
	if err != nil {
		return false, fmt.Errorf("failed to look up article: %w", err)
	}
	return exists, nil
}

func (p *PostgresDB) RecordMethodAttempt(ctx context.Context, domain, method string, success bool, durationMS int64) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.GetContext(ctx, &raw, `
		SELECT duration_history FROM domain_method_stats
		WHERE domain = $1 AND method = $2
		FOR UPDATE
	`, domain, method)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read duration history: %w", err)
	}

	var history []int64
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &history); err != nil {
			return fmt.Errorf("failed to decode duration history: %w", err)
		}
	}
	history = methodprefs.AppendDuration(history, durationMS)
	median, _ := methodprefs.Median(history)
	encoded, _ := json.Marshal(history)

	now := p.now()
	successes := 0
	var lastSuccess *time.Time
	if success {
		successes = 1
		lastSuccess = &now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO domain_method_stats (
			domain, method, attempts, successes, last_attempt_at, last_success_at,
			duration_history, median_duration_ms, updated_at
		)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (domain, method) DO UPDATE SET
			attempts = domain_method_stats.attempts + 1,
			successes = domain_method_stats.successes + EXCLUDED.successes,
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_success_at = COALESCE(EXCLUDED.last_success_at, domain_method_stats.last_success_at),
			duration_history = EXCLUDED.duration_history,
			median_duration_ms = EXCLUDED.median_duration_ms,
			updated_at = NOW()
	`, domain, method, successes, now, lastSuccess, string(encoded), median)
	if err != nil {
		return fmt.Errorf("failed to record method attempt: %w", err)
	}
	return tx.Commit()
}

// statsRow maps a domain_method_stats row.
type statsRow struct {
	Domain        string        `db:"domain"`
	Method        string        `db:"method"`
	Attempts      int           `db:"attempts"`
	Successes     int           `db:"successes"`
	MedianMS      sql.NullInt64 `db:"median_duration_ms"`
	LastSuccessAt sql.NullTime  `db:"last_success_at"`
	LastAttemptAt sql.NullTime  `db:"last_attempt_at"`
}

func (r statsRow) toCore() core.DomainMethodStats {
	st := core.DomainMethodStats{
		Domain: r.Domain,
		MethodStats: core.MethodStats{
			Method:        r.Method,
			Attempts:      r.Attempts,
			Successes:     r.Successes,
			LastSuccessAt: timePtr(r.LastSuccessAt),
			LastAttemptAt: timePtr(r.LastAttemptAt),
		},
	}
	if r.MedianMS.Valid {
		v := r.MedianMS.Int64
		st.MedianDurationMS = &v
	}
	return st
}

const statsColumns = `domain, method, attempts, successes, median_duration_ms, last_success_at, last_attempt_at`

func (p *PostgresDB) MethodStats(ctx context.Context, domain string) ([]core.MethodStats, error) {
	var rows []statsRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT `+statsColumns+` FROM domain_method_stats WHERE domain = $1 ORDER BY method`, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to query method stats: %w", err)
	}
	stats := make([]core.MethodStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, r.toCore().MethodStats)
	}
	return stats, nil
}

func (p *PostgresDB) AllMethodStats(ctx context.Context) ([]core.DomainMethodStats, error) {
	var rows []statsRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT `+statsColumns+` FROM domain_method_stats ORDER BY domain, method`)
	if err != nil {
		return nil, fmt.Errorf("failed to query method stats: %w", err)
	}
	stats := make([]core.DomainMethodStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, r.toCore())
	}
	return stats, nil
}

// prefsRow maps a domain_method_prefs row.
type prefsRow struct {
	PrimaryMethod   string         `db:"primary_method"`
	FallbackMethods pq.StringArray `db:"fallback_methods"`
	Confidence      float64        `db:"confidence"`
	LastChangedAt   sql.NullTime   `db:"last_changed_at"`
	LockedUntil     sql.NullTime   `db:"locked_until"`
	DriftFlag       bool           `db:"drift_flag"`
	DriftNotes      sql.NullString `db:"drift_notes"`
}

func (p *PostgresDB) DomainPrefs(ctx context.Context, domain string) (*core.MethodPrefs, error) {
	var row prefsRow
	err := p.db.GetContext(ctx, &row, `
		SELECT primary_method, fallback_methods, confidence, last_changed_at,
		       locked_until, drift_flag, drift_notes
		FROM domain_method_prefs
		WHERE domain = $1
	`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read domain prefs: %w", err)
	}
	return &core.MethodPrefs{
		Domain:          domain,
		PrimaryMethod:   row.PrimaryMethod,
		FallbackMethods: []string(row.FallbackMethods),
		Confidence:      row.Confidence,
		LastChangedAt:   timePtr(row.LastChangedAt),
		LockedUntil:     timePtr(row.LockedUntil),
		DriftFlag:       row.DriftFlag,
		DriftNotes:      row.DriftNotes.String,
	}, nil
}

func (p *PostgresDB) UpsertDomainPrefs(ctx context.Context, prefs core.MethodPrefs) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO domain_method_prefs (
			domain, primary_method, fallback_methods, confidence,
			last_changed_at, locked_until, drift_flag, drift_notes, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (domain) DO UPDATE SET
			primary_method = EXCLUDED.primary_method,
			fallback_methods = EXCLUDED.fallback_methods,
			confidence = EXCLUDED.confidence,
			last_changed_at = EXCLUDED.last_changed_at,
			locked_until = EXCLUDED.locked_until,
			drift_flag = EXCLUDED.drift_flag,
			drift_notes = EXCLUDED.drift_notes,
			updated_at = NOW()
	`, prefs.Domain, prefs.PrimaryMethod, pq.Array(prefs.FallbackMethods), prefs.Confidence,
		prefs.LastChangedAt, prefs.LockedUntil, prefs.DriftFlag, nullString(prefs.DriftNotes))
	if err != nil {
		return fmt.Errorf("failed to upsert domain prefs: %w", err)
	}
	return nil
}

func (p *PostgresDB) InsertRejection(ctx context.Context, r core.Rejection) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rejections (run_id, candidate_id, source_id, url, stage, reason, score, matches, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, nullString(r.RunID), r.CandidateID, r.SourceID, sanitize(r.URL), r.Stage, r.Reason,
		r.Score, pq.Array(r.Matches), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rejection: %w", err)
	}
	return nil
}

func (p *PostgresDB) InsertLLMUsage(ctx context.Context, u core.LLMUsage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO llm_usage (
			run_id, candidate_id, stage, model, prompt_version, cached, started_at, ended_at,
			latency_ms, tokens_prompt, tokens_completion, cost_usd, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, nullString(u.RunID), u.CandidateID, u.Stage, u.Model, u.PromptVersion, u.Cached,
		u.StartedAt, u.EndedAt, u.LatencyMS, u.TokensPrompt, u.TokensCompletion, u.CostUSD, nullString(u.Error))
	if err != nil {
		return fmt.Errorf("failed to insert llm usage: %w", err)
	}
	return nil
}

func (p *PostgresDB) CreateRun(ctx context.Context, run core.RunMetrics) error {
	metrics, _ := json.Marshal(map[string]int{
		"total_sources":    run.TotalSources,
		"total_candidates": run.TotalCandidates,
		"fetched":          run.Fetched,
		"extracted":        run.Extracted,
		"errors":           run.Errors,
	})
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, run_date, started_at, ended_at, metrics)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			run_date = EXCLUDED.run_date,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			metrics = EXCLUDED.metrics
	`, run.RunID, run.RunDate.Format("2006-01-02"), run.StartedAt, run.EndedAt, string(metrics))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (p *PostgresDB) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := p.db.GetContext(ctx, &id, `SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest run: %w", err)
	}
	return id, nil
}

func (p *PostgresDB) InsertDigest(ctx context.Context, d core.DigestRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO digests (run_date, output_path, item_count, status)
		VALUES ($1, $2, $3, $4)
	`, d.RunDate.Format("2006-01-02"), d.OutputPath, d.ItemCount, d.Status)
	if err != nil {
		return fmt.Errorf("failed to insert digest: %w", err)
	}
	return nil
}

// fetchRow maps a fetch_cache row.
type fetchRow struct {
	URL        string    `db:"url"`
	StatusCode int       `db:"status_code"`
	Content    []byte    `db:"content"`
	FetchedAt  time.Time `db:"fetched_at"`
}

func (p *PostgresDB) GetFetch(ctx context.Context, key string) (*core.FetchResult, error) {
	var row fetchRow
	err := p.db.GetContext(ctx, &row,
		`SELECT url, status_code, content, fetched_at FROM fetch_cache WHERE cache_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch cache: %w", err)
	}
	return &core.FetchResult{
		URL:        row.URL,
		Content:    row.Content,
		StatusCode: row.StatusCode,
		FromCache:  true,
		FetchedAt:  row.FetchedAt,
	}, nil
}

func (p *PostgresDB) PutFetch(ctx context.Context, key string, res core.FetchResult) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fetch_cache (cache_key, url, status_code, content, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			url = EXCLUDED.url,
			status_code = EXCLUDED.status_code,
			content = EXCLUDED.content,
			fetched_at = EXCLUDED.fetched_at
	`, key, res.URL, res.StatusCode, res.Content, res.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to write fetch cache: %w", err)
	}
	return nil
}

func (p *PostgresDB) ClearFetchCache(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM fetch_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear fetch cache: %w", err)
	}
	return res.RowsAffected()
}

func (p *PostgresDB) CleanupFetchCache(ctx context.Context, maxAge time.Duration) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE fetched_at < $1`, p.now().Add(-maxAge))
	if err != nil {
		return fmt.Errorf("failed to clean fetch cache: %w", err)
	}
	return nil
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: sanitize(s), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
