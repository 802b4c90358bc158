// Package persistence defines the storage contract shared by the SQLite and
// PostgreSQL backends and implements the PostgreSQL one.
package persistence

import (
	"context"
	"time"

	"lloydsdigest/internal/core"
)

// StatsRepository holds per-domain method statistics and preferences.
type StatsRepository interface {
	// RecordMethodAttempt folds one attempt into the (domain, method) statistics
	RecordMethodAttempt(ctx context.Context, domain, method string, success bool, durationMS int64) error

	// MethodStats returns every method's statistics for a domain
	MethodStats(ctx context.Context, domain string) ([]core.MethodStats, error)

	// AllMethodStats returns the statistics of every domain
	AllMethodStats(ctx context.Context) ([]core.DomainMethodStats, error)

	// DomainPrefs returns the stored preferences, or nil when none exist
	DomainPrefs(ctx context.Context, domain string) (*core.MethodPrefs, error)

	// UpsertDomainPrefs replaces a domain's preferences
	UpsertDomainPrefs(ctx context.Context, prefs core.MethodPrefs) error
}

// ArticleRepository handles candidates, attempts, and extracted articles.
type ArticleRepository interface {
	UpsertSource(ctx context.Context, source core.Source) error
	InsertCandidate(ctx context.Context, candidate core.Candidate) error
	InsertAttempt(ctx context.Context, attempt core.ExtractionAttempt) error
	UpsertArticle(ctx context.Context, article core.ArticleRecord) error
	HasArticle(ctx context.Context, articleID string) (bool, error)
}

// AuditRepository receives write-only audit rows.
type AuditRepository interface {
	InsertRejection(ctx context.Context, rejection core.Rejection) error
	InsertLLMUsage(ctx context.Context, usage core.LLMUsage) error
	CreateRun(ctx context.Context, run core.RunMetrics) error
	LatestRunID(ctx context.Context) (string, error)
	InsertDigest(ctx context.Context, digest core.DigestRecord) error
}

// FetchCache stores fetched documents by cache key.
type FetchCache interface {
	GetFetch(ctx context.Context, key string) (*core.FetchResult, error)
	PutFetch(ctx context.Context, key string, result core.FetchResult) error
	ClearFetchCache(ctx context.Context) (int64, error)
	CleanupFetchCache(ctx context.Context, maxAge time.Duration) error
}

// Repository is the full storage backend.
type Repository interface {
	StatsRepository
	ArticleRepository
	AuditRepository
	FetchCache

	Ping(ctx context.Context) error
	Close() error
}
