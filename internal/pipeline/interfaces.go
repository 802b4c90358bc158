package pipeline

import (
	"context"
	"time"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/gate"
)

// SourcePreparer loads the configured sources and registers them
type SourcePreparer interface {
	// Prepare loads path, keeps at most maxSources, and reports truncation
	Prepare(ctx context.Context, path string, maxSources int) ([]core.Source, bool, error)
}

// CandidateDiscoverer turns sources into candidate articles
type CandidateDiscoverer interface {
	// Discover returns candidates unique by id; failing sources are skipped
	Discover(ctx context.Context, runID string, sources []core.Source) []core.Candidate
}

// PageFetcher retrieves raw documents
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (core.FetchResult, error)
}

// ArticleExtractor runs the adaptive extraction engine over one document
type ArticleExtractor interface {
	Run(ctx context.Context, candidate core.Candidate, html string) (*core.ArticleRecord, error)
}

// ArticleGate decides whether an extracted article becomes a digest item
type ArticleGate interface {
	Evaluate(ctx context.Context, runID string, candidate core.Candidate, article core.ArticleRecord) gate.Outcome
}

// RunStore is the part of the repository a run reads and writes directly
type RunStore interface {
	HasArticle(ctx context.Context, articleID string) (bool, error)
	AllMethodStats(ctx context.Context) ([]core.DomainMethodStats, error)
	DomainPrefs(ctx context.Context, domain string) (*core.MethodPrefs, error)
	CreateRun(ctx context.Context, run core.RunMetrics) error
	InsertDigest(ctx context.Context, digest core.DigestRecord) error
}

// RunObserver receives run-level measurements (e.g. Prometheus metrics)
type RunObserver interface {
	ObserveFetch(fromCache bool, err error, duration time.Duration)
	CountCandidate(outcome string)
	ObserveRun(duration time.Duration, coverage float64, digestItems int)
}
