package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/heuristics"
	"lloydsdigest/internal/logger"
	"lloydsdigest/internal/methodprefs"
)

var (
	// ErrNoContent is returned by extractors that found no text.
	ErrNoContent = errors.New("no content extracted")
	// ErrNoArticle means no extractor produced acceptable text.
	ErrNoArticle = errors.New("no extractor accepted the document")
	// ErrStatsUnavailable means the domain's preferences could not be read.
	ErrStatsUnavailable = errors.New("method statistics unavailable")
)

// StatsStore holds per-domain method statistics and preferences.
type StatsStore interface {
	RecordMethodAttempt(ctx context.Context, domain, method string, success bool, durationMS int64) error
	MethodStats(ctx context.Context, domain string) ([]core.MethodStats, error)
	DomainPrefs(ctx context.Context, domain string) (*core.MethodPrefs, error)
	UpsertDomainPrefs(ctx context.Context, prefs core.MethodPrefs) error
}

// ArticleStore persists attempts and winning articles.
type ArticleStore interface {
	InsertAttempt(ctx context.Context, attempt core.ExtractionAttempt) error
	UpsertArticle(ctx context.Context, article core.ArticleRecord) error
}

// AttemptObserver receives every attempt, e.g. for metrics.
type AttemptObserver interface {
	ObserveAttempt(method string, decision core.Decision, duration time.Duration)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Thresholds heuristics.Thresholds
	Prefs      methodprefs.Options
}

// Engine runs extractors against a document and keeps the domain statistics current.
type Engine struct {
	registry *Registry
	stats    StatsStore
	articles ArticleStore
	observer AttemptObserver
	opts     EngineOptions
	now      func() time.Time
	log      *slog.Logger
}

// NewEngine creates an engine. stats and articles may be nil, in which case the
// registry order is used and nothing is persisted.
func NewEngine(registry *Registry, stats StatsStore, articles ArticleStore, opts EngineOptions) *Engine {
	if opts.Thresholds.MinChars <= 0 || opts.Thresholds.MinWords <= 0 {
		opts.Thresholds = heuristics.DefaultThresholds()
	}
	if opts.Prefs.MinAttempts <= 0 {
		opts.Prefs = methodprefs.DefaultOptions()
	}
	return &Engine{
		registry: registry,
		stats:    stats,
		articles: articles,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Get(),
	}
}

// WithObserver attaches an attempt observer.
func (e *Engine) WithObserver(o AttemptObserver) *Engine {
	e.observer = o
	return e
}

// WithClock overrides the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run extracts the article for candidate from html. It returns ErrNoArticle
// when every extractor falls short, and ErrStatsUnavailable when the domain's
// preferences cannot be loaded.
func (e *Engine) Run(ctx context.Context, candidate core.Candidate, html string) (*core.ArticleRecord, error) {
	domain := candidate.Domain()

	extractors, err := e.order(ctx, domain)
	if err != nil {
		return nil, err
	}

	page := Page{URL: candidate.URL, HTML: html}
	for _, ex := range extractors {
		startedAt := e.now()
		result := runExtractor(ex, page)
		text := strings.ReplaceAll(result.Text, "\x00", "")
		decision, score := heuristics.EvaluateText(text, e.opts.Thresholds)
		duration := e.now().Sub(startedAt)

		attempt := core.ExtractionAttempt{
			CandidateID: candidate.ID,
			Method:      ex.Name(),
			Decision:    decision,
			Score:       score,
			Success:     result.Success,
			StartedAt:   startedAt,
			DurationMS:  duration.Milliseconds(),
		}
		if result.Err != nil {
			attempt.Error = result.Err.Error()
		}
		e.record(ctx, domain, attempt)

		if decision != core.DecisionAccept {
			e.log.Debug("Extraction attempt rejected",
				"candidate_id", candidate.ID, "method", ex.Name(), "score", score, "error", attempt.Error)
			continue
		}

		title := strings.TrimSpace(result.Title)
		if title == "" {
			title = candidate.Title
		}
		article := &core.ArticleRecord{
			ArticleID:        candidate.ID,
			SourceID:         candidate.SourceID,
			URL:              candidate.URL,
			Title:            title,
			PublishedAt:      candidate.PublishedAt,
			BodyText:         text,
			ExtractionMethod: ex.Name(),
			Score:            score,
			CreatedAt:        e.now(),
		}
		if e.articles != nil {
			if err := e.articles.UpsertArticle(ctx, *article); err != nil {
				logger.Error("Failed to store article", err, "candidate_id", candidate.ID)
			}
		}
		e.refreshPrefs(ctx, domain)
		return article, nil
	}

	e.refreshPrefs(ctx, domain)
	return nil, ErrNoArticle
}

// RefreshPrefs recomputes and stores the prefs for domain. It returns nil when
// the domain has no statistics yet.
func (e *Engine) RefreshPrefs(ctx context.Context, domain string) (*core.MethodPrefs, error) {
	if e.stats == nil || domain == "" {
		return nil, nil
	}
	stats, err := e.stats.MethodStats(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load method stats for %s: %w", domain, err)
	}
	if len(stats) == 0 {
		return nil, nil
	}
	current, err := e.stats.DomainPrefs(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load prefs for %s: %w", domain, err)
	}
	next := methodprefs.Select(domain, stats, current, e.now(), e.opts.Prefs)
	if next == nil {
		return nil, nil
	}
	if err := e.stats.UpsertDomainPrefs(ctx, *next); err != nil {
		return nil, fmt.Errorf("store prefs for %s: %w", domain, err)
	}
	return next, nil
}

func (e *Engine) order(ctx context.Context, domain string) ([]Extractor, error) {
	if e.stats == nil || domain == "" {
		return e.registry.All(), nil
	}
	prefs, err := e.stats.DomainPrefs(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStatsUnavailable, domain, err)
	}
	if prefs == nil {
		return e.registry.All(), nil
	}
	return e.registry.Ordered(prefs.PrimaryMethod, prefs.FallbackMethods), nil
}

func (e *Engine) record(ctx context.Context, domain string, attempt core.ExtractionAttempt) {
	if e.observer != nil {
		e.observer.ObserveAttempt(attempt.Method, attempt.Decision, time.Duration(attempt.DurationMS)*time.Millisecond)
	}
	if e.articles != nil {
		if err := e.articles.InsertAttempt(ctx, attempt); err != nil {
			logger.Error("Failed to store extraction attempt", err,
				"candidate_id", attempt.CandidateID, "method", attempt.Method)
		}
	}
	if e.stats != nil && domain != "" {
		success := attempt.Decision == core.DecisionAccept
		if err := e.stats.RecordMethodAttempt(ctx, domain, attempt.Method, success, attempt.DurationMS); err != nil {
			logger.Error("Failed to record method attempt", err, "domain", domain, "method", attempt.Method)
		}
	}
}

func (e *Engine) refreshPrefs(ctx context.Context, domain string) {
	prefs, err := e.RefreshPrefs(ctx, domain)
	if err != nil {
		logger.Error("Failed to update domain prefs", err, "domain", domain)
		return
	}
	if prefs != nil && prefs.DriftFlag {
		e.log.Warn("Domain extraction drift", "domain", domain, "primary", prefs.PrimaryMethod, "notes", prefs.DriftNotes)
	}
}

// runExtractor converts a panicking extractor into a failed result.
func runExtractor(ex Extractor, page Page) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Err: fmt.Errorf("extractor %s panicked: %v", ex.Name(), r)}
		}
	}()
	return ex.Extract(page)
}
