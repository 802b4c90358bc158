// Package pipeline orchestrates a digest run: load sources, discover and
// filter candidates, fetch, extract, gate, assemble, and render.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/cost"
	"lloydsdigest/internal/digest"
	"lloydsdigest/internal/extract"
	"lloydsdigest/internal/feeds"
	"lloydsdigest/internal/logger"
	"lloydsdigest/internal/observability"
	"lloydsdigest/internal/quality"
	"lloydsdigest/internal/render"
	"lloydsdigest/internal/sources"
)

// DigestStatusRendered marks a digest whose files were written.
const DigestStatusRendered = "rendered"

// Config holds the run-level settings the builder derives from configuration
type Config struct {
	Digest       digest.Options
	Social       digest.SocialOptions
	Health       quality.HealthOptions
	QualityGates QualityGateConfig
	MaxAgeDays   int
	OutputDir    string
	Render       bool
}

// DefaultConfig returns the default run settings
func DefaultConfig() *Config {
	return &Config{
		Digest:       digest.DefaultOptions(),
		Social:       digest.DefaultSocialOptions(),
		QualityGates: DefaultQualityGateConfig(),
		MaxAgeDays:   7,
		OutputDir:    render.DefaultOutputDir,
		Render:       true,
	}
}

// RunOptions are the per-invocation inputs of a run
type RunOptions struct {
	Date          time.Time // zero means today (UTC)
	SourcesPath   string
	MaxSources    int
	MaxCandidates int
	SkipSeen      bool
	OutputDir     string // overrides Config.OutputDir when set
}

// Result is everything a run produced
type Result struct {
	RunID    string
	Metrics  core.RunMetrics
	Summary  quality.RunSummary
	Items    []core.DigestItem
	Social   []core.DigestItem
	Health   []quality.MethodHealth
	Quality  *quality.DigestQuality
	Failures []quality.FailureCount
	Warnings []string
	Paths    render.Paths
	Cost     string
}

// Pipeline runs the digest stages in order
type Pipeline struct {
	sources    SourcePreparer
	discoverer CandidateDiscoverer
	fetcher    PageFetcher
	extractor  ArticleExtractor
	gate       ArticleGate
	store      RunStore

	pdfExtractor ArticleExtractor
	observer     RunObserver
	ledger       *cost.Ledger
	closers      []io.Closer

	config   *Config
	out      io.Writer
	now      func() time.Time
	newRunID func() string
	log      *slog.Logger
}

// NewPipeline creates a new pipeline with all dependencies
func NewPipeline(
	config *Config,
	sources SourcePreparer,
	discoverer CandidateDiscoverer,
	fetcher PageFetcher,
	extractor ArticleExtractor,
	gate ArticleGate,
	store RunStore,
) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		config:     config,
		sources:    sources,
		discoverer: discoverer,
		fetcher:    fetcher,
		extractor:  extractor,
		gate:       gate,
		store:      store,
		observer:   nopObserver{},
		out:        os.Stdout,
		now:        func() time.Time { return time.Now().UTC() },
		newRunID:   uuid.NewString,
		log:        logger.Get(),
	}
}

// WithPDFExtractor enables PDF documents; without it they count as errors
func (p *Pipeline) WithPDFExtractor(e ArticleExtractor) *Pipeline {
	p.pdfExtractor = e
	return p
}

// WithObserver attaches run metrics
func (p *Pipeline) WithObserver(o RunObserver) *Pipeline {
	if o != nil {
		p.observer = o
	}
	return p
}

// WithLedger attaches the LLM cost ledger reported at the end of a run
func (p *Pipeline) WithLedger(l *cost.Ledger) *Pipeline {
	p.ledger = l
	return p
}

// WithOutput redirects progress output
func (p *Pipeline) WithOutput(w io.Writer) *Pipeline {
	if w == nil {
		w = io.Discard
	}
	p.out = w
	return p
}

// WithClock overrides the pipeline clock
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WithRunIDs overrides run id generation
func (p *Pipeline) WithRunIDs(gen func() string) *Pipeline {
	p.newRunID = gen
	return p
}

// Close releases resources the builder opened for this pipeline
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runState carries the counters of one run through its steps
type runState struct {
	runID    string
	metrics  core.RunMetrics
	items    []core.DigestItem
	fetches  []core.FetchResult
	warnings []string
	aborted  map[string]bool
}

func (s *runState) warn(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

// Run executes a complete run. Per-candidate failures are counted and
// skipped; only source loading, run persistence, a blocking quality gate,
// and rendering fail the run.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	startedAt := p.now()
	runDate := opts.Date
	if runDate.IsZero() {
		runDate = startedAt
	}
	runDate = time.Date(runDate.Year(), runDate.Month(), runDate.Day(), 0, 0, 0, 0, time.UTC)

	state := &runState{
		runID:   p.newRunID(),
		metrics: core.RunMetrics{RunDate: runDate, StartedAt: startedAt},
		aborted: map[string]bool{},
	}
	state.metrics.RunID = state.runID
	log := p.log.With("run_id", state.runID)
	log.Info("Starting run", "run_date", runDate.Format("2006-01-02"))

	// Step 1: Load sources
	fmt.Fprintf(p.out, "📄 Step 1/7: Loading sources from %s...\n", opts.SourcesPath)
	srcs, truncated, err := p.sources.Prepare(ctx, opts.SourcesPath, opts.MaxSources)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	if truncated {
		state.warn("sources truncated to %d", len(srcs))
	}
	state.metrics.TotalSources = len(srcs)
	fmt.Fprintf(p.out, "   ✓ Loaded %d sources\n\n", len(srcs))

	// Step 2: Discover candidates
	fmt.Fprintf(p.out, "🔍 Step 2/7: Discovering candidates...\n")
	candidates := p.discoverer.Discover(ctx, state.runID, srcs)
	candidates, truncated = sources.Limit(candidates, opts.MaxCandidates)
	if truncated {
		state.warn("candidates truncated to %d", len(candidates))
	}
	candidates, dropped := feeds.FilterRecent(candidates, runDate, p.config.MaxAgeDays)
	state.metrics.TotalCandidates = len(candidates)
	for range candidates {
		p.observer.CountCandidate(observability.OutcomeDiscovered)
	}
	fmt.Fprintf(p.out, "   ✓ %d candidates (%d older than %d days dropped)\n\n", len(candidates), dropped, p.config.MaxAgeDays)

	// Step 3: Fetch, extract, and gate each candidate
	fmt.Fprintf(p.out, "🧪 Step 3/7: Fetching, extracting, and gating candidates...\n")
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.processCandidate(ctx, state, candidate, opts.SkipSeen)
	}
	fmt.Fprintf(p.out, "   ✓ Fetched %d, extracted %d, accepted %d\n", state.metrics.Fetched, state.metrics.Extracted, len(state.items))
	fmt.Fprintf(p.out, "   • Errors: %d\n\n", state.metrics.Errors)

	// Step 4: Assemble the digest
	fmt.Fprintf(p.out, "🔨 Step 4/7: Assembling digest...\n")
	items := digest.Assemble(state.items, p.config.Digest)
	social := digest.SocialView(items, p.config.Social)
	fmt.Fprintf(p.out, "   ✓ %d items, %d in the social view\n\n", len(items), len(social))

	// Step 5: Method health
	fmt.Fprintf(p.out, "📊 Step 5/7: Building method health report...\n")
	health := p.methodHealth(ctx, state)
	fmt.Fprintf(p.out, "   ✓ %d methods reported\n\n", len(health))

	endedAt := p.now()
	state.metrics.EndedAt = &endedAt
	summary := quality.ComputeRunSummary(state.metrics)

	// Step 6: Quality gates
	fmt.Fprintf(p.out, "🚦 Step 6/7: Checking quality...\n")
	digestGate := NewDigestQualityGate(p.config.QualityGates, items, p.out)
	gates := NewQualityGateRunner(p.out)
	if p.config.QualityGates.EnableCoverageGate {
		gates.AddGate(NewCoverageQualityGate(p.config.QualityGates, summary, p.out))
	}
	if p.config.QualityGates.EnableDigestGate {
		gates.AddGate(digestGate)
	}
	if err := gates.RunGates(ctx); err != nil {
		return nil, fmt.Errorf("quality gate failed: %w", err)
	}
	state.warnings = append(state.warnings, gates.Warnings()...)
	fmt.Fprintln(p.out)

	// Step 7: Persist and render
	fmt.Fprintf(p.out, "💾 Step 7/7: Saving run and rendering digest...\n")
	if err := p.store.CreateRun(ctx, state.metrics); err != nil {
		return nil, fmt.Errorf("failed to store run: %w", err)
	}

	result := &Result{
		RunID:    state.runID,
		Metrics:  state.metrics,
		Summary:  summary,
		Items:    items,
		Social:   social,
		Health:   health,
		Quality:  digestGate.LastMetrics(),
		Failures: quality.SummarizeFailures(state.fetches),
	}

	if p.config.Render {
		outputDir := opts.OutputDir
		if outputDir == "" {
			outputDir = p.config.OutputDir
		}
		doc := render.Document{
			RunID:        state.runID,
			RunDate:      runDate,
			GeneratedAt:  p.now(),
			Items:        items,
			Social:       social,
			MethodHealth: health,
			Quality:      result.Quality,
		}
		paths, err := render.WriteDigest(doc, outputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to render digest: %w", err)
		}
		result.Paths = paths
		record := core.DigestRecord{RunDate: runDate, OutputPath: paths.Markdown, ItemCount: len(items), Status: DigestStatusRendered}
		if err := p.store.InsertDigest(ctx, record); err != nil {
			logger.Error("Failed to record digest", err, "run_id", state.runID)
		}
		fmt.Fprintf(p.out, "   ✓ Digest written to %s\n", paths.Markdown)
	}
	fmt.Fprintln(p.out)

	if p.ledger != nil {
		result.Cost = p.ledger.Format()
		fmt.Fprint(p.out, result.Cost)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(p.out, "   ⚠️  %dx %s\n", f.Count, f.Error)
	}

	result.Warnings = state.warnings
	p.observer.ObserveRun(endedAt.Sub(startedAt), summary.Coverage, len(items))
	log.Info("Run complete",
		"candidates", summary.TotalCandidates,
		"fetched", summary.Fetched,
		"extracted", summary.Extracted,
		"errors", summary.Errors,
		"coverage", summary.Coverage,
		"items", len(items))
	return result, nil
}

// processCandidate runs one candidate through fetch, extraction, and the gate
func (p *Pipeline) processCandidate(ctx context.Context, state *runState, candidate core.Candidate, skipSeen bool) {
	domain := candidate.Domain()
	log := p.log.With("run_id", state.runID, "candidate_id", candidate.ID, "url", candidate.URL)

	if state.aborted[domain] {
		p.observer.CountCandidate(observability.OutcomeSkipped)
		return
	}

	if skipSeen {
		seen, err := p.store.HasArticle(ctx, candidate.ID)
		if err != nil {
			log.Warn("Seen check failed", "stage", "skip_seen", "error", err.Error())
		} else if seen {
			p.observer.CountCandidate(observability.OutcomeSkipped)
			return
		}
	}

	started := time.Now()
	res, err := p.fetcher.Fetch(ctx, candidate.URL)
	p.observer.ObserveFetch(res.FromCache, err, time.Since(started))
	if err == nil && len(res.Content) == 0 {
		err = errors.New("empty response body")
		res.Error = err.Error()
	}
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	state.fetches = append(state.fetches, res)
	if err != nil {
		log.Warn("Fetch failed", "stage", "fetch", "error", err.Error())
		state.metrics.Errors++
		p.observer.CountCandidate(observability.OutcomeFetchError)
		return
	}

	extractor := p.extractor
	if extract.LooksLikePDF(candidate.URL, res.Content) {
		if p.pdfExtractor == nil {
			state.metrics.Errors++
			state.warn("skipped PDF: %s", candidate.URL)
			p.observer.CountCandidate(observability.OutcomeSkipped)
			return
		}
		extractor = p.pdfExtractor
	}
	state.metrics.Fetched++

	article, err := extractor.Run(ctx, candidate, string(res.Content))
	switch {
	case errors.Is(err, extract.ErrStatsUnavailable):
		logger.Error("Method statistics unavailable, skipping domain", err, "stage", "extract", "domain", domain, "url", candidate.URL)
		state.aborted[domain] = true
		state.metrics.Errors++
		state.warn("domain %s aborted: %v", domain, err)
		p.observer.CountCandidate(observability.OutcomeNoArticle)
		return
	case err != nil || article == nil:
		if err != nil && !errors.Is(err, extract.ErrNoArticle) {
			log.Warn("Extraction failed", "stage", "extract", "error", err.Error())
		}
		p.observer.CountCandidate(observability.OutcomeNoArticle)
		return
	}
	state.metrics.Extracted++

	outcome := p.gate.Evaluate(ctx, state.runID, candidate, *article)
	if outcome.Item == nil {
		p.observer.CountCandidate(observability.OutcomeRejected)
		return
	}
	state.items = append(state.items, *outcome.Item)
	p.observer.CountCandidate(observability.OutcomeAccepted)
}

// methodHealth reads every domain's stats and drift flag. Store failures
// become run warnings.
func (p *Pipeline) methodHealth(ctx context.Context, state *runState) []quality.MethodHealth {
	stats, err := p.store.AllMethodStats(ctx)
	if err != nil {
		logger.Error("Failed to read method stats", err, "run_id", state.runID)
		state.warn("method health unavailable: %v", err)
		return nil
	}

	drift := map[string]bool{}
	for _, row := range stats {
		if _, done := drift[row.Domain]; done {
			continue
		}
		prefs, err := p.store.DomainPrefs(ctx, row.Domain)
		if err != nil {
			p.log.Warn("Failed to read domain prefs", "domain", row.Domain, "error", err.Error())
			drift[row.Domain] = false
			continue
		}
		drift[row.Domain] = prefs != nil && prefs.DriftFlag
	}
	return quality.BuildMethodHealth(stats, drift, p.config.Health)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(bool, error, time.Duration) {}
func (nopObserver) CountCandidate(string)                   {}
func (nopObserver) ObserveRun(time.Duration, float64, int)  {}
