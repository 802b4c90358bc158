package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lloydsdigest/internal/boilerplate"
	"lloydsdigest/internal/config"
	"lloydsdigest/internal/cost"
	"lloydsdigest/internal/digest"
	"lloydsdigest/internal/extract"
	"lloydsdigest/internal/feeds"
	"lloydsdigest/internal/fetch"
	"lloydsdigest/internal/gate"
	"lloydsdigest/internal/heuristics"
	"lloydsdigest/internal/llm"
	"lloydsdigest/internal/logger"
	"lloydsdigest/internal/methodprefs"
	"lloydsdigest/internal/observability"
	"lloydsdigest/internal/persistence"
	"lloydsdigest/internal/quality"
	"lloydsdigest/internal/relevance"
	"lloydsdigest/internal/sources"
)

// Cache backends accepted in cache.backend.
const (
	CacheBackendStore = "store"
	CacheBackendRedis = "redis"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	cfg        *config.Config
	repo       persistence.Repository
	metrics    *observability.Metrics
	backend    llm.Backend
	httpClient *http.Client
	out        io.Writer
	skipCache  bool
}

// NewBuilder creates a new pipeline builder for cfg
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// WithRepository uses an already opened repository. The pipeline does not
// close it.
func (b *Builder) WithRepository(repo persistence.Repository) *Builder {
	b.repo = repo
	return b
}

// WithMetrics shares a metrics registry, e.g. with the HTTP server
func (b *Builder) WithMetrics(m *observability.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithLLMBackend overrides the configured model backend
func (b *Builder) WithLLMBackend(backend llm.Backend) *Builder {
	b.backend = backend
	return b
}

// WithHTTPClient sets the client used for fetching
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithOutput redirects progress output
func (b *Builder) WithOutput(w io.Writer) *Builder {
	b.out = w
	return b
}

// WithoutCache disables the fetch and LLM caches
func (b *Builder) WithoutCache() *Builder {
	b.skipCache = true
	return b
}

// Build wires every component from configuration. Malformed rule files,
// missing credentials, and unreachable storage fail here.
func (b *Builder) Build(ctx context.Context) (*Pipeline, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrConfig)
	}
	var closers []io.Closer
	fail := func(err error) (*Pipeline, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	repo := b.repo
	if repo == nil {
		opened, err := OpenRepository(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		repo = opened
		closers = append(closers, opened)
	}

	metrics := b.metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	var (
		fetchCache fetch.Cache
		llmCache   llm.Cache
	)
	if cfg.Cache.Enabled && !b.skipCache {
		if strings.EqualFold(cfg.Cache.Backend, CacheBackendRedis) {
			client, err := llm.DialRedis(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return fail(fmt.Errorf("failed to connect to redis: %w", err))
			}
			closers = append(closers, client)
			ttl := config.Duration(cfg.Cache.TTL, 7*24*time.Hour)
			fetchCache = fetch.NewRedisCache(client, ttl)
			llmCache = llm.NewRedisCache(client, ttl)
		} else {
			fetchCache = repo
			llmCache = llm.NewMemoryCache()
			if err := repo.CleanupFetchCache(ctx, config.Duration(cfg.Cache.MaxAge, 30*24*time.Hour)); err != nil {
				logger.Error("Fetch cache cleanup failed", err)
			}
		}
	}

	fetcher := fetch.New(FetchOptions(cfg), fetchCache)
	if b.httpClient != nil {
		fetcher.WithClient(b.httpClient)
	}

	engineOpts := EngineOptions(cfg)
	engine := extract.NewEngine(extract.DefaultRegistry(), repo, repo, engineOpts).WithObserver(metrics)

	keywords, err := relevance.Load(cfg.Keywords.File)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", config.ErrConfig, err))
	}
	bp, err := boilerplate.Load(cfg.Boilerplate.File)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", config.ErrConfig, err))
	}

	llmEnabled := gate.ParseLLMMode(cfg.LLM.Mode)
	var stages gate.LLMStages
	if llmEnabled {
		backend := b.backend
		if backend == nil {
			backend, err = llm.NewBackend(ctx, llm.BackendOptions{
				Name:            cfg.LLM.Backend,
				OllamaHost:      cfg.LLM.OllamaHost,
				GeminiAPIKey:    cfg.LLM.GeminiAPIKey,
				AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
				MaxTokens:       cfg.LLM.MaxTokens,
			})
			if err != nil {
				return fail(fmt.Errorf("%w: %w", config.ErrConfig, err))
			}
		}
		runner := llm.NewRunner(backend, llmCache, llm.RunnerOptions{
			Timeout:     config.Duration(cfg.LLM.Timeout, llm.DefaultTimeout),
			MaxAttempts: cfg.LLM.MaxAttempts,
			Tier:        cfg.LLM.Tier,
		})
		stages = llm.NewStages(runner, cfg.LLM.RelevanceModel, cfg.LLM.ClassifyModel, cfg.LLM.SummariseModel)
	}

	ledger := cost.NewLedger()
	g := gate.New(keywords, bp, stages, gate.Options{MinScore: cfg.Keywords.MinScore, LLMEnabled: llmEnabled}).
		WithRejectionSink(repo).
		WithUsageSink(repo).
		WithObserver(metrics).
		WithLedger(ledger)

	discoverer := feeds.NewDiscoverer(fetcher, feeds.Options{AllowExternal: cfg.Fetch.AllowExternal}).WithStore(repo)

	p := NewPipeline(RunConfig(cfg), sources.NewManager(repo), discoverer, fetcher, engine, g, repo).
		WithObserver(metrics).
		WithLedger(ledger)
	if b.out != nil {
		p.WithOutput(b.out)
	}

	if cfg.Extraction.PDFEnabled {
		registry, err := extract.NewRegistry(extract.NewPDFExtractor())
		if err != nil {
			return fail(err)
		}
		p.WithPDFExtractor(extract.NewEngine(registry, repo, repo, engineOpts).WithObserver(metrics))
	}

	p.closers = closers
	return p, nil
}

// OpenRepository opens the configured storage backend
func OpenRepository(ctx context.Context, cfg *config.Config) (persistence.Repository, error) {
	opts := persistence.Options{Backend: cfg.Storage.Backend, DataDir: cfg.App.DataDir}
	if strings.EqualFold(cfg.Storage.Backend, persistence.BackendPostgres) {
		dsn, err := persistence.BuildDSN(cfg.Storage.Postgres.Lookup)
		if err != nil {
			return nil, err
		}
		opts.DSN = dsn
	}
	repo, err := persistence.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	return repo, nil
}

// FetchOptions converts fetch configuration
func FetchOptions(cfg *config.Config) fetch.Options {
	return fetch.Options{
		Timeout:           config.Duration(cfg.Fetch.Timeout, fetch.DefaultTimeout),
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
	}
}

// EngineOptions converts extraction and preference configuration
func EngineOptions(cfg *config.Config) extract.EngineOptions {
	return extract.EngineOptions{
		Thresholds: heuristics.Thresholds{
			MinChars: cfg.Extraction.MinChars,
			MinWords: cfg.Extraction.MinWords,
		},
		Prefs: PrefsOptions(cfg),
	}
}

// PrefsOptions converts the method preference policy
func PrefsOptions(cfg *config.Config) methodprefs.Options {
	return methodprefs.Options{
		MinAttempts:    cfg.Prefs.MinAttempts,
		Cooldown:       time.Duration(cfg.Prefs.CooldownHours) * time.Hour,
		PromoteMargin:  cfg.Prefs.PromoteMargin,
		MinSuccessRate: cfg.Prefs.MinSuccessRate,
	}
}

// RunConfig converts the digest, social, filter, and output settings
func RunConfig(cfg *config.Config) *Config {
	rc := DefaultConfig()
	rc.Digest = digest.Options{
		PerDomainCap:        cfg.Digest.PerDomainCap,
		MinRelevance:        cfg.Digest.MinRelevance,
		MaxItems:            cfg.Digest.MaxItems,
		SimilarityThreshold: cfg.Digest.SimilarityThreshold,
	}
	rc.Social = digest.SocialOptions{Limit: cfg.Social.Limit, MinLondon: cfg.Social.MinLondon}
	rc.Health = quality.HealthOptions{MinAttempts: cfg.Prefs.MinAttempts}
	rc.MaxAgeDays = cfg.Filters.MaxAgeDays
	rc.OutputDir = cfg.Output.Directory
	rc.Render = cfg.Output.Enabled
	return rc
}
