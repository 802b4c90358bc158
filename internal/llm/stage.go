package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"lloydsdigest/internal/cost"
	"lloydsdigest/internal/logger"
)

// Defaults for RunnerOptions.
const (
	DefaultTimeout     = 120 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
)

// ErrTimeout is returned when a call exceeds the per-call ceiling.
var ErrTimeout = errors.New("llm call timed out")

// RunnerOptions bounds each stage call.
type RunnerOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	// Tier selects hosted pricing; empty means standard.
	Tier string
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	return o
}

// StageResult is the outcome of one stage call. Err is set when the backend
// failed after all attempts; Parsed is empty when the model output was not
// JSON.
type StageResult struct {
	Stage            string
	Model            string
	PromptVersion    string
	Raw              string
	Parsed           map[string]any
	Cached           bool
	TokensPrompt     int
	TokensCompletion int
	CostUSD          *float64
	StartedAt        time.Time
	EndedAt          time.Time
	Attempts         int
	Err              error
}

// OK reports whether the call produced a response.
func (r StageResult) OK() bool { return r.Err == nil }

// Latency is the wall-clock duration of the stage.
func (r StageResult) Latency() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Runner executes prompts against a backend with caching, retries, and a
// hard per-call timeout.
type Runner struct {
	backend Backend
	cache   Cache
	opts    RunnerOptions
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	log     *slog.Logger
}

// NewRunner creates a runner. cache may be nil.
func NewRunner(backend Backend, cache Cache, opts RunnerOptions) *Runner {
	return &Runner{
		backend: backend,
		cache:   cache,
		opts:    opts.withDefaults(),
		sleep:   sleepContext,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.Get(),
	}
}

// Run renders spec with text and returns the stage result. It never panics
// and never returns a nil Parsed map.
func (r *Runner) Run(ctx context.Context, spec PromptSpec, model, text string) StageResult {
	res := StageResult{
		Stage:         spec.Name,
		Model:         model,
		PromptVersion: spec.Version,
		Parsed:        map[string]any{},
		StartedAt:     r.now(),
	}

	prompt := spec.Render(text)
	key := CacheKey(model, spec.Version, text)

	if r.cache != nil {
		entry, err := r.cache.Get(ctx, key)
		if err != nil {
			r.log.Warn("LLM cache read failed", "stage", spec.Name, "error", err)
		} else if entry != nil {
			res.Cached = true
			res.Raw = entry.Response
			res.TokensPrompt = entry.TokensPrompt
			res.TokensCompletion = entry.TokensCompletion
			res.Parsed = ParseJSON(entry.Response)
			r.price(&res)
			res.EndedAt = r.now()
			return res
		}
	}

	resp, attempts, err := r.generateWithRetry(ctx, model, prompt)
	res.Attempts = attempts
	if err != nil {
		res.Err = err
		res.EndedAt = r.now()
		return res
	}

	res.Raw = resp.Text
	res.TokensPrompt = resp.TokensPrompt
	if res.TokensPrompt == 0 {
		res.TokensPrompt = cost.EstimateTokens(prompt)
	}
	res.TokensCompletion = resp.TokensCompletion
	if res.TokensCompletion == 0 {
		res.TokensCompletion = cost.EstimateTokens(resp.Text)
	}
	res.Parsed = ParseJSON(resp.Text)
	r.price(&res)

	if r.cache != nil {
		entry := CacheEntry{
			Response:         resp.Text,
			Model:            model,
			PromptVersion:    spec.Version,
			TokensPrompt:     res.TokensPrompt,
			TokensCompletion: res.TokensCompletion,
		}
		if err := r.cache.Set(ctx, key, entry); err != nil {
			r.log.Warn("LLM cache write failed", "stage", spec.Name, "error", err)
		}
	}
	res.EndedAt = r.now()
	return res
}

func (r *Runner) price(res *StageResult) {
	if b, ok := cost.ComputeCost(res.Model, res.TokensPrompt, res.TokensCompletion, r.opts.Tier); ok {
		total := b.Total
		res.CostUSD = &total
	}
}

func (r *Runner) generateWithRetry(ctx context.Context, model, prompt string) (Response, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		resp, err := r.generateOnce(ctx, model, prompt)
		if err == nil {
			if strings.TrimSpace(resp.Text) == "" {
				err = ErrEmptyResponse
			} else {
				return resp, attempt, nil
			}
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil || attempt == r.opts.MaxAttempts {
			return Response{}, attempt, lastErr
		}

		backoff := r.opts.BaseBackoff * time.Duration(1<<(attempt-1))
		r.log.Debug("Retrying LLM call", "backend", r.backend.Name(), "attempt", attempt, "backoff", backoff, "error", err)
		if err := r.sleep(ctx, backoff); err != nil {
			return Response{}, attempt, lastErr
		}
	}
	return Response{}, r.opts.MaxAttempts, lastErr
}

// generateOnce runs one backend call in a goroutine so the timeout holds even
// when a backend ignores its context.
func (r *Runner) generateOnce(ctx context.Context, model, prompt string) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	type outcome struct {
		resp Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("llm backend panic: %v", p)}
			}
		}()
		resp, err := r.backend.Generate(callCtx, model, prompt)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Response{}, fmt.Errorf("%w after %s: %v", ErrTimeout, r.opts.Timeout, out.err)
		}
		return out.resp, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%w after %s", ErrTimeout, r.opts.Timeout)
	}
}

// retryable reports whether another attempt may help. A timed-out call is a
// stage failure so one stage never waits longer than a single Timeout.
func retryable(err error) bool {
	if errors.Is(err, ErrNoAPIKey) || errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseJSON decodes a model response into a map. Fenced or prose-wrapped
// JSON is recovered from the outermost braces; anything else gives an empty
// map.
func ParseJSON(text string) map[string]any {
	out := map[string]any{}
	text = strings.TrimSpace(text)
	if text == "" {
		return out
	}
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return map[string]any{}
	}
	recovered := map[string]any{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &recovered); err != nil {
		return map[string]any{}
	}
	return recovered
}

// Relevance is the parsed relevance verdict.
type Relevance struct {
	// Relevant is nil when the model gave no usable verdict.
	Relevant   *bool
	Confidence *float64
	Reason     string
}

// ParseRelevance reads {relevant, confidence, reason}.
func ParseRelevance(parsed map[string]any) Relevance {
	var out Relevance
	switch v := parsed["relevant"].(type) {
	case bool:
		out.Relevant = &v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			out.Relevant = &b
		}
	}
	switch v := parsed["confidence"].(type) {
	case float64:
		out.Confidence = &v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			out.Confidence = &f
		}
	}
	if reason, ok := parsed["reason"].(string); ok {
		out.Reason = strings.TrimSpace(reason)
	}
	return out
}

// ParseLabel reads {label}.
func ParseLabel(parsed map[string]any) string {
	label, _ := parsed["label"].(string)
	return strings.TrimSpace(label)
}

// ParseBullets reads {bullets}, dropping blank entries. A single string is
// treated as one bullet.
func ParseBullets(parsed map[string]any) []string {
	var bullets []string
	switch v := parsed["bullets"].(type) {
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				bullets = append(bullets, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			bullets = append(bullets, s)
		}
	}
	return bullets
}

// Stages runs the three gate stages with per-stage models.
type Stages struct {
	runner         *Runner
	relevanceModel string
	classifyModel  string
	summariseModel string
}

// Default stage models.
const (
	DefaultRelevanceModel = "qwen3:14b"
	DefaultClassifyModel  = "qwen2.5-coder"
	DefaultSummariseModel = "qwen2.5-coder"
)

// NewStages binds models to a runner. Empty models use the defaults.
func NewStages(runner *Runner, relevanceModel, classifyModel, summariseModel string) *Stages {
	if relevanceModel == "" {
		relevanceModel = DefaultRelevanceModel
	}
	if classifyModel == "" {
		classifyModel = DefaultClassifyModel
	}
	if summariseModel == "" {
		summariseModel = DefaultSummariseModel
	}
	return &Stages{
		runner:         runner,
		relevanceModel: relevanceModel,
		classifyModel:  classifyModel,
		summariseModel: summariseModel,
	}
}

func (s *Stages) Relevance(ctx context.Context, text string) (Relevance, StageResult) {
	res := s.runner.Run(ctx, RelevancePrompt, s.relevanceModel, text)
	return ParseRelevance(res.Parsed), res
}

func (s *Stages) Classify(ctx context.Context, text string) (string, StageResult) {
	res := s.runner.Run(ctx, ClassifyPrompt, s.classifyModel, text)
	return ParseLabel(res.Parsed), res
}

func (s *Stages) Summarise(ctx context.Context, text string) ([]string, StageResult) {
	res := s.runner.Run(ctx, SummarisePrompt, s.summariseModel, text)
	return ParseBullets(res.Parsed), res
}
