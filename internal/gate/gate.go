// Package gate decides whether an extracted article becomes a digest item.
// Boilerplate is stripped first, then the keyword gate and the LLM stages run
// in order; any of them may reject the candidate.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"lloydsdigest/internal/boilerplate"
	"lloydsdigest/internal/core"
	"lloydsdigest/internal/cost"
	"lloydsdigest/internal/llm"
	"lloydsdigest/internal/logger"
	"lloydsdigest/internal/relevance"
)

// Rejection stages.
const (
	StageKeyword      = "keyword"
	StageLLMRelevance = "llm_relevance"
)

const (
	DefaultMinScore = 2.5
	// LLMTextChars bounds the text sent to each LLM stage.
	LLMTextChars = 6000
	// ExcerptChars bounds DigestItem.Excerpt.
	ExcerptChars = 600
	// FallbackSentences is the length of the body-derived summary.
	FallbackSentences = 3
	DefaultTopic      = "General"
	UnknownSource     = "unknown"
)

// LLMStages runs the three model stages.
type LLMStages interface {
	Relevance(ctx context.Context, text string) (llm.Relevance, llm.StageResult)
	Classify(ctx context.Context, text string) (string, llm.StageResult)
	Summarise(ctx context.Context, text string) ([]string, llm.StageResult)
}

// RejectionSink stores audit rows for rejected candidates.
type RejectionSink interface {
	InsertRejection(ctx context.Context, rejection core.Rejection) error
}

// UsageSink stores one row per LLM stage call.
type UsageSink interface {
	InsertLLMUsage(ctx context.Context, usage core.LLMUsage) error
}

// StageObserver receives every LLM stage outcome, e.g. for metrics.
type StageObserver interface {
	ObserveStage(stage string, cached bool, err error, latency time.Duration)
}

// Options configures a Gate.
type Options struct {
	MinScore   float64
	LLMEnabled bool
}

// Outcome is the gate's verdict. Exactly one of Item and Rejection is set.
type Outcome struct {
	Item      *core.DigestItem
	Rejection *core.Rejection
}

// Gate evaluates articles. Sinks and stages are optional.
type Gate struct {
	keywords    *relevance.Rules
	boilerplate *boilerplate.Rules
	stages      LLMStages
	rejections  RejectionSink
	usage       UsageSink
	observer    StageObserver
	ledger      *cost.Ledger
	opts        Options
	now         func() time.Time
	log         *slog.Logger
}

// New creates a gate. Nil rules disable the matching step; nil stages
// disable the LLM regardless of opts.LLMEnabled.
func New(keywords *relevance.Rules, bp *boilerplate.Rules, stages LLMStages, opts Options) *Gate {
	if opts.MinScore == 0 {
		opts.MinScore = DefaultMinScore
	}
	return &Gate{
		keywords:    keywords,
		boilerplate: bp,
		stages:      stages,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger.Get(),
	}
}

func (g *Gate) WithRejectionSink(s RejectionSink) *Gate { g.rejections = s; return g }
func (g *Gate) WithUsageSink(s UsageSink) *Gate         { g.usage = s; return g }
func (g *Gate) WithObserver(o StageObserver) *Gate      { g.observer = o; return g }
func (g *Gate) WithLedger(l *cost.Ledger) *Gate         { g.ledger = l; return g }

// LLMEnabled reports whether the LLM stages will run.
func (g *Gate) LLMEnabled() bool {
	return g.opts.LLMEnabled && g.stages != nil
}

// Evaluate runs every step for one article.
func (g *Gate) Evaluate(ctx context.Context, runID string, candidate core.Candidate, article core.ArticleRecord) Outcome {
	log := g.log.With("candidate_id", candidate.ID, "url", candidate.URL)

	topic := DefaultTopic
	if topics := candidate.Topics(); len(topics) > 0 {
		topic = strings.Join(topics, ", ")
	}
	sourceType := candidate.SourceType()
	if sourceType == "" {
		sourceType = UnknownSource
	}
	title := firstNonEmpty(article.Title, candidate.Title, article.URL, candidate.URL)

	text := article.BodyText
	if blocks := g.boilerplate.ForURL(candidate.URL); len(blocks) > 0 {
		cleaned := boilerplate.Strip(text, blocks)
		if cleaned != text {
			log.Debug("Stripped boilerplate", "blocks", len(blocks))
		}
		text = cleaned
	}

	var keywordScore *float64
	if g.keywords != nil && !g.keywords.Empty() {
		res := g.keywords.Score(relevance.CompactText(firstNonEmpty(article.Title, candidate.Title), text))
		score := res.Score
		keywordScore = &score
		if len(res.Excluded) > 0 {
			reason := "excluded term matched: " + strings.Join(res.Excluded, ", ")
			log.Info("Keyword gate rejected candidate", "stage", StageKeyword, "excluded", res.Excluded)
			return g.reject(ctx, runID, candidate, StageKeyword, reason, keywordScore, res.Excluded)
		}
		if score < g.opts.MinScore {
			reason := fmt.Sprintf("score %.2f below %.2f", score, g.opts.MinScore)
			log.Info("Keyword gate rejected candidate", "stage", StageKeyword, "score", score, "matches", res.Matches)
			return g.reject(ctx, runID, candidate, StageKeyword, reason, keywordScore, res.Matches)
		}
		log.Debug("Keyword gate passed", "score", score, "matches", len(res.Matches))
	}

	var (
		score   *float64
		summary []string
		why     string
	)
	if g.LLMEnabled() {
		llmText := TrimText(text, LLMTextChars)

		verdict, res := g.stages.Relevance(ctx, llmText)
		g.recordUsage(ctx, runID, candidate, res, log)
		if res.OK() {
			why = verdict.Reason
			if verdict.Relevant != nil && !*verdict.Relevant {
				reason := "llm marked not relevant"
				if verdict.Reason != "" {
					reason += ": " + verdict.Reason
				}
				log.Info("LLM relevance rejected candidate", "stage", StageLLMRelevance)
				return g.reject(ctx, runID, candidate, StageLLMRelevance, reason, verdict.Confidence, nil)
			}
			score = verdict.Confidence
		}

		label, res := g.stages.Classify(ctx, llmText)
		g.recordUsage(ctx, runID, candidate, res, log)
		if res.OK() && label != "" {
			topic = label
		}

		bullets, res := g.stages.Summarise(ctx, llmText)
		g.recordUsage(ctx, runID, candidate, res, log)
		if res.OK() && len(bullets) > 0 {
			summary = bullets
		}
	}
	if len(summary) == 0 {
		summary = FallbackSummary(text, FallbackSentences)
	}

	return Outcome{Item: &core.DigestItem{
		CandidateID:  candidate.ID,
		SourceID:     candidate.SourceID,
		Title:        title,
		URL:          firstNonEmpty(article.URL, candidate.URL),
		Summary:      summary,
		Score:        score,
		KeywordScore: keywordScore,
		SourceType:   sourceType,
		Topic:        topic,
		WhyItMatters: why,
		Excerpt:      TrimText(text, ExcerptChars),
		PublishedAt:  firstTime(article.PublishedAt, candidate.PublishedAt),
	}}
}

func (g *Gate) reject(ctx context.Context, runID string, candidate core.Candidate, stage, reason string, score *float64, matches []string) Outcome {
	rejection := &core.Rejection{
		CandidateID: candidate.ID,
		SourceID:    candidate.SourceID,
		URL:         candidate.URL,
		RunID:       runID,
		Stage:       stage,
		Reason:      reason,
		Score:       score,
		Matches:     matches,
		CreatedAt:   g.now(),
	}
	if g.rejections != nil {
		if err := g.rejections.InsertRejection(ctx, *rejection); err != nil {
			g.log.Warn("Failed to record rejection", "candidate_id", candidate.ID, "stage", stage, "error", err)
		}
	}
	return Outcome{Rejection: rejection}
}

func (g *Gate) recordUsage(ctx context.Context, runID string, candidate core.Candidate, res llm.StageResult, log *slog.Logger) {
	if res.Err != nil {
		log.Warn("LLM stage failed", "stage", res.Stage, "model", res.Model, "error", res.Err)
	}
	if g.observer != nil {
		g.observer.ObserveStage(res.Stage, res.Cached, res.Err, res.Latency())
	}
	if g.ledger != nil && res.Err == nil {
		g.ledger.Add(res.Stage, res.Model, res.Cached, res.TokensPrompt, res.TokensCompletion, res.CostUSD)
	}
	if g.usage == nil {
		return
	}
	usage := core.LLMUsage{
		RunID:            runID,
		CandidateID:      candidate.ID,
		Stage:            res.Stage,
		Model:            res.Model,
		PromptVersion:    res.PromptVersion,
		Cached:           res.Cached,
		StartedAt:        res.StartedAt,
		EndedAt:          res.EndedAt,
		LatencyMS:        res.Latency().Milliseconds(),
		TokensPrompt:     res.TokensPrompt,
		TokensCompletion: res.TokensCompletion,
		CostUSD:          res.CostUSD,
	}
	if res.Err != nil {
		usage.Error = res.Err.Error()
	}
	if err := g.usage.InsertLLMUsage(ctx, usage); err != nil {
		log.Warn("Failed to record llm usage", "stage", res.Stage, "error", err)
	}
}

// ParseLLMMode reports whether an LLM mode string enables the LLM stages.
// "off", "false", "0" and "no" disable them; anything else, including "",
// enables them.
func ParseLLMMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "off", "false", "0", "no":
		return false
	}
	return true
}

// TrimText collapses whitespace and keeps at most maxChars characters.
func TrimText(text string, maxChars int) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(cleaned) <= maxChars {
		return cleaned
	}
	return string([]rune(cleaned)[:maxChars])
}

// FallbackSummary returns the first n sentences of text, split after '.',
// '!' and '?'. It returns nil for blank text.
func FallbackSummary(text string, n int) []string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return nil
	}
	sentences := SplitSentences(cleaned)
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return sentences
}

// SplitSentences breaks text after each sentence terminator, dropping blank
// pieces. Trailing text without a terminator is the last sentence.
func SplitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return sentences
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstTime(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
