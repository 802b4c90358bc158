package core

import (
	"strings"
	"time"
)

// Decision is the outcome of the text acceptance heuristic.
type Decision string

const (
	DecisionAccept   Decision = "ACCEPT"
	DecisionTooShort Decision = "TOO_SHORT"
)

// Source is one row of the sources CSV.
type Source struct {
	SourceType string   `json:"source_type"` // primary, secondary, additional, regulatory
	Domain     string   `json:"domain"`
	URL        string   `json:"url"`
	Topics     []string `json:"topics"`
	PageType   string   `json:"page_type"` // rss or listing
}

// SourceID returns the stable "<type>:<domain>" identifier.
func (s Source) SourceID() string {
	return s.SourceType + ":" + s.Domain
}

// Candidate is a discovered URL not yet confirmed to hold an article.
type Candidate struct {
	ID           string         `json:"candidate_id"` // sha256 of the canonical URL
	SourceID     string         `json:"source_id"`
	URL          string         `json:"url"`
	Title        string         `json:"title,omitempty"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	DiscoveredAt time.Time      `json:"discovered_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Domain returns the part of the source id after the first colon, or "".
func (c Candidate) Domain() string {
	_, domain, ok := strings.Cut(c.SourceID, ":")
	if !ok {
		return ""
	}
	return domain
}

// Topics returns the topics attached by discovery.
func (c Candidate) Topics() []string {
	switch v := c.Metadata["topics"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SourceType returns the source type recorded at discovery.
func (c Candidate) SourceType() string {
	if v, ok := c.Metadata["source_type"].(string); ok {
		return v
	}
	return ""
}

// ExtractionAttempt is one (candidate, method) try.
type ExtractionAttempt struct {
	CandidateID string    `json:"candidate_id"`
	Method      string    `json:"method"`
	Decision    Decision  `json:"decision"`
	Score       float64   `json:"score"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// ArticleRecord is the winning extraction for a candidate.
type ArticleRecord struct {
	ArticleID        string     `json:"article_id"`
	SourceID         string     `json:"source_id"`
	URL              string     `json:"url"`
	Title            string     `json:"title,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	BodyText         string     `json:"body_text"`
	ExtractionMethod string     `json:"extraction_method"`
	Score            float64    `json:"score"` // heuristic score of the winning attempt
	CreatedAt        time.Time  `json:"created_at"`
}

// MethodStats aggregates attempts for one domain and method.
type MethodStats struct {
	Method           string     `json:"method"`
	Attempts         int        `json:"attempts"`
	Successes        int        `json:"successes"`
	MedianDurationMS *int64     `json:"median_duration_ms,omitempty"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
}

// SuccessRate returns successes/attempts, or 0 with no attempts.
func (s MethodStats) SuccessRate() float64 {
	if s.Attempts <= 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// MethodPrefs is the preferred extraction order for a domain.
type MethodPrefs struct {
	Domain          string     `json:"domain"`
	PrimaryMethod   string     `json:"primary_method"`
	FallbackMethods []string   `json:"fallback_methods"`
	Confidence      float64    `json:"confidence"`
	LastChangedAt   *time.Time `json:"last_changed_at,omitempty"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	DriftFlag       bool       `json:"drift_flag"`
	DriftNotes      string     `json:"drift_notes,omitempty"`
}

// DigestItem is a single gated story.
type DigestItem struct {
	CandidateID  string     `json:"candidate_id,omitempty"`
	SourceID     string     `json:"source_id,omitempty"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Summary      []string   `json:"summary,omitempty"`
	Score        *float64   `json:"score,omitempty"` // LLM confidence
	KeywordScore *float64   `json:"keyword_score,omitempty"`
	SourceType   string     `json:"source_type"`
	Topic        string     `json:"topic"`
	WhyItMatters string     `json:"why_it_matters,omitempty"`
	Excerpt      string     `json:"excerpt,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// Rejection is a write-only audit record of a gate rejection.
type Rejection struct {
	CandidateID string    `json:"candidate_id"`
	SourceID    string    `json:"source_id"`
	URL         string    `json:"url"`
	RunID       string    `json:"run_id"`
	Stage       string    `json:"stage"`
	Reason      string    `json:"reason"`
	Score       *float64  `json:"score,omitempty"`
	Matches     []string  `json:"matches,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LLMUsage records one LLM stage call.
type LLMUsage struct {
	RunID            string    `json:"run_id"`
	CandidateID      string    `json:"candidate_id"`
	Stage            string    `json:"stage"`
	Model            string    `json:"model"`
	PromptVersion    string    `json:"prompt_version"`
	Cached           bool      `json:"cached"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	LatencyMS        int64     `json:"latency_ms"`
	TokensPrompt     int       `json:"tokens_prompt"`
	TokensCompletion int       `json:"tokens_completion"`
	CostUSD          *float64  `json:"cost_usd,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// RunMetrics counts what a single pipeline run did.
type RunMetrics struct {
	RunID           string     `json:"run_id"`
	RunDate         time.Time  `json:"run_date"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	TotalSources    int        `json:"total_sources"`
	TotalCandidates int        `json:"total_candidates"`
	Fetched         int        `json:"fetched"`
	Extracted       int        `json:"extracted"`
	Errors          int        `json:"errors"`
}

// FetchResult is the outcome of fetching one URL.
type FetchResult struct {
	URL        string    `json:"url"`
	Content    []byte    `json:"content,omitempty"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	FromCache  bool      `json:"from_cache"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// DomainMethodStats is a MethodStats row tagged with its domain.
type DomainMethodStats struct {
	Domain string `json:"domain"`
	MethodStats
}

// DigestRecord notes a rendered digest file.
type DigestRecord struct {
	RunDate    time.Time `json:"run_date"`
	OutputPath string    `json:"output_path"`
	ItemCount  int       `json:"item_count"`
	Status     string    `json:"status"`
}
