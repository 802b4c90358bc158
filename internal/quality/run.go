package quality

import (
	"sort"
	"strings"
	"time"

	"lloydsdigest/internal/core"
)

// RunSummary is the end-of-run report.
type RunSummary struct {
	RunID           string     `json:"run_id"`
	RunDate         string     `json:"run_date"`
	Coverage        float64    `json:"coverage"`
	TotalCandidates int        `json:"total_candidates"`
	Fetched         int        `json:"fetched"`
	Extracted       int        `json:"extracted"`
	Errors          int        `json:"errors"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// ComputeRunSummary derives coverage as extracted over total candidates, or 0
// when there were none.
func ComputeRunSummary(run core.RunMetrics) RunSummary {
	coverage := 0.0
	if run.TotalCandidates > 0 {
		coverage = float64(run.Extracted) / float64(run.TotalCandidates)
	}
	return RunSummary{
		RunID:           run.RunID,
		RunDate:         run.RunDate.Format("2006-01-02"),
		Coverage:        coverage,
		TotalCandidates: run.TotalCandidates,
		Fetched:         run.Fetched,
		Extracted:       run.Extracted,
		Errors:          run.Errors,
		StartedAt:       run.StartedAt,
		EndedAt:         run.EndedAt,
	}
}

// FailureCount is how often one error string occurred.
type FailureCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// SummarizeFailures counts fetch errors by message, most frequent first.
func SummarizeFailures(results []core.FetchResult) []FailureCount {
	counts := map[string]int{}
	for _, r := range results {
		if r.Error != "" {
			counts[r.Error]++
		}
	}
	out := make([]FailureCount, 0, len(counts))
	for msg, n := range counts {
		out = append(out, FailureCount{Error: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})
	return out
}

// VaguePhrases are generic phrases that weaken a summary bullet.
var VaguePhrases = []string{
	"several", "various", "multiple", "a number of", "numerous", "a few", "a couple of",
}

// DigestQuality grades a finished digest.
type DigestQuality struct {
	ItemCount     int      `json:"item_count"`
	ScoredPct     float64  `json:"scored_pct"`
	WithRationale int      `json:"with_rationale"`
	VaguePhrases  int      `json:"vague_phrases"`
	DomainCount   int      `json:"domain_count"`
	Grade         string   `json:"grade"` // A/B/C/D
	Warnings      []string `json:"warnings,omitempty"`
}

// EvaluateDigest grades items on how many carry an LLM confidence, how
// varied their sources are, and how vague their bullets read.
func EvaluateDigest(items []core.DigestItem, domainOf func(string) string) DigestQuality {
	q := DigestQuality{ItemCount: len(items)}
	if len(items) == 0 {
		q.Grade = "D"
		q.Warnings = append(q.Warnings, "digest is empty")
		return q
	}

	domains := map[string]bool{}
	scored := 0
	for _, item := range items {
		if item.Score != nil {
			scored++
		}
		if strings.TrimSpace(item.WhyItMatters) != "" {
			q.WithRationale++
		}
		if domainOf != nil {
			domains[domainOf(item.URL)] = true
		}
		for _, bullet := range item.Summary {
			q.VaguePhrases += countVague(bullet)
		}
	}
	q.ScoredPct = float64(scored) / float64(len(items))
	q.DomainCount = len(domains)

	if q.ScoredPct < 0.5 {
		q.Warnings = append(q.Warnings, "fewer than half of the items were scored by the LLM")
	}
	if q.DomainCount == 1 && len(items) > 3 {
		q.Warnings = append(q.Warnings, "every item comes from a single domain")
	}
	if q.VaguePhrases > len(items) {
		q.Warnings = append(q.Warnings, "summaries contain many vague phrases")
	}

	switch len(q.Warnings) {
	case 0:
		q.Grade = "A"
	case 1:
		q.Grade = "B"
	case 2:
		q.Grade = "C"
	default:
		q.Grade = "D"
	}
	return q
}

func countVague(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, phrase := range VaguePhrases {
		n += strings.Count(lower, phrase)
	}
	return n
}
