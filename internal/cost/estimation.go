package cost

import (
	"fmt"
	"sort"
	"strings"
)

// ModelRate is a USD price per one million tokens.
type ModelRate struct {
	InputPer1MTokens  float64
	OutputPer1MTokens float64
}

// Service tiers for hosted OpenAI-style pricing.
const (
	TierStandard = "standard"
	TierFlex     = "flex"
)

// CustomRates are checked before any tier table. They cover self-hosted models
// and the Gemini models the gemini backend can call.
var CustomRates = map[string]ModelRate{
	"qwen2:14b":        {0.04, 0.10},
	"qwen3:14b":        {0.04, 0.10},
	"gemini-1.5-flash": {0.075, 0.30},
	"gemini-1.5-pro":   {3.50, 10.50},
}

var FlexRates = map[string]ModelRate{
	"gpt-5.2":    {0.875, 7.00},
	"gpt-5.1":    {0.625, 5.00},
	"gpt-5":      {0.625, 5.00},
	"gpt-5-mini": {0.125, 1.00},
	"gpt-5-nano": {0.025, 0.20},
	"o3":         {1.00, 4.00},
	"o4-mini":    {0.55, 2.20},
	"gpt-4o":     {2.50, 10.00},
}

var StandardRates = map[string]ModelRate{
	"gpt-5.2":    {1.75, 14.00},
	"gpt-5.1":    {1.25, 10.00},
	"gpt-5":      {1.25, 10.00},
	"gpt-5-mini": {0.25, 2.00},
	"gpt-5-nano": {0.05, 0.40},
	"gpt-4o":     {2.50, 10.00},
}

// EstimateTokens approximates a token count as one token per four bytes,
// with a floor of one for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}

// NormaliseModel lowercases a model name and strips provider prefixes.
func NormaliseModel(model string) string {
	lowered := strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range []string{"openai/", "chatgpt/"} {
		lowered = strings.TrimPrefix(lowered, prefix)
	}
	return lowered
}

// ResolveRate finds the rate for a model under a service tier. An empty tier
// means standard.
func ResolveRate(model, tier string) (ModelRate, bool) {
	if strings.TrimSpace(model) == "" {
		return ModelRate{}, false
	}
	key := NormaliseModel(model)
	if rate, ok := CustomRates[key]; ok {
		return rate, true
	}
	table := StandardRates
	if strings.EqualFold(strings.TrimSpace(tier), TierFlex) {
		table = FlexRates
	}
	rate, ok := table[key]
	return rate, ok
}

// Breakdown is a computed cost in USD.
type Breakdown struct {
	Input  float64
	Output float64
	Total  float64
}

// ComputeCost prices a call. ok is false when the model has no known rate.
func ComputeCost(model string, tokensPrompt, tokensCompletion int, tier string) (Breakdown, bool) {
	rate, ok := ResolveRate(model, tier)
	if !ok {
		return Breakdown{}, false
	}
	input := float64(tokensPrompt) / 1_000_000 * rate.InputPer1MTokens
	output := float64(tokensCompletion) / 1_000_000 * rate.OutputPer1MTokens
	return Breakdown{Input: input, Output: output, Total: input + output}, true
}

// StageTotals aggregates usage for one stage and model.
type StageTotals struct {
	Stage            string
	Model            string
	Calls            int
	Cached           int
	TokensPrompt     int
	TokensCompletion int
	CostUSD          float64
	Unpriced         int
}

// Ledger accumulates per-stage usage across a run.
type Ledger struct {
	totals map[string]*StageTotals
}

func NewLedger() *Ledger {
	return &Ledger{totals: make(map[string]*StageTotals)}
}

// Add records one call. A nil cost counts as unpriced.
func (l *Ledger) Add(stage, model string, cached bool, tokensPrompt, tokensCompletion int, costUSD *float64) {
	key := stage + "|" + model
	t, ok := l.totals[key]
	if !ok {
		t = &StageTotals{Stage: stage, Model: model}
		l.totals[key] = t
	}
	t.Calls++
	if cached {
		t.Cached++
	}
	t.TokensPrompt += tokensPrompt
	t.TokensCompletion += tokensCompletion
	if costUSD != nil {
		t.CostUSD += *costUSD
	} else {
		t.Unpriced++
	}
}

// Totals returns the aggregates sorted by stage then model.
func (l *Ledger) Totals() []StageTotals {
	out := make([]StageTotals, 0, len(l.totals))
	for _, t := range l.totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// TotalCost sums every priced call.
func (l *Ledger) TotalCost() float64 {
	var sum float64
	for _, t := range l.totals {
		sum += t.CostUSD
	}
	return sum
}

// Format renders the ledger for the end-of-run log.
func (l *Ledger) Format() string {
	var sb strings.Builder
	sb.WriteString("LLM usage\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	totals := l.Totals()
	if len(totals) == 0 {
		sb.WriteString("   no calls\n")
		return sb.String()
	}
	for _, t := range totals {
		sb.WriteString(fmt.Sprintf("   %-10s %-16s calls=%d cached=%d tokens=%d/%d cost=$%.6f\n",
			t.Stage, t.Model, t.Calls, t.Cached, t.TokensPrompt, t.TokensCompletion, t.CostUSD))
	}
	sb.WriteString(fmt.Sprintf("   total: $%.6f\n", l.TotalCost()))
	return sb.String()
}
