package cost

import (
	"math"
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty string", "", 0},
		{"shorter than four bytes", "hi", 1},
		{"exact multiple", "abcdefgh", 2},
		{"truncates", "abcdefghij", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.input); got != tt.expected {
				t.Errorf("EstimateTokens(%q) = %d, expected %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolveRate(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		tier      string
		wantIn    float64
		wantFound bool
	}{
		{"custom ignores tier", "qwen3:14b", TierFlex, 0.04, true},
		{"standard default", "gpt-5", "", 1.25, true},
		{"flex tier", "gpt-5", "flex", 0.625, true},
		{"flex tier case insensitive", "gpt-5", " FLEX ", 0.625, true},
		{"prefix stripped", "openai/GPT-5-mini", "", 0.25, true},
		{"chatgpt prefix", "chatgpt/gpt-4o", "flex", 2.50, true},
		{"flex only model under standard", "o3", "standard", 0, false},
		{"unknown", "llama3", "", 0, false},
		{"empty", "", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, ok := ResolveRate(tt.model, tt.tier)
			if ok != tt.wantFound {
				t.Fatalf("ResolveRate found = %v, want %v", ok, tt.wantFound)
			}
			if ok && rate.InputPer1MTokens != tt.wantIn {
				t.Errorf("input rate = %v, want %v", rate.InputPer1MTokens, tt.wantIn)
			}
		})
	}
}

func TestComputeCost(t *testing.T) {
	b, ok := ComputeCost("gpt-5", 1_000_000, 500_000, TierStandard)
	if !ok {
		t.Fatal("expected a rate for gpt-5")
	}
	if math.Abs(b.Input-1.25) > 1e-9 || math.Abs(b.Output-5.0) > 1e-9 || math.Abs(b.Total-6.25) > 1e-9 {
		t.Errorf("unexpected breakdown: %+v", b)
	}

	if _, ok := ComputeCost("unknown-model", 10, 10, ""); ok {
		t.Error("expected no cost for unknown model")
	}
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	c := 0.5
	l.Add("relevance", "qwen3:14b", false, 100, 10, &c)
	l.Add("relevance", "qwen3:14b", true, 100, 10, &c)
	l.Add("classify", "qwen2.5-coder", false, 50, 5, nil)

	totals := l.Totals()
	if len(totals) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(totals))
	}
	if totals[0].Stage != "classify" || totals[0].Unpriced != 1 {
		t.Errorf("unexpected first group: %+v", totals[0])
	}
	rel := totals[1]
	if rel.Calls != 2 || rel.Cached != 1 || rel.TokensPrompt != 200 || rel.CostUSD != 1.0 {
		t.Errorf("unexpected relevance group: %+v", rel)
	}
	if l.TotalCost() != 1.0 {
		t.Errorf("TotalCost = %v", l.TotalCost())
	}
	if out := l.Format(); !strings.Contains(out, "total: $1.000000") {
		t.Errorf("Format missing total:\n%s", out)
	}
	if out := NewLedger().Format(); !strings.Contains(out, "no calls") {
		t.Errorf("empty ledger format = %q", out)
	}
}
