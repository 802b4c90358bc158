package gate

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"lloydsdigest/internal/boilerplate"
	"lloydsdigest/internal/core"
	"lloydsdigest/internal/llm"
	"lloydsdigest/internal/relevance"
)

type fakeStages struct {
	relevance llm.Relevance
	label     string
	bullets   []string
	failAll   bool
	calls     []string
}

func (f *fakeStages) result(stage string) llm.StageResult {
	f.calls = append(f.calls, stage)
	res := llm.StageResult{Stage: stage, Model: "qwen3:14b", PromptVersion: "v1"}
	if f.failAll {
		res.Err = errors.New("connection refused")
	}
	return res
}

func (f *fakeStages) Relevance(context.Context, string) (llm.Relevance, llm.StageResult) {
	return f.relevance, f.result(llm.StageRelevance)
}

func (f *fakeStages) Classify(context.Context, string) (string, llm.StageResult) {
	return f.label, f.result(llm.StageClassify)
}

func (f *fakeStages) Summarise(context.Context, string) ([]string, llm.StageResult) {
	return f.bullets, f.result(llm.StageSummarise)
}

type recordingSink struct {
	rejections []core.Rejection
	usage      []core.LLMUsage
}

func (s *recordingSink) InsertRejection(_ context.Context, r core.Rejection) error {
	s.rejections = append(s.rejections, r)
	return nil
}

func (s *recordingSink) InsertLLMUsage(_ context.Context, u core.LLMUsage) error {
	s.usage = append(s.usage, u)
	return nil
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

const articleBody = "The syndicate reported stronger underwriting results this quarter. " +
	"A leading broker said placement volumes rose across the London market. " +
	"Board governance changes were also announced at the annual meeting. " +
	"Analysts expect rates to remain firm through the renewal season, although competition is increasing " +
	"in several classes and capacity has returned to the property catastrophe market after two difficult years. " +
	"Managing agents continue to invest in digital placement tools and data capabilities to reduce frictional costs. " +
	"Further details will be published in the full year statement next spring."

func testKeywords() *relevance.Rules {
	return relevance.NewRules([]relevance.Term{
		{Text: "syndicate", Weight: 3.0},
		{Text: "broker", Weight: 2.0},
		{Text: "governance", Weight: 1.5},
	}, nil)
}

func testCandidate() core.Candidate {
	return core.Candidate{
		ID:       "c1",
		SourceID: "primary:example.com",
		URL:      "https://example.com/news/2026/results",
		Title:    "Candidate title",
		Metadata: map[string]any{"topics": []string{"Market", "Results"}, "source_type": "primary"},
	}
}

func testArticle() core.ArticleRecord {
	return core.ArticleRecord{ArticleID: "c1", URL: "https://example.com/news/2026/results", Title: "Syndicate results", BodyText: articleBody}
}

func TestEvaluate_LLMDisabled(t *testing.T) {
	g := New(testKeywords(), nil, nil, Options{LLMEnabled: false})

	out := g.Evaluate(context.Background(), "run-1", testCandidate(), testArticle())
	if out.Rejection != nil || out.Item == nil {
		t.Fatalf("expected an item, got rejection %+v", out.Rejection)
	}
	item := out.Item
	if item.Score != nil {
		t.Errorf("Score = %v, want nil", *item.Score)
	}
	if item.KeywordScore == nil || *item.KeywordScore != 6.5 {
		t.Errorf("KeywordScore = %v, want 6.5", item.KeywordScore)
	}
	if item.Topic != "Market, Results" || item.SourceType != "primary" {
		t.Errorf("topic/source = %q/%q", item.Topic, item.SourceType)
	}
	want := []string{
		"The syndicate reported stronger underwriting results this quarter.",
		"A leading broker said placement volumes rose across the London market.",
		"Board governance changes were also announced at the annual meeting.",
	}
	if !reflect.DeepEqual(item.Summary, want) {
		t.Errorf("Summary = %v", item.Summary)
	}
	if item.Title != "Syndicate results" {
		t.Errorf("Title = %q", item.Title)
	}
}

func TestEvaluate_KeywordRejection(t *testing.T) {
	sink := &recordingSink{}
	g := New(testKeywords(), nil, nil, Options{MinScore: 10}).WithRejectionSink(sink)

	out := g.Evaluate(context.Background(), "run-1", testCandidate(), testArticle())
	if out.Item != nil || out.Rejection == nil {
		t.Fatal("expected rejection")
	}
	if out.Rejection.Stage != StageKeyword || out.Rejection.Reason != "score 6.50 below 10.00" {
		t.Errorf("unexpected rejection: %+v", out.Rejection)
	}
	if len(sink.rejections) != 1 || len(sink.rejections[0].Matches) != 3 {
		t.Errorf("expected one audited rejection with matches, got %+v", sink.rejections)
	}
}

func TestEvaluate_ExcludedTerm(t *testing.T) {
	rules := relevance.NewRules([]relevance.Term{{Text: "syndicate", Weight: 3.0}}, []string{"annual meeting"})
	g := New(rules, nil, nil, Options{})

	out := g.Evaluate(context.Background(), "run-1", testCandidate(), testArticle())
	if out.Rejection == nil || !strings.Contains(out.Rejection.Reason, "annual meeting") {
		t.Fatalf("expected exclusion rejection, got %+v", out)
	}
}

func TestEvaluate_BoilerplateStrippedBeforeScoring(t *testing.T) {
	bp := boilerplate.NewRules(map[string][]string{
		boilerplate.TemplateKey("https://example.com/news/2026/results"): {"Board governance changes were also announced at the annual meeting."},
	}, nil)
	g := New(testKeywords(), bp, nil, Options{})

	out := g.Evaluate(context.Background(), "run-1", testCandidate(), testArticle())
	if out.Item == nil {
		t.Fatal("expected an item")
	}
	if *out.Item.KeywordScore != 5.0 {
		t.Errorf("KeywordScore = %v, want 5.0 once boilerplate is removed", *out.Item.KeywordScore)
	}
	if strings.Contains(strings.Join(out.Item.Summary, " "), "governance") {
		t.Error("summary should not contain stripped boilerplate")
	}
}

func TestEvaluate_LLMStages(t *testing.T) {
	stages := &fakeStages{
		relevance: llm.Relevance{Relevant: boolPtr(true), Confidence: floatPtr(0.3), Reason: "Lloyd's results"},
		label:     "Market Structure",
		bullets:   []string{"Results improved."},
	}
	sink := &recordingSink{}
	g := New(testKeywords(), nil, stages, Options{LLMEnabled: true}).WithUsageSink(sink)

	out := g.Evaluate(context.Background(), "run-1", testCandidate(), testArticle())
	if out.Item == nil {
		t.Fatal("expected an item")
	}
	item := out.Item
	if item.Score == nil || *item.Score != 0.3 {
		t.Errorf("Score = %v, want LLM confidence 0.3", item.Score)
	}
	if item.Topic != "Market Structure" || item.WhyItMatters != "Lloyd's results" {
		t.Errorf("topic/why = %q/%q", item.Topic, item.WhyItMatters)
	}
	if !reflect.DeepEqual(item.Summary, []string{"Results improved."}) {
		t.Errorf("Summary = %v", item.Summary)
	}
	if len(sink.usage) != 3 || sink.usage[0].RunID != "run-1" || sink.usage[0].CandidateID != "c1" {
		t.Errorf("unexpected usage rows: %+v", sink.usage)
	}
}

func TestEvaluate_LLMMarkedIrrelevant(t *testing.T) {
	stages := &fakeStages{relevance: llm.Relevance{Relevant: boolPtr(false), Reason: "motor insurance only"}}
	g := New(nil, nil, stages, Options{LLMEnabled: true})

	out := g.Evaluate(context.Background(), "run-1", testCandidate(), testArticle())
	if out.Rejection == nil || out.Rejection.Stage != StageLLMRelevance {
		t.Fatalf("expected llm rejection, got %+v", out)
	}
	if !strings.Contains(out.Rejection.Reason, "motor insurance only") {
		t.Errorf("reason = %q", out.Rejection.Reason)
	}
	if len(stages.calls) != 1 {
		t.Errorf("later stages should not run, calls = %v", stages.calls)
	}
}

func TestEvaluate_LLMFailuresAreNonFatal(t *testing.T) {
	stages := &fakeStages{failAll: true, relevance: llm.Relevance{Relevant: boolPtr(false)}}
	sink := &recordingSink{}
	g := New(nil, nil, stages, Options{LLMEnabled: true}).WithUsageSink(sink)

	out := g.Evaluate(context.Background(), "run-1", testCandidate(), testArticle())
	if out.Item == nil {
		t.Fatal("a failed relevance call must not reject")
	}
	if out.Item.Score != nil || out.Item.Topic != "Market, Results" || len(out.Item.Summary) != 3 {
		t.Errorf("expected fallbacks, got %+v", out.Item)
	}
	if len(sink.usage) != 3 || sink.usage[0].Error == "" {
		t.Errorf("failed stages should still be recorded: %+v", sink.usage)
	}
}

func TestEvaluate_Fallbacks(t *testing.T) {
	g := New(nil, nil, nil, Options{LLMEnabled: true})
	c := testCandidate()
	c.Title = ""
	c.Metadata = nil
	a := testArticle()
	a.Title = ""

	out := g.Evaluate(context.Background(), "run-1", c, a)
	if out.Item.Title != a.URL {
		t.Errorf("Title = %q, want URL", out.Item.Title)
	}
	if out.Item.Topic != DefaultTopic || out.Item.SourceType != UnknownSource {
		t.Errorf("topic/source = %q/%q", out.Item.Topic, out.Item.SourceType)
	}
	if len(out.Item.Excerpt) > ExcerptChars {
		t.Errorf("excerpt too long: %d", len(out.Item.Excerpt))
	}
}

func TestParseLLMMode(t *testing.T) {
	tests := map[string]bool{
		"":      true,
		"on":    true,
		"ON":    true,
		"off":   false,
		" OFF ": false,
		"false": false,
		"0":     false,
		"no":    false,
		"yes":   true,
	}
	for in, want := range tests {
		if got := ParseLLMMode(in); got != want {
			t.Errorf("ParseLLMMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFallbackSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"blank", "   ", nil},
		{"no terminator", "just words", []string{"just words"}},
		{"mixed terminators", "One!  Two?\nThree. Four.", []string{"One!", "Two?", "Three."}},
		{"ellipsis splits per dot", "Wait... what", []string{"Wait.", ".", "."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FallbackSummary(tt.in, 3); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FallbackSummary(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTrimText(t *testing.T) {
	if got := TrimText("a  b\n\nc", 10); got != "a b c" {
		t.Errorf("TrimText = %q", got)
	}
	if got := TrimText("abcdef", 3); got != "abc" {
		t.Errorf("TrimText = %q", got)
	}
}
