package extract

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type fakeExtractor struct {
	name  string
	text  string
	err   error
	panic bool
	calls int
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(page Page) Result {
	f.calls++
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return Result{Err: f.err}
	}
	return Result{Title: "Fake " + f.name, Text: f.text, Success: f.text != ""}
}

func TestRegistryRegister(t *testing.T) {
	r, err := NewRegistry(&fakeExtractor{name: "a"}, &fakeExtractor{name: "b"})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if err := r.Register(&fakeExtractor{name: "a"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := r.Register(&fakeExtractor{name: ""}); err == nil {
		t.Error("expected empty name to fail")
	}
	if _, err := r.Resolve("missing"); err == nil {
		t.Error("expected resolve of unknown extractor to fail")
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestRegistryOrdered(t *testing.T) {
	r, _ := NewRegistry(
		&fakeExtractor{name: "a"},
		&fakeExtractor{name: "b"},
		&fakeExtractor{name: "c"},
		&fakeExtractor{name: "d"},
	)

	tests := []struct {
		name      string
		primary   string
		fallbacks []string
		want      []string
	}{
		{"no prefs", "", nil, []string{"a", "b", "c", "d"}},
		{"primary only", "c", nil, []string{"c", "a", "b", "d"}},
		{"primary and fallbacks", "d", []string{"b"}, []string{"d", "b", "a", "c"}},
		{"unknown names ignored", "zzz", []string{"yyy", "b"}, []string{"b", "a", "c", "d"}},
		{"duplicates ignored", "a", []string{"a", "b", "b"}, []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, ex := range r.Ordered(tt.primary, tt.fallbacks) {
				got = append(got, ex.Name())
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Ordered(%q, %v) = %v, want %v", tt.primary, tt.fallbacks, got, tt.want)
			}
		})
	}
}

func TestDefaultRegistry(t *testing.T) {
	got := DefaultRegistry().Names()
	want := []string{"readability", "paragraph_density", "goquery_heuristic"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DefaultRegistry().Names() = %v, want %v", got, want)
	}
}

const articleHTML = `<html>
<head><title>Lloyd's market update</title><script>var x = 1;</script></head>
<body>
<nav><a href="/">Home</a><a href="/news">News</a></nav>
<article>
<h1>Syndicates report results</h1>
<p>Lloyd's syndicates reported strong underwriting results for the year.</p>
<p>The <b>Corporation</b> said the market remained disciplined.</p>
<ul><li><p>Nested paragraph</p></li></ul>
</article>
<footer>Copyright</footer>
</body>
</html>`

func TestHeuristicExtractor(t *testing.T) {
	result := NewHeuristicExtractor().Extract(Page{URL: "https://example.com/a", HTML: articleHTML})
	if result.Err != nil {
		t.Fatalf("Extract failed: %v", result.Err)
	}
	if result.Title != "Lloyd's market update" {
		t.Errorf("Title = %q", result.Title)
	}
	for _, want := range []string{"Syndicates report results", "The Corporation said the market remained disciplined."} {
		if !strings.Contains(result.Text, want) {
			t.Errorf("Text missing %q: %q", want, result.Text)
		}
	}
	for _, unwanted := range []string{"Home", "Copyright", "var x"} {
		if strings.Contains(result.Text, unwanted) {
			t.Errorf("Text should not contain %q: %q", unwanted, result.Text)
		}
	}
	if strings.Count(result.Text, "Nested paragraph") != 1 {
		t.Errorf("nested block counted more than once: %q", result.Text)
	}
}

func TestHeuristicExtractorFallsBackToBody(t *testing.T) {
	result := NewHeuristicExtractor().Extract(Page{HTML: "<html><body><div>loose text</div><script>x()</script></body></html>"})
	if result.Err != nil {
		t.Fatalf("Extract failed: %v", result.Err)
	}
	if result.Text != "loose text" {
		t.Errorf("Text = %q", result.Text)
	}

	result = NewHeuristicExtractor().Extract(Page{HTML: "<html><body><nav>menu</nav></body></html>"})
	if !errors.Is(result.Err, ErrNoContent) || result.Success {
		t.Errorf("expected ErrNoContent, got %v", result.Err)
	}
}

func TestParagraphDensityExtractor(t *testing.T) {
	html := `<html><head><title>T</title></head><body>
<p>Short.</p>
<p><a href="/a">A paragraph that is made entirely of link text and nothing else</a></p>
<p>The Lloyd's market reported a combined ratio improvement with <a href="/r">results</a> ahead of plan.</p>
</body></html>`
	result := NewParagraphDensityExtractor().Extract(Page{HTML: html})
	if result.Err != nil {
		t.Fatalf("Extract failed: %v", result.Err)
	}
	want := "The Lloyd's market reported a combined ratio improvement with results ahead of plan."
	if result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
}

func TestReadabilityExtractorInvalidURL(t *testing.T) {
	result := NewReadabilityExtractor().Extract(Page{URL: "://bad", HTML: articleHTML})
	if result.Err == nil {
		t.Error("expected error for invalid URL")
	}
	result = NewReadabilityExtractor().Extract(Page{URL: "https://example.com", HTML: "  "})
	if !errors.Is(result.Err, ErrNoContent) {
		t.Errorf("expected ErrNoContent for empty page, got %v", result.Err)
	}
}

func TestLooksLikePDF(t *testing.T) {
	tests := []struct {
		url     string
		content string
		want    bool
	}{
		{"https://example.com/report.PDF", "", true},
		{"https://example.com/page", "  \n%PDF-1.7", true},
		{"https://example.com/page", "<html>", false},
		{"https://example.com/page", strings.Repeat(" ", 2000) + "%PDF", true},
		{"https://example.com/page", strings.Repeat("x", 2000) + "%PDF", false},
	}
	for _, tt := range tests {
		if got := LooksLikePDF(tt.url, []byte(tt.content)); got != tt.want {
			t.Errorf("LooksLikePDF(%q, %.10q) = %v, want %v", tt.url, tt.content, got, tt.want)
		}
	}
}

func TestPDFExtractorRejectsHTML(t *testing.T) {
	result := NewPDFExtractor().Extract(Page{URL: "https://example.com/a", HTML: articleHTML})
	if !errors.Is(result.Err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", result.Err)
	}
}
