package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/quality"
)

func testDocument() Document {
	score := 0.82
	return Document{
		RunID:       "run-1",
		RunDate:     time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC),
		GeneratedAt: time.Date(2026, 5, 14, 7, 30, 0, 0, time.UTC),
		Items: []core.DigestItem{
			{
				Title:        "Lloyd's [market] results",
				URL:          "https://example.com/news/results",
				Summary:      []string{"Profit rose.", "Combined ratio improved."},
				Score:        &score,
				SourceType:   "primary",
				Topic:        "Market Structure",
				WhyItMatters: "Sets the tone for renewals.",
			},
			{
				Title:      "Broker merger",
				URL:        "https://example.com/news/merger",
				SourceType: "secondary",
				Topic:      "Brokers & Distribution",
			},
		},
		MethodHealth: []quality.MethodHealth{{Domain: "example.com", Method: "readability", SuccessRate: 0.25, Attempts: 8, DriftFlag: true}},
		Quality:      &quality.DigestQuality{Grade: "B"},
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(testDocument())

	for _, want := range []string{
		"# Lloyd's Market Digest - 2026-05-14",
		"## Market Structure",
		`### 1. [Lloyd's \[market\] results](https://example.com/news/results)`,
		"*primary · score 0.82*",
		"**Why it matters:** Sets the tone for renewals.",
		"- Combined ratio improved.",
		"*secondary · score n/a*",
		"| example.com | readability | 0.25 | 8 | ⚠️ |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(Document{RunDate: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	if !strings.Contains(md, "No articles passed the gates") {
		t.Errorf("unexpected empty digest:\n%s", md)
	}
	if strings.Contains(md, "Method Health") {
		t.Error("empty health should not render a table")
	}
}

func TestRenderHTML(t *testing.T) {
	doc := testDocument()
	page, err := RenderHTML(doc, RenderMarkdown(doc))
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	for _, want := range []string{
		"<title>Lloyd&#39;s Market Digest - 2026-05-14</title>",
		`href="https://example.com/news/results"`,
		`target="_blank"`,
		"<li>Profit rose.</li>",
		"<table>",
		"quality grade B",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestWriteDigest(t *testing.T) {
	dir := t.TempDir()
	doc := testDocument()

	paths, err := WriteDigest(doc, dir)
	if err != nil {
		t.Fatalf("WriteDigest failed: %v", err)
	}
	for _, p := range []string{paths.Markdown, paths.HTML, paths.JSON} {
		if !strings.HasPrefix(filepath.Base(p), "digest_2026-05-14.") {
			t.Errorf("unexpected file name %s", p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}

	loaded, err := LoadDocument(paths.JSON)
	if err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	if loaded.RunID != "run-1" || len(loaded.Items) != 2 || *loaded.Items[0].Score != 0.82 {
		t.Errorf("unexpected document: %+v", loaded)
	}

	// A second render for the same date rotates the earlier files aside.
	if _, err := WriteDigest(doc, dir); err != nil {
		t.Fatalf("second WriteDigest failed: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 6 {
		t.Errorf("expected 3 current and 3 rotated files, got %d", len(entries))
	}

	latest, err := LatestDocumentPath(dir)
	if err != nil || latest != paths.JSON {
		t.Errorf("LatestDocumentPath = %q (%v), want %q", latest, err, paths.JSON)
	}
}

func TestLatestDocumentPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := LatestDocumentPath(dir); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	for _, name := range []string{"digest_2026-05-01.json", "digest_2026-05-03.json", "digest_2026-05-02.json"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644)
	}
	latest, _ := LatestDocumentPath(dir)
	if filepath.Base(latest) != "digest_2026-05-03.json" {
		t.Errorf("latest = %s", latest)
	}
}

func TestWriteDigestToFile(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# Test Digest\n\nThis is test content."

	filePath, err := WriteDigestToFile(content, tmpDir, "test_digest.md")
	if err != nil {
		t.Fatalf("WriteDigestToFile failed: %v", err)
	}
	if filePath != filepath.Join(tmpDir, "test_digest.md") {
		t.Errorf("unexpected path %s", filePath)
	}
	got, _ := os.ReadFile(filePath)
	if string(got) != content {
		t.Errorf("Expected content %q, got %q", content, string(got))
	}
}

func TestWriteDigestToFile_InvalidOutputDir(t *testing.T) {
	tmpDir := t.TempDir()
	invalidPath := filepath.Join(tmpDir, "file.txt")
	_ = os.WriteFile(invalidPath, []byte("test"), 0644)

	if _, err := WriteDigestToFile("content", invalidPath, "test.md"); err == nil {
		t.Error("Expected error when output directory is invalid")
	}
}
