// Package render writes a finished digest as Markdown, HTML, and JSON.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/quality"
)

// DefaultOutputDir is used when no output directory is configured.
const DefaultOutputDir = "digests"

// Document is everything a rendered digest contains. It is also the JSON
// format read back by the review UI and the operator API.
type Document struct {
	RunID        string                 `json:"run_id,omitempty"`
	RunDate      time.Time              `json:"run_date"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Items        []core.DigestItem      `json:"items"`
	Social       []core.DigestItem      `json:"social,omitempty"`
	MethodHealth []quality.MethodHealth `json:"method_health,omitempty"`
	Quality      *quality.DigestQuality `json:"quality,omitempty"`
}

// Paths lists the files written for one digest.
type Paths struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	JSON     string `json:"json"`
}

// BaseName returns "digest_<yyyy-mm-dd>".
func BaseName(runDate time.Time) string {
	return "digest_" + runDate.Format("2006-01-02")
}

// WriteDigest renders doc in every format into outputDir. Existing files for
// the same date are rotated aside first.
func WriteDigest(doc Document, outputDir string) (Paths, error) {
	md := RenderMarkdown(doc)
	page, err := RenderHTML(doc, md)
	if err != nil {
		return Paths{}, err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Paths{}, fmt.Errorf("failed to encode digest: %w", err)
	}

	base := BaseName(doc.RunDate)
	var paths Paths
	if paths.Markdown, err = WriteDigestToFile(md, outputDir, base+".md"); err != nil {
		return Paths{}, err
	}
	if paths.HTML, err = WriteDigestToFile(page, outputDir, base+".html"); err != nil {
		return Paths{}, err
	}
	if paths.JSON, err = WriteDigestToFile(string(raw), outputDir, base+".json"); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

// RenderMarkdown renders the digest as Markdown.
func RenderMarkdown(doc Document) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Lloyd's Market Digest - %s\n\n", doc.RunDate.Format("2006-01-02")))

	if len(doc.Items) == 0 {
		sb.WriteString("No articles passed the gates for this digest.\n")
	}

	topic := ""
	for i, item := range doc.Items {
		if item.Topic != topic {
			topic = item.Topic
			sb.WriteString(fmt.Sprintf("## %s\n\n", topic))
		}
		sb.WriteString(fmt.Sprintf("### %d. [%s](%s)\n\n", i+1, escapeBrackets(item.Title), item.URL))
		sb.WriteString(fmt.Sprintf("*%s · %s*\n\n", item.SourceType, scoreLabel(item.Score)))
		if item.WhyItMatters != "" {
			sb.WriteString(fmt.Sprintf("**Why it matters:** %s\n\n", item.WhyItMatters))
		}
		for _, bullet := range item.Summary {
			sb.WriteString("- " + bullet + "\n")
		}
		if len(item.Summary) > 0 {
			sb.WriteString("\n")
		}
	}

	if len(doc.MethodHealth) > 0 {
		sb.WriteString("---\n\n## Method Health\n\n")
		sb.WriteString("| Domain | Method | Success Rate | Attempts | Drift |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, row := range doc.MethodHealth {
			drift := ""
			if row.DriftFlag {
				drift = "⚠️"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %.2f | %d | %s |\n", row.Domain, row.Method, row.SuccessRate, row.Attempts, drift))
		}
	}
	return sb.String()
}

var pageTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Lloyd's Market Digest - {{.Date}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 860px; margin: 2rem auto; padding: 0 1rem; color: #1f2933; }
h1 { border-bottom: 2px solid #0b3d91; padding-bottom: .5rem; }
h3 a { color: #0b3d91; text-decoration: none; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #d9e2ec; padding: .35rem .6rem; text-align: left; }
footer { margin-top: 2rem; color: #829ab1; font-size: .85rem; }
</style>
</head>
<body>
{{.Body}}
<footer>Generated {{.Generated}}{{if .Grade}} · quality grade {{.Grade}}{{end}}</footer>
</body>
</html>
`))

// RenderHTML converts the Markdown rendering into a standalone page.
func RenderHTML(doc Document, md string) (string, error) {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	body := markdown.ToHTML([]byte(md), mdParser, renderer)

	grade := ""
	if doc.Quality != nil {
		grade = doc.Quality.Grade
	}
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Date      string
		Body      template.HTML
		Generated string
		Grade     string
	}{
		Date:      doc.RunDate.Format("2006-01-02"),
		Body:      template.HTML(body),
		Generated: doc.GeneratedAt.UTC().Format(time.RFC3339),
		Grade:     grade,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render digest page: %w", err)
	}
	return buf.String(), nil
}

// WriteDigestToFile writes content to outputDir/filename, rotating an
// existing file to "<mtime>_<filename>" first.
func WriteDigestToFile(content, outputDir, filename string) (string, error) {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	filePath := filepath.Join(outputDir, filename)
	if err := rotateExisting(filePath); err != nil {
		return "", err
	}
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write digest file %s: %w", filePath, err)
	}
	return filePath, nil
}

func rotateExisting(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	rotated := filepath.Join(filepath.Dir(path), info.ModTime().Format("20060102_150405")+"_"+filepath.Base(path))
	if err := os.Rename(path, rotated); err != nil {
		return fmt.Errorf("failed to rotate %s: %w", path, err)
	}
	return nil
}

// LoadDocument reads a digest JSON file.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read digest %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse digest %s: %w", path, err)
	}
	return &doc, nil
}

// LatestDocumentPath returns the newest digest_<date>.json in dir, or
// os.ErrNotExist when there is none. Rotated copies are ignored.
func LatestDocumentPath(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "digest_*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", os.ErrNotExist
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func scoreLabel(score *float64) string {
	if score == nil {
		return "score n/a"
	}
	return fmt.Sprintf("score %.2f", *score)
}

func escapeBrackets(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}
