package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// chromeSelectors are removed before selector-based extraction.
const chromeSelectors = "script, style, noscript, nav, footer, header, aside, form, iframe, " +
	".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner, .newsletter, .share, .related"

var mainContentSelectors = []string{
	"article",
	"main",
	"[role='main']",
	".article-body",
	".article-content",
	".entry-content",
	".post-content",
	".post-body",
	".main-content",
	".content",
	"#content",
}

// blockSelectors are the elements whose text forms paragraphs.
const blockSelectors = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre"

// HeuristicExtractor strips page chrome and reads block text from the first
// main-content container, falling back to the whole body.
type HeuristicExtractor struct{}

// NewHeuristicExtractor returns the selector-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

func (HeuristicExtractor) Name() string { return "goquery_heuristic" }

func (HeuristicExtractor) Extract(page Page) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return Result{Err: fmt.Errorf("parse html: %w", err)}
	}
	title := ExtractTitle(doc)

	doc.Find(chromeSelectors).Remove()

	for _, selector := range mainContentSelectors {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		if parts := blockText(container); len(parts) > 0 {
			return textResult(title, strings.Join(parts, "\n\n"), "")
		}
	}
	return textResult(title, doc.Find("body").Text(), "")
}

// ParagraphDensityExtractor keeps <p> elements whose text is mostly not link
// text and long enough to be prose.
type ParagraphDensityExtractor struct {
	MaxLinkDensity float64
	MinParagraph   int
}

// NewParagraphDensityExtractor returns the paragraph harvester with default limits.
func NewParagraphDensityExtractor() *ParagraphDensityExtractor {
	return &ParagraphDensityExtractor{MaxLinkDensity: 0.5, MinParagraph: 40}
}

func (ParagraphDensityExtractor) Name() string { return "paragraph_density" }

func (x ParagraphDensityExtractor) Extract(page Page) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return Result{Err: fmt.Errorf("parse html: %w", err)}
	}
	title := ExtractTitle(doc)

	doc.Find("script, style, noscript, nav, footer, header, aside").Remove()

	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := collapseWhitespace(s.Text())
		if len(text) < x.MinParagraph {
			return
		}
		linkChars := 0
		s.Find("a").Each(func(_ int, a *goquery.Selection) {
			linkChars += len(collapseWhitespace(a.Text()))
		})
		if float64(linkChars)/float64(len(text)) > x.MaxLinkDensity {
			return
		}
		parts = append(parts, text)
	})
	return textResult(title, strings.Join(parts, "\n\n"), "")
}

// blockText returns the text of the outermost block elements under sel.
func blockText(sel *goquery.Selection) []string {
	var parts []string
	sel.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		// nested blocks (li > p) would otherwise be counted twice
		if s.ParentsFiltered(blockSelectors).Length() > 0 {
			return
		}
		if text := collapseWhitespace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return parts
}

// ExtractTitle tries the document title, og:title, then the first h1.
func ExtractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}
