package extract

import (
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// ReadabilityExtractor runs the Mozilla Readability port.
type ReadabilityExtractor struct{}

// NewReadabilityExtractor returns the readability extractor.
func NewReadabilityExtractor() *ReadabilityExtractor { return &ReadabilityExtractor{} }

func (ReadabilityExtractor) Name() string { return "readability" }

func (ReadabilityExtractor) Extract(page Page) Result {
	if strings.TrimSpace(page.HTML) == "" {
		return Result{Err: ErrNoContent}
	}
	pageURL, err := url.Parse(page.URL)
	if err != nil {
		return Result{Err: fmt.Errorf("parse page url: %w", err)}
	}

	article, err := readability.FromReader(strings.NewReader(page.HTML), pageURL)
	if err != nil {
		return Result{Err: fmt.Errorf("readability: %w", err)}
	}
	return textResult(strings.TrimSpace(article.Title), article.TextContent, strings.TrimSpace(article.Content))
}
