// Package sources loads the list of publications to discover from.
package sources

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"lloydsdigest/internal/core"
)

// Page types.
const (
	PageTypeRSS     = "rss"
	PageTypeListing = "listing"
)

var (
	// SourceTypes are the accepted values of the source_type column.
	SourceTypes = map[string]bool{"primary": true, "secondary": true, "additional": true, "regulatory": true}
	// PageTypes are the accepted values of the page_type column.
	PageTypes = map[string]bool{PageTypeRSS: true, PageTypeListing: true}

	requiredColumns = []string{"source_type", "domain", "url", "topics", "page_type"}
)

// ErrInvalidSources marks a malformed sources file.
var ErrInvalidSources = errors.New("invalid sources file")

// Load reads a sources CSV file.
func Load(path string) ([]core.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sources file %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads sources CSV rows. The header must name every required column;
// extra columns are ignored.
func Parse(r io.Reader) ([]core.Source, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: CSV must include a header row", ErrInvalidSources)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSources, err)
	}

	index := map[string]int{}
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: CSV missing required columns: %s", ErrInvalidSources, strings.Join(missing, ", "))
	}

	field := func(record []string, col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var sources []core.Source
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidSources, row, err)
		}

		src := core.Source{
			SourceType: strings.ToLower(field(record, "source_type")),
			Domain:     field(record, "domain"),
			URL:        field(record, "url"),
			Topics:     ParseTopics(field(record, "topics")),
			PageType:   strings.ToLower(field(record, "page_type")),
		}
		if src.SourceType == "" || src.Domain == "" || src.URL == "" || src.PageType == "" {
			return nil, fmt.Errorf("%w: row %d: missing required fields", ErrInvalidSources, row)
		}
		if !SourceTypes[src.SourceType] {
			return nil, fmt.Errorf("%w: row %d: invalid source_type %q", ErrInvalidSources, row, src.SourceType)
		}
		if !PageTypes[src.PageType] {
			return nil, fmt.Errorf("%w: row %d: invalid page_type %q", ErrInvalidSources, row, src.PageType)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// ParseTopics splits a topics cell on ";" or ",", dropping blanks and
// repeats while keeping order.
func ParseTopics(value string) []string {
	if value == "" {
		return nil
	}
	seen := map[string]bool{}
	var topics []string
	for _, topic := range strings.Split(strings.ReplaceAll(value, ",", ";"), ";") {
		topic = strings.TrimSpace(topic)
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, topic)
	}
	return topics
}
