// Package extract turns fetched HTML into article text by running a set of
// competing extraction methods in a per-domain preferred order.
package extract

import (
	"fmt"
	"strings"
)

// Page is a fetched document handed to extractors.
type Page struct {
	URL  string
	HTML string
}

// Result is what a single extractor produced.
type Result struct {
	Title   string
	Text    string
	HTML    string
	Success bool
	Err     error
}

// Extractor is one extraction method.
type Extractor interface {
	Name() string
	Extract(page Page) Result
}

// Registry keeps extractors in registration order.
type Registry struct {
	order  []Extractor
	byName map[string]Extractor
}

// NewRegistry builds a registry holding the given extractors.
func NewRegistry(extractors ...Extractor) (*Registry, error) {
	r := &Registry{byName: map[string]Extractor{}}
	for _, ex := range extractors {
		if err := r.Register(ex); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns the built-in HTML extractors.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(NewReadabilityExtractor(), NewParagraphDensityExtractor(), NewHeuristicExtractor())
	return r
}

// Register appends an extractor. Names must be unique.
func (r *Registry) Register(ex Extractor) error {
	if r.byName == nil {
		r.byName = map[string]Extractor{}
	}
	name := ex.Name()
	if name == "" {
		return fmt.Errorf("extractor name is required")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("extractor %s is already registered", name)
	}
	r.byName[name] = ex
	r.order = append(r.order, ex)
	return nil
}

// Resolve returns an extractor by name.
func (r *Registry) Resolve(name string) (Extractor, error) {
	if ex, ok := r.byName[name]; ok {
		return ex, nil
	}
	return nil, fmt.Errorf("extractor %s is not registered", name)
}

// All returns the extractors in registration order.
func (r *Registry) All() []Extractor {
	return append([]Extractor(nil), r.order...)
}

// Names returns the registered method names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, ex := range r.order {
		names[i] = ex.Name()
	}
	return names
}

// Ordered returns the extractors with primary first, then the fallbacks in
// order, then every remaining extractor in registration order. Unknown names
// are ignored.
func (r *Registry) Ordered(primary string, fallbacks []string) []Extractor {
	ordered := make([]Extractor, 0, len(r.order))
	seen := make(map[string]bool, len(r.order))

	add := func(name string) {
		if seen[name] {
			return
		}
		if ex, ok := r.byName[name]; ok {
			ordered = append(ordered, ex)
			seen[name] = true
		}
	}

	add(primary)
	for _, name := range fallbacks {
		add(name)
	}
	for _, ex := range r.order {
		add(ex.Name())
	}
	return ordered
}

// collapseWhitespace joins all whitespace-separated fields with single spaces.
func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func textResult(title, text, html string) Result {
	text = collapseWhitespace(text)
	if text == "" {
		return Result{Title: title, HTML: html, Err: ErrNoContent}
	}
	return Result{Title: title, Text: text, HTML: html, Success: true}
}
