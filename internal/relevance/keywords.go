// Package relevance scores article text against weighted keyword categories
// loaded from YAML.
package relevance

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRules is returned for keyword files that are not a YAML mapping.
var ErrInvalidRules = errors.New("keyword rules must be a mapping at the top level")

// ExcludeKey is the top-level key whose terms reject an article outright.
const ExcludeKey = "exclude_terms"

// DefaultWeight applies to categories without an explicit weight.
const DefaultWeight = 1.0

// CategoryWeights are the per-category term weights.
var CategoryWeights = map[string]float64{
	"core_lloyds_market_structure":              3.0,
	"digital_placement_platforms_modernisation": 2.5,
	"company_market_global_specialty_keywords":  2.0,
	"brokers_distribution":                      2.0,
	"lloyds_governance_regulation_signals":      1.5,
	"data_tech_ops_signals":                     1.0,
	"entities":                                  1.5,
}

// CompactChars is how much body text CompactText keeps.
const CompactChars = 4000

// shortTermLen is the longest term matched on word boundaries.
const shortTermLen = 3

// Term is a lowercased keyword and its category weight.
type Term struct {
	Text   string
	Weight float64
}

// Result is the outcome of scoring one text.
type Result struct {
	Score    float64
	Matches  []string
	Excluded []string
}

// Rules holds weighted terms and exclusion terms.
type Rules struct {
	terms   []Term
	exclude []string

	mu       sync.Mutex // ahocorasick.Matcher keeps per-call state
	matcher  *ahocorasick.Matcher
	long     []string
	patterns map[string]*regexp.Regexp
}

// NewRules builds rules from terms and exclusion terms.
func NewRules(terms []Term, exclude []string) *Rules {
	r := &Rules{terms: terms, patterns: map[string]*regexp.Regexp{}}
	for _, t := range exclude {
		if t = strings.ToLower(t); strings.TrimSpace(t) != "" {
			r.exclude = append(r.exclude, t)
		}
	}

	seen := map[string]bool{}
	index := func(term string) {
		if utf8.RuneCountInString(term) <= shortTermLen {
			if _, ok := r.patterns[term]; !ok {
				r.patterns[term] = regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
			}
			return
		}
		if !seen[term] {
			seen[term] = true
			r.long = append(r.long, term)
		}
	}
	for _, t := range r.terms {
		index(t.Text)
	}
	for _, t := range r.exclude {
		index(t)
	}
	if len(r.long) > 0 {
		r.matcher = ahocorasick.NewStringMatcher(r.long)
	}
	return r
}

// Load reads a keyword YAML file. A missing file yields empty rules.
func Load(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRules(nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keywords %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds rules from YAML. Each top-level key is a category whose value
// is a list or a nested mapping of lists; the exclude_terms key lists terms
// that reject on any match.
func Parse(raw []byte) (*Rules, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}
	if len(doc.Content) == 0 || isNull(doc.Content[0]) {
		return NewRules(nil, nil), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, ErrInvalidRules
	}

	var (
		terms   []Term
		exclude []string
	)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, values := root.Content[i].Value, flatten(root.Content[i+1])
		if key == ExcludeKey {
			exclude = append(exclude, values...)
			continue
		}
		weight, ok := CategoryWeights[key]
		if !ok {
			weight = DefaultWeight
		}
		for _, v := range values {
			terms = append(terms, Term{Text: strings.ToLower(v), Weight: weight})
		}
	}
	return NewRules(terms, exclude), nil
}

// Terms returns the weighted terms in file order.
func (r *Rules) Terms() []Term {
	return append([]Term(nil), r.terms...)
}

// Empty reports whether there are no weighted terms.
func (r *Rules) Empty() bool {
	return len(r.terms) == 0
}

// Score sums the weight of every term found in text. Terms of three characters
// or fewer must match on word boundaries; longer terms match as substrings.
func (r *Rules) Score(text string) Result {
	haystack := strings.ToLower(text)
	found := r.find(haystack)

	var res Result
	for _, t := range r.terms {
		if found[t.Text] {
			res.Score += t.Weight
			res.Matches = append(res.Matches, t.Text)
		}
	}
	for _, t := range r.exclude {
		if found[t] {
			res.Excluded = append(res.Excluded, t)
		}
	}
	return res
}

func (r *Rules) find(haystack string) map[string]bool {
	found := map[string]bool{}
	if r.matcher != nil {
		r.mu.Lock()
		hits := r.matcher.Match([]byte(haystack))
		r.mu.Unlock()
		for _, i := range hits {
			if i < len(r.long) {
				found[r.long[i]] = true
			}
		}
	}
	for term, re := range r.patterns {
		if re.MatchString(haystack) {
			found[term] = true
		}
	}
	return found
}

// CompactText joins the title and the first CompactChars characters of body.
func CompactText(title, body string) string {
	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if body != "" {
		parts = append(parts, truncateRunes(body, CompactChars))
	}
	return strings.Join(parts, " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// flatten collects every non-blank scalar under n, in document order.
func flatten(n *yaml.Node) []string {
	switch n.Kind {
	case yaml.SequenceNode:
		var out []string
		for _, item := range n.Content {
			if item.Kind == yaml.ScalarNode {
				if !isNull(item) && strings.TrimSpace(item.Value) != "" {
					out = append(out, item.Value)
				}
				continue
			}
			out = append(out, flatten(item)...)
		}
		return out
	case yaml.MappingNode:
		var out []string
		for i := 1; i < len(n.Content); i += 2 {
			out = append(out, flatten(n.Content[i])...)
		}
		return out
	case yaml.AliasNode:
		return flatten(n.Alias)
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}
