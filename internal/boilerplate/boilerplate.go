// Package boilerplate removes known repeated text blocks (cookie banners,
// footers, subscription prompts) from article bodies, keyed by site template.
package boilerplate

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IgnorePathsKey lists URL path prefixes that never get stripped.
const IgnorePathsKey = "__ignore_paths__"

// ErrInvalidRules is returned for files that are not a YAML mapping.
var ErrInvalidRules = errors.New("boilerplate rules must be a mapping at the top level")

// Rules maps template keys to the blocks removed from matching pages.
type Rules struct {
	blocks      map[string][]string
	ignorePaths []string
}

// NewRules builds rules from a template-key map and ignored path prefixes.
func NewRules(blocks map[string][]string, ignorePaths []string) *Rules {
	if blocks == nil {
		blocks = map[string][]string{}
	}
	return &Rules{blocks: blocks, ignorePaths: ignorePaths}
}

// Load reads a boilerplate YAML file. A missing file yields empty rules.
func Load(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRules(nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read boilerplate %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds rules from YAML of the form
//
//	"example.com|news/2024": ["block one", "block two"]
//	__ignore_paths__: ["/careers"]
//
// Values that are not lists are ignored.
func Parse(raw []byte) (*Rules, error) {
	var data any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse boilerplate: %w", err)
	}
	if data == nil {
		return NewRules(nil, nil), nil
	}
	mapping, ok := data.(map[string]any)
	if !ok {
		return nil, ErrInvalidRules
	}

	blocks := map[string][]string{}
	var ignore []string
	for key, value := range mapping {
		list, ok := value.([]any)
		if !ok {
			continue
		}
		items := stringsOf(list)
		if key == IgnorePathsKey {
			ignore = items
			continue
		}
		blocks[key] = items
	}
	return NewRules(blocks, ignore), nil
}

// TemplateKey groups a URL as "<host>|<first two path segments>", lowercased,
// or "<host>|root" for the site root.
func TemplateKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "|root"
	}
	path := strings.Trim(u.Path, "/")
	group := "root"
	if path != "" {
		parts := strings.Split(path, "/")
		if len(parts) > 2 {
			parts = parts[:2]
		}
		group = strings.ToLower(strings.Join(parts, "/"))
	}
	return strings.ToLower(u.Host) + "|" + group
}

// ForURL returns the blocks to strip for rawURL.
func (r *Rules) ForURL(rawURL string) []string {
	if r == nil || r.ignored(rawURL) {
		return nil
	}
	return r.blocks[TemplateKey(rawURL)]
}

// Strip removes every block from text and collapses whitespace.
func Strip(text string, blocks []string) string {
	for _, block := range blocks {
		if block == "" {
			continue
		}
		text = strings.ReplaceAll(text, block, "")
	}
	return strings.Join(strings.Fields(text), " ")
}

// Len returns the number of template keys with rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.blocks)
}

func (r *Rules) ignored(rawURL string) bool {
	if len(r.ignorePaths) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, prefix := range r.ignorePaths {
		if strings.HasPrefix(path, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func stringsOf(list []any) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item == nil {
			continue
		}
		if s := fmt.Sprint(item); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
