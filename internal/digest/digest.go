// Package digest turns gated items into the final ordered digest: structural
// filtering, URL and near-duplicate title merging, a per-domain cap, category
// ranking, and the relevance floor and size cap.
package digest

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"lloydsdigest/internal/core"
)

// Options bounds digest assembly.
type Options struct {
	PerDomainCap        int
	MinRelevance        float64
	MaxItems            int
	SimilarityThreshold float64
}

// DefaultOptions returns a cap of 5 per domain, a 0.4 floor, 40 items, and a
// 0.92 title similarity threshold.
func DefaultOptions() Options {
	return Options{PerDomainCap: 5, MinRelevance: 0.4, MaxItems: 40, SimilarityThreshold: 0.92}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PerDomainCap <= 0 {
		o.PerDomainCap = d.PerDomainCap
	}
	if o.MaxItems <= 0 {
		o.MaxItems = d.MaxItems
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = d.SimilarityThreshold
	}
	return o
}

// Assemble runs every step in order. The input is not modified.
func Assemble(items []core.DigestItem, opts Options) []core.DigestItem {
	opts = opts.withDefaults()

	filtered := make([]core.DigestItem, 0, len(items))
	for _, item := range items {
		if IsArticle(item) {
			filtered = append(filtered, item)
		}
	}
	deduped := Dedup(filtered, opts.SimilarityThreshold)
	capped := CapPerDomain(deduped, opts.PerDomainCap)
	ranked := Rank(capped)

	out := make([]core.DigestItem, 0, min(len(ranked), opts.MaxItems))
	for _, item := range ranked {
		if item.Score != nil && *item.Score < opts.MinRelevance {
			continue
		}
		out = append(out, item)
		if len(out) == opts.MaxItems {
			break
		}
	}
	return out
}

var (
	datedURL  = regexp.MustCompile(`/20\d{2}/|[-_/]20\d{2}[-_/](0[1-9]|1[0-2])[-_/](0[1-9]|[12]\d|3[01])`)
	newsPaths = []string{"/news/", "/press", "/release", "/insights/"}
)

// ArticleScore rates how article-like an item looks, from 0 to 4: a dated
// URL, a 6 to 18 word title, an excerpt of at least 400 characters, and a
// news-like path each add one.
func ArticleScore(rawURL, title, excerpt string) int {
	score := 0
	lower := strings.ToLower(rawURL)
	if datedURL.MatchString(lower) {
		score++
	}
	if words := len(strings.Fields(title)); words >= 6 && words <= 18 {
		score++
	}
	if len(excerpt) >= 400 {
		score++
	}
	for _, token := range newsPaths {
		if strings.Contains(lower, token) {
			score++
			break
		}
	}
	return score
}

var urlBlocklist = []string{
	"/subscribe", "/subscription", "/account", "/login", "/signin", "/register", "/signup",
	"/careers", "/jobs", "/job", "/recruit", "/vacancy", "/apply", "/contact", "/about",
	"/help", "/privacy", "/cookie", "/terms", "/legal", "/disclaimer",
	"/author/", "/authors/", "/profile/", "/team/", "/people/",
	"/topic/", "/topics/", "/tag/", "/tags/", "/category/", "/categories/",
}

// MatchesURLBlocklist reports whether the URL looks like a non-article page.
func MatchesURLBlocklist(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, pattern := range urlBlocklist {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return strings.Contains(lower, "page=") || strings.Contains(lower, "offset=")
}

var titleBlocklist = []string{
	"subscribe", "sign in", "log in", "register", "careers", "job", "vacancy",
	"author profile", "tag archive", "topic index", "search results", "newsletter",
}

// MatchesTitleBlocklist reports whether a title carries a non-article cue.
func MatchesTitleBlocklist(title string) bool {
	lower := strings.ToLower(title)
	for _, cue := range titleBlocklist {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// IsArticle applies the structural filter. A strong article score overrides
// the blocklists.
func IsArticle(item core.DigestItem) bool {
	if item.URL == "" {
		return false
	}
	score := ArticleScore(item.URL, item.Title, item.Excerpt)
	if MatchesURLBlocklist(item.URL) && score < 2 {
		return false
	}
	if MatchesTitleBlocklist(item.Title) && score < 3 {
		return false
	}
	return score > 0
}

var trackingParams = map[string]bool{"ref": true, "fbclid": true, "gclid": true, "mc_cid": true, "mc_eid": true}

// Canonicalize drops tracking parameters, the fragment, and any trailing
// slash, and lowercases the host. Unparseable URLs are returned unchanged.
func Canonicalize(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// NormalizeTitle lowercases a title and replaces punctuation with spaces.
func NormalizeTitle(title string) string {
	cleaned := nonAlnum.ReplaceAllString(strings.ToLower(title), " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
}

// TitleSimilarity is the sequence-matcher ratio of two normalized titles.
func TitleSimilarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	return difflib.NewMatcher(strings.Split(na, ""), strings.Split(nb, "")).Ratio()
}

// QualityScore is the article score plus one per non-blank bullet, plus one
// when a rationale is present.
func QualityScore(item core.DigestItem) int {
	score := ArticleScore(item.URL, item.Title, item.Excerpt)
	for _, b := range item.Summary {
		if strings.TrimSpace(b) != "" {
			score++
		}
	}
	if strings.TrimSpace(item.WhyItMatters) != "" {
		score++
	}
	return score
}

func better(current, candidate core.DigestItem) core.DigestItem {
	if QualityScore(candidate) > QualityScore(current) {
		return candidate
	}
	return current
}

// Dedup merges items with the same canonical URL or near-identical titles,
// keeping the higher-quality item at the earlier position. A merged entry is
// checked again against the rest until no pair is left to merge, so the
// result is stable under a second pass.
func Dedup(items []core.DigestItem, threshold float64) []core.DigestItem {
	kept := make([]core.DigestItem, 0, len(items))
	for _, item := range items {
		kept = append(kept, item)
		idx := len(kept) - 1
		for {
			other := findDuplicate(kept, idx, threshold)
			if other < 0 {
				break
			}
			lo, hi := min(idx, other), max(idx, other)
			kept[lo] = better(kept[lo], kept[hi])
			kept = append(kept[:hi], kept[hi+1:]...)
			idx = lo
		}
	}
	return kept
}

// findDuplicate returns the first entry other than idx that duplicates
// kept[idx], or -1.
func findDuplicate(kept []core.DigestItem, idx int, threshold float64) int {
	target := kept[idx]
	canonical := Canonicalize(target.URL)
	for i, item := range kept {
		if i == idx {
			continue
		}
		if canonical != "" && Canonicalize(item.URL) == canonical {
			return i
		}
		if TitleSimilarity(item.Title, target.Title) >= threshold {
			return i
		}
	}
	return -1
}

// Domain returns the URL host without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// CapPerDomain keeps the limit highest-quality items per domain, preferring
// the earlier item on equal quality. Survivors keep their input order. Items
// without a domain are dropped.
func CapPerDomain(items []core.DigestItem, limit int) []core.DigestItem {
	byDomain := map[string][]int{}
	for i, item := range items {
		if domain := Domain(item.URL); domain != "" {
			byDomain[domain] = append(byDomain[domain], i)
		}
	}

	keep := make([]bool, len(items))
	for _, idxs := range byDomain {
		sort.SliceStable(idxs, func(a, b int) bool {
			return QualityScore(items[idxs[a]]) > QualityScore(items[idxs[b]])
		})
		for _, i := range idxs[:min(limit, len(idxs))] {
			keep[i] = true
		}
	}

	var out []core.DigestItem
	for i, item := range items {
		if keep[i] {
			out = append(out, item)
		}
	}
	return out
}

var categoryTerms = [][]string{
	2: {"regulator", "regulatory", "fca", "boe", "bank of england"},
	3: {"compliance", "sanctions", "aml", "anti-money", "financial crime"},
	4: {"pra", "prudential regulation authority"},
	5: {"insurance", "reinsurance", "broker", "syndicate", "underwriter", "coverholder", "placing"},
	6: {"financial", "rates", "markets", "bank", "treasury", "capital"},
}

// LowestCategory is the rank of items matching no category.
const LowestCategory = 7

// CategoryRank orders items by their title and URL: 0 for primary sources or
// Lloyd's-named items, 1 for secondary sources, then regulator, compliance,
// PRA, insurance-market, and general financial terms, else LowestCategory.
// Terms of three characters or fewer match whole words only.
func CategoryRank(item core.DigestItem) int {
	text := itemText(item)
	sourceID := strings.ToLower(item.SourceID)
	if strings.HasPrefix(sourceID, "primary:") || strings.Contains(text, "lloyd") {
		return 0
	}
	if strings.HasPrefix(sourceID, "secondary:") {
		return 1
	}
	for rank := 2; rank < LowestCategory; rank++ {
		if containsTerm(text, categoryTerms[rank]) {
			return rank
		}
	}
	return LowestCategory
}

// Rank sorts by category, then domain. Equal keys keep their order.
func Rank(items []core.DigestItem) []core.DigestItem {
	type keyed struct {
		item   core.DigestItem
		rank   int
		domain string
	}
	tmp := make([]keyed, len(items))
	for i, item := range items {
		tmp[i] = keyed{item: item, rank: CategoryRank(item), domain: Domain(item.URL)}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		if tmp[i].rank != tmp[j].rank {
			return tmp[i].rank < tmp[j].rank
		}
		return tmp[i].domain < tmp[j].domain
	})
	out := make([]core.DigestItem, len(tmp))
	for i, k := range tmp {
		out[i] = k.item
	}
	return out
}

func itemText(item core.DigestItem) string {
	return strings.ToLower(item.Title + " " + item.URL)
}

func containsTerm(text string, terms []string) bool {
	for _, term := range terms {
		if len(term) > 3 {
			if strings.Contains(text, term) {
				return true
			}
			continue
		}
		for from := 0; ; {
			i := strings.Index(text[from:], term)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(term)
			if !isWordByte(text, start-1) && !isWordByte(text, end) {
				return true
			}
			from = start + 1
		}
	}
	return false
}

func isWordByte(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return false
	}
	c := text[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
