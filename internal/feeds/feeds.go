// Package feeds discovers candidate article URLs from RSS feeds and listing
// pages.
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/fetch"
	"lloydsdigest/internal/logger"
	"lloydsdigest/internal/sources"
)

// Fetcher retrieves a feed or listing page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (core.FetchResult, error)
}

// CandidateStore records discovered candidates.
type CandidateStore interface {
	InsertCandidate(ctx context.Context, candidate core.Candidate) error
}

// Options configures discovery.
type Options struct {
	// AllowExternal keeps listing links that leave the source's domain.
	AllowExternal bool
}

// Discoverer turns sources into candidates.
type Discoverer struct {
	fetcher Fetcher
	store   CandidateStore
	opts    Options
	now     func() time.Time
	log     *slog.Logger
}

// NewDiscoverer creates a discoverer using fetcher for all page loads.
func NewDiscoverer(fetcher Fetcher, opts Options) *Discoverer {
	return &Discoverer{
		fetcher: fetcher,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.Get(),
	}
}

// WithStore records every new candidate in store.
func (d *Discoverer) WithStore(store CandidateStore) *Discoverer {
	d.store = store
	return d
}

// Discover runs RSS discovery over every rss source, then listing discovery
// over every listing source. Candidates are unique by id across both. A
// failing source is logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, runID string, all []core.Source) []core.Candidate {
	seen := map[string]bool{}
	var out []core.Candidate

	add := func(found []core.Candidate) {
		for _, c := range found {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if d.store != nil {
				if err := d.store.InsertCandidate(ctx, c); err != nil {
					d.log.Warn("Failed to store candidate", "candidate_id", c.ID, "url", c.URL, "error", err.Error())
				}
			}
			out = append(out, c)
		}
	}

	for _, src := range sources.ByPageType(all, sources.PageTypeRSS) {
		found, err := d.DiscoverRSS(ctx, runID, src)
		if err != nil {
			d.log.Warn("Feed failed", "url", src.URL, "source_id", src.SourceID(), "error", err.Error())
			continue
		}
		d.log.Debug("Parsed feed", "source_id", src.SourceID(), "entries", len(found))
		add(found)
	}
	for _, src := range sources.ByPageType(all, sources.PageTypeListing) {
		found, err := d.DiscoverListing(ctx, runID, src)
		if err != nil {
			d.log.Warn("Listing failed", "url", src.URL, "source_id", src.SourceID(), "error", err.Error())
			continue
		}
		d.log.Debug("Parsed listing", "source_id", src.SourceID(), "links", len(found))
		add(found)
	}

	d.log.Info("Discovered candidates", "count", len(out))
	return out
}

// DiscoverRSS fetches and parses one feed.
func (d *Discoverer) DiscoverRSS(ctx context.Context, runID string, src core.Source) ([]core.Candidate, error) {
	res, err := d.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(res.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return FeedCandidates(feed, src, runID, d.now()), nil
}

// FeedCandidates builds one candidate per feed entry that has a link.
func FeedCandidates(feed *gofeed.Feed, src core.Source, runID string, now time.Time) []core.Candidate {
	var out []core.Candidate
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		canonical := fetch.CanonicalURL(item.Link)
		metadata := baseMetadata(src, runID, canonical)
		metadata["entry_id"] = item.GUID
		metadata["summary"] = item.Description
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			metadata["author"] = item.Authors[0].Name
		}

		out = append(out, core.Candidate{
			ID:           fetch.CandidateID(canonical),
			SourceID:     src.SourceID(),
			URL:          canonical,
			Title:        strings.TrimSpace(item.Title),
			PublishedAt:  entryTime(item),
			DiscoveredAt: now,
			Metadata:     metadata,
		})
	}
	return out
}

// entryTime prefers the published date, then the updated date.
func entryTime(item *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
		if t != nil && !t.IsZero() {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// DiscoverListing fetches a listing page and keeps its article links.
func (d *Discoverer) DiscoverListing(ctx context.Context, runID string, src core.Source) ([]core.Candidate, error) {
	res, err := d.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	links, err := ExtractLinks(res.Content)
	if err != nil {
		return nil, err
	}
	return ListingCandidates(links, src, runID, d.opts.AllowExternal, d.now()), nil
}

// Link is an anchor found on a listing page.
type Link struct {
	Href string
	Text string
}

// ExtractLinks returns every <a href> with its whitespace-collapsed text.
func ExtractLinks(html []byte) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href = strings.TrimSpace(href); href == "" {
			return
		}
		links = append(links, Link{Href: href, Text: strings.Join(strings.Fields(s.Text()), " ")})
	})
	return links, nil
}

// ListingCandidates resolves links against the listing URL and keeps http(s)
// links on the source's domain or its subdomains.
func ListingCandidates(links []Link, src core.Source, runID string, allowExternal bool, now time.Time) []core.Candidate {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var out []core.Candidate
	for _, link := range links {
		ref, err := url.Parse(link.Href)
		if err != nil {
			continue
		}
		absolute := base.ResolveReference(ref)
		if absolute.Scheme != "http" && absolute.Scheme != "https" {
			continue
		}
		if !allowExternal && !SameDomain(absolute.Host, src.Domain) {
			continue
		}

		canonical := fetch.CanonicalURL(absolute.String())
		id := fetch.CandidateID(canonical)
		if seen[id] {
			continue
		}
		seen[id] = true

		metadata := baseMetadata(src, runID, canonical)
		if link.Text != "" {
			metadata["anchor_text"] = link.Text
		}
		out = append(out, core.Candidate{
			ID:           id,
			SourceID:     src.SourceID(),
			URL:          canonical,
			Title:        link.Text,
			DiscoveredAt: now,
			Metadata:     metadata,
		})
	}
	return out
}

// SameDomain reports whether host is domain or one of its subdomains.
func SameDomain(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func baseMetadata(src core.Source, runID, canonical string) map[string]any {
	return map[string]any{
		"topics":        src.Topics,
		"source_type":   src.SourceType,
		"page_type":     src.PageType,
		"run_id":        runID,
		"canonical_url": canonical,
	}
}

// FilterRecent drops candidates published before midnight UTC of runDate
// minus maxAgeDays. Undated candidates are kept. A non-positive maxAgeDays
// disables the filter.
func FilterRecent(candidates []core.Candidate, runDate time.Time, maxAgeDays int) (kept []core.Candidate, dropped int) {
	if maxAgeDays <= 0 {
		return candidates, 0
	}
	y, m, day := runDate.UTC().Date()
	cutoff := time.Date(y, m, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -maxAgeDays)

	for _, c := range candidates {
		if c.PublishedAt != nil && c.PublishedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped
}
