package digest

import (
	"strings"

	"lloydsdigest/internal/core"
)

// SocialOptions configures the social-post view.
type SocialOptions struct {
	Limit     int
	MinLondon int
}

func DefaultSocialOptions() SocialOptions {
	return SocialOptions{Limit: 12, MinLondon: 3}
}

var (
	londonCues  = []string{"lloyd", "syndicate", "broker", "lma", "london market", "ppl", "whitespace", "coverholder", "managing agent"}
	warningCues = []string{"fca", "financial conduct authority", "warning"}
)

// IsLondonMarket reports whether an item mentions a London market cue.
func IsLondonMarket(item core.DigestItem) bool {
	return containsAny(socialText(item), londonCues)
}

// IsRegulatorWarning reports whether an item looks like a regulator warning.
func IsRegulatorWarning(item core.DigestItem) bool {
	return containsAny(socialText(item), warningCues)
}

// SocialView reorders a ranked digest for a short social post: regulator
// warnings move to the end, the first MinLondon London-market items lead,
// and the rest follow in order up to Limit.
func SocialView(items []core.DigestItem, opts SocialOptions) []core.DigestItem {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSocialOptions().Limit
	}
	if opts.MinLondon < 0 {
		opts.MinLondon = 0
	}

	var regular, warnings []core.DigestItem
	for _, item := range items {
		if IsRegulatorWarning(item) {
			warnings = append(warnings, item)
		} else {
			regular = append(regular, item)
		}
	}
	ordered := append(regular, warnings...)

	picked := make([]bool, len(ordered))
	out := make([]core.DigestItem, 0, opts.Limit)
	for i, item := range ordered {
		if len(out) >= opts.MinLondon || len(out) >= opts.Limit {
			break
		}
		if IsLondonMarket(item) {
			out = append(out, item)
			picked[i] = true
		}
	}
	for i, item := range ordered {
		if len(out) >= opts.Limit {
			break
		}
		if !picked[i] {
			out = append(out, item)
		}
	}
	return out
}

func socialText(item core.DigestItem) string {
	parts := []string{item.Title, item.WhyItMatters, item.URL, item.SourceID, strings.Join(item.Summary, " ")}
	return strings.ToLower(strings.Join(parts, " "))
}
