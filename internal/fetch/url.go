package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

const utmPrefix = "utm_"

// CanonicalURL drops utm_* query parameters and the fragment. The order of
// the remaining parameters is preserved. Unparseable input is returned as is.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		var kept []string
		for _, pair := range strings.Split(u.RawQuery, "&") {
			if pair == "" {
				continue
			}
			key, _, _ := strings.Cut(pair, "=")
			if k, err := url.QueryUnescape(key); err == nil {
				key = k
			}
			if strings.HasPrefix(strings.ToLower(key), utmPrefix) {
				continue
			}
			kept = append(kept, pair)
		}
		u.RawQuery = strings.Join(kept, "&")
	}
	u.ForceQuery = false
	return u.String()
}

// CandidateID is the lowercase hex SHA-256 of an already canonical URL.
func CandidateID(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// CacheKey is the fetch cache key for a fetcher name and URL.
func CacheKey(fetcher, rawURL string) string {
	sum := sha256.Sum256([]byte(fetcher + "|" + CanonicalURL(rawURL)))
	return hex.EncodeToString(sum[:])
}
