// Package methodprefs chooses the preferred extraction method for a domain
// from its historical attempt statistics.
//
// The selection is exploit-biased with hysteresis: a new primary method must
// beat the incumbent by a margin, and a freshly promoted method is locked in
// for a cooldown period regardless of later evidence.
package methodprefs

import (
	"fmt"
	"sort"
	"time"

	"lloydsdigest/internal/core"
)

// Options tunes the selection policy.
type Options struct {
	MinAttempts    int
	Cooldown       time.Duration
	PromoteMargin  float64
	MinSuccessRate float64
}

// DefaultOptions returns the production policy.
func DefaultOptions() Options {
	return Options{
		MinAttempts:    3,
		Cooldown:       24 * time.Hour,
		PromoteMargin:  0.15,
		MinSuccessRate: 0.4,
	}
}

// Select returns the next prefs for domain given its stats, the current prefs
// (nil when none exist) and now. It returns current unchanged when no method
// has enough attempts or when current is still locked.
func Select(domain string, stats []core.MethodStats, current *core.MethodPrefs, now time.Time, opts Options) *core.MethodPrefs {
	eligible := make([]core.MethodStats, 0, len(stats))
	for _, s := range stats {
		if s.Attempts >= opts.MinAttempts {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return current
	}

	Rank(eligible)
	best := eligible[0]

	if current != nil && current.LockedUntil != nil && current.LockedUntil.After(now) {
		return current
	}

	if current != nil {
		if cur, ok := find(eligible, current.PrimaryMethod); ok {
			if best.Method != cur.Method && best.SuccessRate() >= cur.SuccessRate()+opts.PromoteMargin {
				return build(domain, best, eligible, now, timePtr(now.Add(opts.Cooldown)), opts)
			}
			changedAt := now
			if current.LastChangedAt != nil {
				changedAt = *current.LastChangedAt
			}
			return build(domain, cur, eligible, changedAt, current.LockedUntil, opts)
		}
	}

	return build(domain, best, eligible, now, timePtr(now.Add(opts.Cooldown)), opts)
}

// Rank sorts stats by success rate descending, then median duration ascending.
// A missing median sorts as zero. Ties keep their input order.
func Rank(stats []core.MethodStats) {
	sort.SliceStable(stats, func(i, j int) bool {
		ri, rj := stats[i].SuccessRate(), stats[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return median(stats[i]) < median(stats[j])
	})
}

func build(domain string, primary core.MethodStats, eligible []core.MethodStats, changedAt time.Time, lockedUntil *time.Time, opts Options) *core.MethodPrefs {
	fallback := make([]string, 0, len(eligible)-1)
	for _, s := range eligible {
		if s.Method != primary.Method {
			fallback = append(fallback, s.Method)
		}
	}

	rate := primary.SuccessRate()
	prefs := &core.MethodPrefs{
		Domain:          domain,
		PrimaryMethod:   primary.Method,
		FallbackMethods: fallback,
		Confidence:      rate,
		LastChangedAt:   timePtr(changedAt),
		LockedUntil:     lockedUntil,
		DriftFlag:       rate < opts.MinSuccessRate,
	}
	if prefs.DriftFlag {
		prefs.DriftNotes = fmt.Sprintf("primary_success_rate=%.2f", rate)
	}
	return prefs
}

func find(stats []core.MethodStats, method string) (core.MethodStats, bool) {
	for _, s := range stats {
		if s.Method == method {
			return s, true
		}
	}
	return core.MethodStats{}, false
}

func median(s core.MethodStats) int64 {
	if s.MedianDurationMS == nil {
		return 0
	}
	return *s.MedianDurationMS
}

func timePtr(t time.Time) *time.Time {
	return &t
}
