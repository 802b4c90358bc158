// Package quality reports on the health of extraction methods, run coverage,
// and the finished digest.
package quality

import (
	"sort"

	"lloydsdigest/internal/core"
)

// Defaults for BuildMethodHealth.
const (
	DefaultHealthMinAttempts = 3
	DefaultHealthMaxItems    = 10
)

// MethodHealth is one (domain, method) row of the health report.
type MethodHealth struct {
	Domain      string  `json:"domain"`
	Method      string  `json:"method"`
	SuccessRate float64 `json:"success_rate"`
	Attempts    int     `json:"attempts"`
	DriftFlag   bool    `json:"drift_flag"`
}

// HealthOptions bounds the report.
type HealthOptions struct {
	MinAttempts int
	MaxItems    int
}

// BuildMethodHealth lists the worst-performing methods first. Rows with fewer
// than MinAttempts attempts are skipped; drift flags come from the domain's
// current preferences.
func BuildMethodHealth(stats []core.DomainMethodStats, drift map[string]bool, opts HealthOptions) []MethodHealth {
	if opts.MinAttempts <= 0 {
		opts.MinAttempts = DefaultHealthMinAttempts
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultHealthMaxItems
	}

	var rows []MethodHealth
	for _, s := range stats {
		if s.Attempts < opts.MinAttempts {
			continue
		}
		rows = append(rows, MethodHealth{
			Domain:      s.Domain,
			Method:      s.Method,
			SuccessRate: s.SuccessRate(),
			Attempts:    s.Attempts,
			DriftFlag:   drift[s.Domain],
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].SuccessRate < rows[j].SuccessRate })
	if len(rows) > opts.MaxItems {
		rows = rows[:opts.MaxItems]
	}
	return rows
}
