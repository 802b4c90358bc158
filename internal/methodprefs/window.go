package methodprefs

import "sort"

// HistorySize is the number of recent duration samples kept per domain and method.
const HistorySize = 25

// AppendDuration adds a sample and trims the history to the most recent HistorySize entries.
func AppendDuration(history []int64, durationMS int64) []int64 {
	history = append(history, durationMS)
	if len(history) > HistorySize {
		history = history[len(history)-HistorySize:]
	}
	return history
}

// Median returns the middle of the sorted samples, or the truncated mean of the
// two middle values for an even count. ok is false for an empty history.
func Median(history []int64) (value int64, ok bool) {
	if len(history) == 0 {
		return 0, false
	}
	sorted := append([]int64(nil), history...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}
