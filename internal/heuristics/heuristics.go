// Package heuristics decides whether extracted text is long enough to be an article.
package heuristics

import (
	"math"
	"strings"
	"unicode/utf8"

	"lloydsdigest/internal/core"
)

// Thresholds bound the minimum size of acceptable article text.
type Thresholds struct {
	MinChars int
	MinWords int
}

// DefaultThresholds returns 400 characters and 60 words.
func DefaultThresholds() Thresholds {
	return Thresholds{MinChars: 400, MinWords: 60}
}

// EvaluateText scores text against the thresholds. The score is the smaller of
// chars/MinChars and words/MinWords, so it is >= 1 exactly when the text is accepted.
func EvaluateText(text string, th Thresholds) (core.Decision, float64) {
	if th.MinChars <= 0 || th.MinWords <= 0 {
		th = DefaultThresholds()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return core.DecisionTooShort, 0
	}

	chars := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	score := math.Min(float64(chars)/float64(th.MinChars), float64(words)/float64(th.MinWords))

	if chars < th.MinChars || words < th.MinWords {
		return core.DecisionTooShort, score
	}
	return core.DecisionAccept, score
}
