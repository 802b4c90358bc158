package heuristics

import (
	"strings"
	"testing"

	"lloydsdigest/internal/core"
)

// makeText builds text of exactly `words` words and `chars` characters.
// Requires chars >= 2*words-1.
func makeText(words, chars int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = "a"
	}
	text := strings.Join(parts, " ")
	if pad := chars - len(text); pad > 0 {
		text = strings.Repeat("b", pad) + text
	}
	return text
}

func TestEvaluateTextEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t "} {
		decision, score := EvaluateText(text, DefaultThresholds())
		if decision != core.DecisionTooShort || score != 0 {
			t.Errorf("EvaluateText(%q) = (%s, %f), want (TOO_SHORT, 0)", text, decision, score)
		}
	}
}

func TestEvaluateTextBoundary(t *testing.T) {
	th := DefaultThresholds()

	exact := makeText(th.MinWords, th.MinChars)
	if len(exact) != th.MinChars || len(strings.Fields(exact)) != th.MinWords {
		t.Fatalf("bad fixture: %d chars, %d words", len(exact), len(strings.Fields(exact)))
	}
	decision, score := EvaluateText(exact, th)
	if decision != core.DecisionAccept {
		t.Errorf("expected ACCEPT at exact thresholds, got %s", decision)
	}
	if score != 1.0 {
		t.Errorf("expected score 1.0 at exact thresholds, got %f", score)
	}

	shortChar := makeText(th.MinWords, th.MinChars-1)
	if decision, score := EvaluateText(shortChar, th); decision != core.DecisionTooShort || score >= 1 {
		t.Errorf("one char short: got (%s, %f)", decision, score)
	}

	shortWord := makeText(th.MinWords-1, th.MinChars)
	if decision, score := EvaluateText(shortWord, th); decision != core.DecisionTooShort || score >= 1 {
		t.Errorf("one word short: got (%s, %f)", decision, score)
	}
}

func TestEvaluateTextScoreRatio(t *testing.T) {
	th := Thresholds{MinChars: 100, MinWords: 10}

	// 20 words, 200 chars: both ratios 2.0
	decision, score := EvaluateText(makeText(20, 200), th)
	if decision != core.DecisionAccept || score != 2.0 {
		t.Errorf("got (%s, %f), want (ACCEPT, 2.0)", decision, score)
	}

	// 5 words, 300 chars: words ratio 0.5 wins
	decision, score = EvaluateText(makeText(5, 300), th)
	if decision != core.DecisionTooShort || score != 0.5 {
		t.Errorf("got (%s, %f), want (TOO_SHORT, 0.5)", decision, score)
	}
}

func TestEvaluateTextMonotonic(t *testing.T) {
	th := DefaultThresholds()
	prev := 0.0
	for words := 60; words <= 600; words += 60 {
		text := makeText(words, words*8)
		decision, score := EvaluateText(text, th)
		if decision != core.DecisionAccept {
			t.Fatalf("expected ACCEPT for %d words", words)
		}
		if score < prev {
			t.Errorf("score decreased from %f to %f at %d words", prev, score, words)
		}
		prev = score
	}
}

func TestEvaluateTextTrimsWhitespace(t *testing.T) {
	th := DefaultThresholds()
	padded := "\n\n   " + makeText(th.MinWords, th.MinChars-1) + "    \n"
	if decision, _ := EvaluateText(padded, th); decision != core.DecisionTooShort {
		t.Errorf("surrounding whitespace must not count towards length, got %s", decision)
	}
}

func TestEvaluateTextZeroThresholdsUseDefaults(t *testing.T) {
	decision, _ := EvaluateText(makeText(60, 400), Thresholds{})
	if decision != core.DecisionAccept {
		t.Errorf("expected defaults to apply, got %s", decision)
	}
}
