package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/quality"
	"lloydsdigest/internal/render"
)

func testDoc() render.Document {
	score := 0.9
	return render.Document{
		RunDate: time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC),
		Items: []core.DigestItem{
			{Title: "First story", URL: "https://a.example/1", Topic: "Market", Score: &score, Summary: []string{"Point one"}},
			{Title: "Second story", URL: "https://b.example/2", Topic: "Regulation", WhyItMatters: "Capital rules change"},
		},
	}
}

func press(m tea.Model, key string) tea.Model {
	var msg tea.KeyMsg
	switch key {
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, _ := m.Update(msg)
	return next
}

func TestModelNavigation(t *testing.T) {
	var m tea.Model = NewModel(testDoc())

	m = press(m, "up")
	if got := m.(Model).Selected(); got != 0 {
		t.Errorf("selection should not move above the first item, got %d", got)
	}
	m = press(m, "down")
	m = press(m, "j")
	if got := m.(Model).Selected(); got != 1 {
		t.Errorf("selection should stop at the last item, got %d", got)
	}
	m = press(m, "k")
	if got := m.(Model).Selected(); got != 0 {
		t.Errorf("expected selection 0 after k, got %d", got)
	}
	m = press(m, "G")
	if got := m.(Model).Selected(); got != 1 {
		t.Errorf("expected selection 1 after G, got %d", got)
	}
}

func TestModelQuit(t *testing.T) {
	m := NewModel(testDoc())
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("expected a quit command")
	}
	if next.View() != "Quitting...\n" {
		t.Errorf("unexpected view after quit: %q", next.View())
	}
}

func TestModelView(t *testing.T) {
	m := NewModel(testDoc())
	view := m.View()
	for _, want := range []string{"First story", "Second story", "Point one", "0.90"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if !strings.Contains(next.View(), "Capital rules change") {
		t.Error("detail pane should follow the selection")
	}
}

func TestModelView_Empty(t *testing.T) {
	m := NewModel(render.Document{})
	if !strings.Contains(m.View(), "No items in this digest.") {
		t.Error("expected empty digest message")
	}
}

func TestHealthTable(t *testing.T) {
	if !strings.Contains(HealthTable(nil), "No methods") {
		t.Error("expected empty message")
	}

	out := HealthTable([]quality.MethodHealth{
		{Domain: "slow.example", Method: "readability", SuccessRate: 0.2, Attempts: 10, DriftFlag: true},
		{Domain: "ok.example", Method: "paragraph_density", SuccessRate: 0.9, Attempts: 4},
	})
	for _, want := range []string{"Domain", "slow.example", "paragraph_density", "0.20", "0.90", "10", "drift"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(strings.TrimRight(out, "\n"), "\n"); lines != 2 {
		t.Errorf("expected header plus 2 rows, got %d line breaks", lines+1)
	}
}
