// Package tui provides a terminal review of a rendered digest.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lloydsdigest/internal/render"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Model is the review state for one digest document.
type Model struct {
	doc         render.Document
	selectedIdx int
	width       int
	height      int
	quitting    bool
}

// NewModel returns a review model positioned on the first item.
func NewModel(doc render.Document) Model {
	return Model{doc: doc, width: 100}
}

// Selected returns the index of the highlighted item.
func (m Model) Selected() int {
	return m.selectedIdx
}

// Init is the first command that will be run. We don't need any.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model accordingly.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.selectedIdx < len(m.doc.Items)-1 {
				m.selectedIdx++
			}
		case "home", "g":
			m.selectedIdx = 0
		case "end", "G":
			if n := len(m.doc.Items); n > 0 {
				m.selectedIdx = n - 1
			}
		}
	}
	return m, nil
}

// View renders the list pane and the detail pane side by side.
func (m Model) View() string {
	if m.quitting {
		return "Quitting...\n"
	}

	paneWidth := m.width/2 - 5
	if paneWidth < 20 {
		paneWidth = 20
	}
	docStyle := lipgloss.NewStyle().Margin(1, 2)
	listStyle := lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(1).Width(paneWidth)
	detailStyle := lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(1).Width(paneWidth)

	var list strings.Builder
	list.WriteString(titleStyle.Render("Digest "+m.doc.RunDate.Format("2006-01-02")) + "\n\n")
	if len(m.doc.Items) == 0 {
		list.WriteString("No items in this digest.")
	}
	for i, item := range m.doc.Items {
		line := fmt.Sprintf("%2d. %s", i+1, item.Title)
		if i == m.selectedIdx {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		list.WriteString(line + "\n")
	}

	leftPane := listStyle.Render(list.String())
	rightPane := detailStyle.Render(m.detail())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	help := mutedStyle.Render("\n\n[↑/k] Up | [↓/j] Down | [g/G] First/Last | [q] Quit")
	return docStyle.Render(mainContent + help)
}

func (m Model) detail() string {
	if m.selectedIdx >= len(m.doc.Items) {
		return "Nothing selected."
	}
	item := m.doc.Items[m.selectedIdx]

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(item.Title) + "\n")
	sb.WriteString(mutedStyle.Render(item.URL) + "\n\n")
	score := "n/a"
	if item.Score != nil {
		score = fmt.Sprintf("%.2f", *item.Score)
	}
	sb.WriteString(fmt.Sprintf("Topic: %s\nSource: %s\nScore: %s\n", item.Topic, item.SourceType, score))
	if item.WhyItMatters != "" {
		sb.WriteString("\nWhy it matters: " + item.WhyItMatters + "\n")
	}
	if len(item.Summary) > 0 {
		sb.WriteString("\n")
		for _, bullet := range item.Summary {
			sb.WriteString("• " + bullet + "\n")
		}
	}
	return sb.String()
}

// Run starts the review program and blocks until the user quits.
func Run(doc render.Document) error {
	p := tea.NewProgram(NewModel(doc), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running review: %w", err)
	}
	return nil
}
