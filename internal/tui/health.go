package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"lloydsdigest/internal/quality"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	driftStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// HealthTable renders method health rows as an aligned terminal table.
// Rates below 0.5 are highlighted and drifting domains are flagged.
func HealthTable(rows []quality.MethodHealth) string {
	if len(rows) == 0 {
		return mutedStyle.Render("No methods with enough attempts yet.")
	}

	domainWidth, methodWidth := len("Domain"), len("Method")
	for _, row := range rows {
		domainWidth = max(domainWidth, len(row.Domain))
		methodWidth = max(methodWidth, len(row.Method))
	}

	cell := func(s string, w int) string {
		return lipgloss.NewStyle().Width(w + 2).Render(s)
	}

	var sb strings.Builder
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		cell(headerStyle.Render("Domain"), domainWidth),
		cell(headerStyle.Render("Method"), methodWidth),
		cell(headerStyle.Render("Success"), 7),
		cell(headerStyle.Render("Attempts"), 8),
		headerStyle.Render("Drift"),
	))
	sb.WriteString("\n")

	for _, row := range rows {
		rate := fmt.Sprintf("%.2f", row.SuccessRate)
		if row.SuccessRate < 0.5 {
			rate = lowStyle.Render(rate)
		}
		drift := ""
		if row.DriftFlag {
			drift = driftStyle.Render("drift")
		}
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			cell(row.Domain, domainWidth),
			cell(row.Method, methodWidth),
			cell(rate, 7),
			cell(fmt.Sprintf("%d", row.Attempts), 8),
			drift,
		))
		sb.WriteString("\n")
	}
	return sb.String()
}
