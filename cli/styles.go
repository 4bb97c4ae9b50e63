package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/ramiradwan/simple-legal-doc/core/findings"
	"github.com/ramiradwan/simple-legal-doc/core/report"
)

var (
	// Severity colors.
	colorCritical = lipgloss.Color("#FF0000")
	colorMajor    = lipgloss.Color("#FF8C00")
	colorMinor    = lipgloss.Color("#FFD700")
	colorInfo     = lipgloss.Color("#808080")

	// Outcome colors.
	colorDeliver = lipgloss.Color("#A3BE8C")
	colorBlock   = lipgloss.Color("#BF616A")
	colorSubtle  = lipgloss.Color("#666666")

	subtleStyle  = lipgloss.NewStyle().Foreground(colorSubtle)
	deliverStyle = lipgloss.NewStyle().Bold(true).Foreground(colorDeliver)
	blockStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorBlock)
	neutralStyle = lipgloss.NewStyle().Bold(true).Foreground(colorMinor)
)

// styledOutput reports whether stdout is a terminal that should receive
// styled text.
func styledOutput() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func subtle(s string) string {
	if !styledOutput() {
		return s
	}
	return subtleStyle.Render(s)
}

// stateBadge renders a seal lifecycle state for list display.
func stateBadge(state string) string {
	if !styledOutput() {
		return state
	}
	return deliverStyle.Render(state)
}

// severityBadge returns a short severity string for finding lists.
func severityBadge(sev findings.Severity) string {
	var (
		color lipgloss.Color
		label string
	)
	switch sev {
	case findings.SeverityCritical:
		color, label = colorCritical, "CRIT"
	case findings.SeverityMajor:
		color, label = colorMajor, " MAJ"
	case findings.SeverityMinor:
		color, label = colorMinor, " MIN"
	default:
		color, label = colorInfo, "INFO"
	}
	if !styledOutput() {
		return label
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(label)
}

// recommendationBadge renders the report recommendation.
func recommendationBadge(rec report.Recommendation) string {
	label := string(rec)
	if !styledOutput() {
		return label
	}
	switch rec {
	case report.RecommendationDeliver:
		return deliverStyle.Render(label)
	case report.RecommendationDoNotDeliver:
		return blockStyle.Render(label)
	default:
		return neutralStyle.Render(label)
	}
}
