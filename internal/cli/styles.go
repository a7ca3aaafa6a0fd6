package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/mutacheck/internal/model"
)

// Color palette.
var (
	colorRed    = lipgloss.Color("#ff5555")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorYellow = lipgloss.Color("#f1fa8c")
	colorOrange = lipgloss.Color("#ffb86c")
	colorPurple = lipgloss.Color("#bd93f9")
	colorDim    = lipgloss.Color("#6272a4")
)

// Style definitions.
var (
	classStyle = lipgloss.NewStyle().
			Bold(true)

	checkerStyle = lipgloss.NewStyle().
			Foreground(colorPurple)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)
)

func verdictStyle(v model.Verdict) lipgloss.Style {
	switch v {
	case model.DefinitelyImmutable:
		return lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	case model.ProbablyImmutable:
		return lipgloss.NewStyle().Foreground(colorYellow)
	case model.MaybeImmutable:
		return lipgloss.NewStyle().Foreground(colorOrange)
	default:
		return lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	}
}

func verdictIcon(v model.Verdict) string {
	switch v {
	case model.DefinitelyImmutable:
		return "✓ "
	case model.ProbablyImmutable:
		return "~ "
	case model.MaybeImmutable:
		return "? "
	default:
		return "✗ "
	}
}
