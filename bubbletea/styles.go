package bubbletea

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/paystream"
)

// Styles maps a Theme to lipgloss styles for TUI rendering.
type Styles struct {
	Title     lipgloss.Style
	Streaming lipgloss.Style
	Paused    lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Muted     lipgloss.Style
	Accent    lipgloss.Style

	// ProgressColor is the fill color of the playback bar.
	ProgressColor string
}

// NewStyles creates Styles from a Theme.
func NewStyles(t paystream.Theme) Styles {
	return Styles{
		Title:         lipgloss.NewStyle().Foreground(ansiColor(t.Title)).Bold(true),
		Streaming:     lipgloss.NewStyle().Foreground(ansiColor(t.Streaming)),
		Paused:        lipgloss.NewStyle().Foreground(ansiColor(t.Paused)),
		Error:         lipgloss.NewStyle().Foreground(ansiColor(t.Error)),
		Success:       lipgloss.NewStyle().Foreground(ansiColor(t.Success)).Bold(true),
		Muted:         lipgloss.NewStyle().Foreground(ansiColor(t.Muted)).Faint(true),
		Accent:        lipgloss.NewStyle().Foreground(ansiColor(t.Accent)).Bold(true),
		ProgressColor: strconv.Itoa(max(t.Progress, 0)),
	}
}

func ansiColor(index int) lipgloss.TerminalColor {
	if index < 0 {
		return lipgloss.NoColor{}
	}
	return lipgloss.Color(strconv.Itoa(index))
}
