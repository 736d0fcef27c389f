// Package ui renders search results and indexing status for the
// terminal. Output degrades to plain text when stdout is not a TTY.
package ui

import "github.com/charmbracelet/lipgloss"

// Color palette - single amber accent over neutral grays.
const (
	ColorAmber    = "214" // primary accent
	ColorAmberDim = "172" // dimmed accent for secondary highlights
	ColorWhite    = "255" // headers
	ColorGray     = "245" // labels, line numbers
	ColorDarkGray = "238" // separators
	ColorRed      = "196" // errors
	ColorYellow   = "220" // warnings
	ColorGreen    = "114" // completed state
)

// Styles holds the render styles.
type Styles struct {
	Header    lipgloss.Style
	Path      lipgloss.Style
	LineRange lipgloss.Style
	Score     lipgloss.Style
	Snippet   lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Dim       lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the styled components for TTY output.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Path:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAmber)),
		LineRange: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Score:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmberDim)),
		Snippet:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components for pipes and dumb terminals.
func NoColorStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle(),
		Path:      lipgloss.NewStyle(),
		LineRange: lipgloss.NewStyle(),
		Score:     lipgloss.NewStyle(),
		Snippet:   lipgloss.NewStyle(),
		Success:   lipgloss.NewStyle(),
		Warning:   lipgloss.NewStyle(),
		Error:     lipgloss.NewStyle(),
		Dim:       lipgloss.NewStyle(),
		Label:     lipgloss.NewStyle(),
	}
}

// GetStyles returns the styles matching the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
