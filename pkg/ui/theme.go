package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette (Dracula-ish, adaptive for light terminals)
var (
	ColorBg          = lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#282a36"}
	ColorBgDark      = lipgloss.AdaptiveColor{Light: "#f0f0f0", Dark: "#1e1f29"}
	ColorBgHighlight = lipgloss.AdaptiveColor{Light: "#e6e6e6", Dark: "#44475a"}
	ColorText        = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#f8f8f2"}
	ColorSubtext     = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#bfbfbf"}
	ColorMuted       = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#6272a4"}
	ColorPrimary     = lipgloss.AdaptiveColor{Light: "#7c3aed", Dark: "#bd93f9"}
	ColorSecondary   = lipgloss.AdaptiveColor{Light: "#b58900", Dark: "#f1fa8c"}
	ColorHighlight   = lipgloss.AdaptiveColor{Light: "#0077aa", Dark: "#8be9fd"}
	ColorBorder      = lipgloss.AdaptiveColor{Light: "#cccccc", Dark: "#44475a"}
	ColorSuccess     = lipgloss.AdaptiveColor{Light: "#2e8b57", Dark: "#50fa7b"}
	ColorDanger      = lipgloss.AdaptiveColor{Light: "#cc0000", Dark: "#ff5555"}
	ColorUser        = lipgloss.AdaptiveColor{Light: "#d14d00", Dark: "#ffb86c"}
	ColorAssistant   = lipgloss.AdaptiveColor{Light: "#0077aa", Dark: "#8be9fd"}

	// Blackboard value kinds
	ColorKey    = lipgloss.AdaptiveColor{Light: "#7c3aed", Dark: "#ff79c6"}
	ColorString = lipgloss.AdaptiveColor{Light: "#2e8b57", Dark: "#f1fa8c"}
	ColorNumber = lipgloss.AdaptiveColor{Light: "#b35900", Dark: "#bd93f9"}
	ColorBool   = lipgloss.AdaptiveColor{Light: "#0077aa", Dark: "#8be9fd"}
	ColorNull   = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#6272a4"}
)

// Theme bundles colors and base styles bound to one lipgloss renderer, so
// output adapts to the terminal the program actually writes to.
type Theme struct {
	Renderer *lipgloss.Renderer

	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Highlight lipgloss.AdaptiveColor
	Muted     lipgloss.AdaptiveColor
	Subtext   lipgloss.AdaptiveColor
	Text      lipgloss.AdaptiveColor
	Border    lipgloss.AdaptiveColor
	Success   lipgloss.AdaptiveColor
	Danger    lipgloss.AdaptiveColor

	User      lipgloss.AdaptiveColor
	Assistant lipgloss.AdaptiveColor

	Key    lipgloss.AdaptiveColor
	String lipgloss.AdaptiveColor
	Number lipgloss.AdaptiveColor
	Bool   lipgloss.AdaptiveColor
	Null   lipgloss.AdaptiveColor

	Base         lipgloss.Style
	Selected     lipgloss.Style
	Panel        lipgloss.Style
	FocusedPanel lipgloss.Style
	Title        lipgloss.Style
}

// DefaultTheme builds the stock theme for r. A nil renderer means
// lipgloss.DefaultRenderer().
func DefaultTheme(r *lipgloss.Renderer) Theme {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	t := Theme{
		Renderer:  r,
		Primary:   ColorPrimary,
		Secondary: ColorSecondary,
		Highlight: ColorHighlight,
		Muted:     ColorMuted,
		Subtext:   ColorSubtext,
		Text:      ColorText,
		Border:    ColorBorder,
		Success:   ColorSuccess,
		Danger:    ColorDanger,
		User:      ColorUser,
		Assistant: ColorAssistant,
		Key:       ColorKey,
		String:    ColorString,
		Number:    ColorNumber,
		Bool:      ColorBool,
		Null:      ColorNull,
	}

	t.Base = r.NewStyle().Foreground(t.Text)
	t.Selected = r.NewStyle().
		Background(ColorBgHighlight).
		Bold(true)
	t.Panel = r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border)
	t.FocusedPanel = t.Panel.BorderForeground(t.Primary)
	t.Title = r.NewStyle().
		Foreground(t.Primary).
		Bold(true)
	return t
}

// PanelStyle returns the border style for a panel with the given focus.
func (t Theme) PanelStyle(focused bool) lipgloss.Style {
	if focused {
		return t.FocusedPanel
	}
	return t.Panel
}
