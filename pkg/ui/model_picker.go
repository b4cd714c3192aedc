package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ModelPickerModel is the modal for switching a thread's model
type ModelPickerModel struct {
	threadID      string
	models        []string
	current       string // model the thread runs now
	selectedIndex int
	width         int
	height        int
	theme         Theme
}

// NewModelPickerModel lists models for threadID with current highlighted.
// A current model missing from the catalog is listed first so it stays
// selectable.
func NewModelPickerModel(threadID, current string, models []string, theme Theme) ModelPickerModel {
	list := append([]string(nil), models...)
	selected := -1
	for i, name := range list {
		if name == current {
			selected = i
			break
		}
	}
	if selected < 0 && current != "" {
		list = append([]string{current}, list...)
		selected = 0
	}
	if selected < 0 {
		selected = 0
	}
	return ModelPickerModel{
		threadID:      threadID,
		models:        list,
		current:       current,
		selectedIndex: selected,
		theme:         theme,
	}
}

// ThreadID returns the thread the picker applies to
func (m *ModelPickerModel) ThreadID() string {
	return m.threadID
}

// SetSize updates the picker dimensions
func (m *ModelPickerModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// MoveUp moves selection up
func (m *ModelPickerModel) MoveUp() {
	if m.selectedIndex > 0 {
		m.selectedIndex--
	}
}

// MoveDown moves selection down
func (m *ModelPickerModel) MoveDown() {
	if m.selectedIndex < len(m.models)-1 {
		m.selectedIndex++
	}
}

// SelectedModel returns the highlighted model name, or "" when the catalog
// is empty.
func (m *ModelPickerModel) SelectedModel() string {
	if m.selectedIndex >= 0 && m.selectedIndex < len(m.models) {
		return m.models[m.selectedIndex]
	}
	return ""
}

// Changed reports whether the selection differs from the current model
func (m *ModelPickerModel) Changed() bool {
	sel := m.SelectedModel()
	return sel != "" && sel != m.current
}

// View renders the picker overlay
func (m *ModelPickerModel) View() string {
	width, height := m.width, m.height
	if width == 0 {
		width = 60
	}
	if height == 0 {
		height = 20
	}
	t := m.theme

	boxWidth := 40
	if width < 50 {
		boxWidth = width - 10
	}
	if boxWidth < 25 {
		boxWidth = 25
	}

	var lines []string
	titleStyle := t.Renderer.NewStyle().
		Foreground(t.Primary).
		Bold(true)
	lines = append(lines, titleStyle.Render("Change Model"))
	lines = append(lines, t.Renderer.NewStyle().Foreground(t.Muted).Render("thread "+shortID(m.threadID)))
	lines = append(lines, "")

	if len(m.models) == 0 {
		lines = append(lines, t.Renderer.NewStyle().Foreground(t.Muted).Render("No models available"))
	}
	for i, name := range m.models {
		isSelected := i == m.selectedIndex

		itemStyle := t.Renderer.NewStyle()
		prefix := "  "
		if isSelected {
			itemStyle = itemStyle.Foreground(t.Primary).Bold(true)
			prefix = "> "
		} else {
			itemStyle = itemStyle.Foreground(t.Base.GetForeground())
		}

		suffix := ""
		if name == m.current {
			suffix = " " + t.Renderer.NewStyle().Foreground(t.Success).Render("✓")
		}
		lines = append(lines, itemStyle.Render(prefix+name)+suffix)
	}

	lines = append(lines, "")
	footerStyle := t.Renderer.NewStyle().
		Foreground(t.Secondary).
		Italic(true)
	lines = append(lines, footerStyle.Render("j/k: navigate | enter: apply | esc: cancel"))

	box := t.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Primary).
		Padding(1, 2).
		Width(boxWidth).
		Render(strings.Join(lines, "\n"))

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}
