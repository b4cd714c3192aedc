package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const helpGlobal = `Global
  tab       Cycle focus: threads, chat, debug
  [ / ]     Hide/show threads or debug panel
  r         Refresh thread list
  ?         Toggle this help
  q         Quit (ctrl+c anywhere)`

const helpThreads = `Threads
  j/k       Move up/down
  enter     Open thread
  n         New thread
  d         Delete highlighted thread
  m         Change model of highlighted thread
  /         Filter`

const helpChat = `Chat
  enter     Send message
  esc       Leave input (scroll with j/k)
  i         Back to input`

const helpDebug = `Blackboard
  j/k       Move up/down
  l/→       Expand or enter
  h/←       Collapse or go to parent
  space     Toggle node
  g/G       Top/bottom
  y         Copy value to clipboard`

// helpFor orders the sections so the focused pane comes first.
func helpFor(f focus) string {
	sections := []string{helpThreads, helpChat, helpDebug}
	switch f {
	case focusChat:
		sections = []string{helpChat, helpThreads, helpDebug}
	case focusDebug:
		sections = []string{helpDebug, helpThreads, helpChat}
	}
	return strings.Join(append(sections, helpGlobal), "\n\n")
}

// RenderHelp renders the key reference modal centered in width x height.
func RenderHelp(f focus, theme Theme, width, height int) string {
	r := theme.Renderer

	modalWidth := 60
	if modalWidth > width-4 {
		modalWidth = width - 4
	}
	if modalWidth < 20 {
		modalWidth = 20
	}

	var b strings.Builder
	b.WriteString(r.NewStyle().Bold(true).Foreground(theme.Primary).Render("Quick Reference"))
	b.WriteString("\n")
	b.WriteString(r.NewStyle().Foreground(theme.Border).Render(strings.Repeat("─", modalWidth-4)))
	b.WriteString("\n\n")
	b.WriteString(r.NewStyle().Foreground(theme.Subtext).Render(helpFor(f)))
	b.WriteString("\n\n")
	b.WriteString(r.NewStyle().Foreground(theme.Muted).Italic(true).Render("Esc or ? to close"))

	modal := r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Secondary).
		Padding(1, 2).
		Width(modalWidth).
		Render(b.String())

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}
