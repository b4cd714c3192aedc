package ui

import (
	"log/slog"
	"strings"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

// maxTreeSectionRatio caps the behavior-tree section at this share of the
// panel height so the blackboard stays usable.
const maxTreeSectionRatio = 0.4

// DebugPanelModel shows what the agent is doing: tree description,
// behavior-tree visualization and the blackboard.
type DebugPanelModel struct {
	theme Theme
	md    *MarkdownRenderer
	tree  BlackboardTreeModel
	log   *slog.Logger

	description string
	treeHTML    string
	treeView    string // rendered treeHTML, cached per input

	width  int
	height int
}

// NewDebugPanelModel creates an empty panel. A nil logger uses slog.Default().
func NewDebugPanelModel(theme Theme, opts RenderOptions, logger *slog.Logger) DebugPanelModel {
	if logger == nil {
		logger = slog.Default()
	}
	return DebugPanelModel{
		theme: theme,
		md:    NewMarkdownRendererWithTheme(40, theme),
		tree:  NewBlackboardTreeModel(theme, opts),
		log:   logger,
	}
}

// Tree gives access to the blackboard view
func (d *DebugPanelModel) Tree() *BlackboardTreeModel {
	return &d.tree
}

// Reset clears the panel for a new thread
func (d *DebugPanelModel) Reset(threadID string) {
	d.description = ""
	d.treeHTML = ""
	d.treeView = ""
	d.tree.Reset(threadID)
	d.layout()
}

// SetState shows a freshly synced state
func (d *DebugPanelModel) SetState(description, treeHTML string, blackboard model.Value) {
	d.description = description
	if treeHTML != d.treeHTML {
		d.treeHTML = treeHTML
		d.treeView = d.renderTreeHTML(treeHTML)
	}
	d.tree.SetSnapshot(blackboard)
	d.layout()
}

func (d *DebugPanelModel) renderTreeHTML(html string) string {
	md, err := TreeHTMLToMarkdown(html)
	if err != nil {
		d.log.Warn("ui: tree html conversion failed", "error", err)
		return html
	}
	if md == "" {
		return ""
	}
	out, err := d.md.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}

// SetSize updates the panel dimensions
func (d *DebugPanelModel) SetSize(width, height int) {
	d.width = width
	d.height = height
	if d.md.width != width && width > 0 {
		d.md.SetWidth(width)
		if d.treeHTML != "" {
			d.treeView = d.renderTreeHTML(d.treeHTML)
		}
	}
	d.layout()
}

func (d *DebugPanelModel) layout() {
	used := len(d.headerLines()) + len(d.treeLines()) + 1 // "State" heading
	h := d.height - used
	if h < 3 {
		h = 3
	}
	d.tree.SetSize(d.width, h)
}

func (d *DebugPanelModel) headerLines() []string {
	r := d.theme.Renderer
	lines := []string{d.theme.Title.Render("Debug Panel")}
	if d.description != "" {
		desc := r.NewStyle().Width(d.width).Foreground(d.theme.Subtext).Render(d.description)
		lines = append(lines, strings.Split(desc, "\n")...)
	}
	return lines
}

func (d *DebugPanelModel) treeLines() []string {
	if d.treeView == "" {
		return nil
	}
	heading := d.theme.Renderer.NewStyle().Foreground(d.theme.Secondary).Bold(true).Render("Behavior Tree")
	lines := append([]string{"", heading}, strings.Split(d.treeView, "\n")...)
	if limit := int(float64(d.height) * maxTreeSectionRatio); limit > 2 && len(lines) > limit {
		lines = append(lines[:limit-1], d.theme.Renderer.NewStyle().Foreground(d.theme.Muted).Render("…"))
	}
	return lines
}

// View renders the panel
func (d *DebugPanelModel) View() string {
	lines := d.headerLines()
	lines = append(lines, d.treeLines()...)
	heading := d.theme.Renderer.NewStyle().Foreground(d.theme.Secondary).Bold(true).Render("State")
	lines = append(lines, heading)
	return strings.Join(lines, "\n") + "\n" + d.tree.View()
}
