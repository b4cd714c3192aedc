// blackboard_tree.go - collapsible view of the agent blackboard
package ui

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/expansion"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// DefaultTruncateLength is how many runes of a collapsed large string are
// shown before the ellipsis.
const DefaultTruncateLength = 80

const ellipsis = "..."

// Expander answers whether the node at a path is expanded.
// *expansion.Model satisfies it.
type Expander interface {
	Expanded(p model.Path) bool
}

// RenderOptions control how values are summarized
type RenderOptions struct {
	LargeStringThreshold int
	TruncateLength       int
}

// DefaultRenderOptions returns the stock display settings
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		LargeStringThreshold: expansion.DefaultLargeStringThreshold,
		TruncateLength:       DefaultTruncateLength,
	}
}

func (o RenderOptions) expansionOptions() expansion.Options {
	return expansion.Options{LargeStringThreshold: o.LargeStringThreshold}
}

func (o RenderOptions) truncateLength() int {
	if o.TruncateLength <= 0 {
		return DefaultTruncateLength
	}
	return o.TruncateLength
}

// DisplayNode is one rendered blackboard node. Composites and large strings
// carry a toggle bound to Path; children are only present when expanded.
type DisplayNode struct {
	Path     model.Path
	Label    string // mapping key, sequence index, or "root"
	Kind     model.Kind
	Value    model.Value
	Summary  string // "Object{2}", "Array[3]", "String[150]"; empty for plain scalars
	Text     string // scalar text; truncated for collapsed large strings
	Toggle   bool
	Expanded bool
	Children []DisplayNode
}

// RenderBlackboard turns a snapshot into a display tree using the expansion
// state reported by exp. It does not modify its inputs.
func RenderBlackboard(snapshot model.Value, exp Expander, opts RenderOptions) DisplayNode {
	return renderValue(snapshot, model.RootPath, string(model.RootPath), exp, opts)
}

func renderValue(v model.Value, p model.Path, label string, exp Expander, opts RenderOptions) DisplayNode {
	node := DisplayNode{Path: p, Label: label, Kind: v.Kind(), Value: v}

	switch v.Kind() {
	case model.KindMapping:
		node.Toggle = true
		node.Expanded = exp.Expanded(p)
		if n := len(v.Fields()); n > 0 {
			node.Summary = fmt.Sprintf("Object{%d}", n)
		} else {
			node.Summary = "Object"
		}
		if node.Expanded {
			for _, f := range v.Fields() {
				node.Children = append(node.Children, renderValue(f.Value, p.Child(f.Key), f.Key, exp, opts))
			}
		}

	case model.KindSequence:
		node.Toggle = true
		node.Expanded = exp.Expanded(p)
		node.Summary = fmt.Sprintf("Array[%d]", len(v.Items()))
		if node.Expanded {
			for i, item := range v.Items() {
				node.Children = append(node.Children, renderValue(item, p.Index(i), fmt.Sprint(i), exp, opts))
			}
		}

	case model.KindString:
		if opts.expansionOptions().IsLargeString(v) {
			node.Toggle = true
			node.Expanded = exp.Expanded(p)
			node.Summary = fmt.Sprintf("String[%d]", v.Len())
			if node.Expanded {
				node.Text = v.Str()
			} else {
				node.Text = truncateRunes(v.Str(), opts.truncateLength()) + ellipsis
			}
		} else {
			node.Text = v.Str()
		}

	case model.KindNumber:
		node.Text = v.Number()
	case model.KindBool:
		node.Text = fmt.Sprint(v.Bool())
	default:
		node.Text = "null"
	}
	return node
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// FlatLine is one visible node in display order
type FlatLine struct {
	Node  *DisplayNode
	Depth int
	// lastAt[i] reports whether the ancestor at depth i+1 (or the node
	// itself for the final entry) is the last of its siblings.
	lastAt []bool
}

// Flatten lists the visible nodes of a display tree in depth-first order.
func Flatten(root *DisplayNode) []FlatLine {
	var out []FlatLine
	var walk func(n *DisplayNode, depth int, lastAt []bool)
	walk = func(n *DisplayNode, depth int, lastAt []bool) {
		out = append(out, FlatLine{Node: n, Depth: depth, lastAt: lastAt})
		for i := range n.Children {
			next := make([]bool, len(lastAt), len(lastAt)+1)
			copy(next, lastAt)
			next = append(next, i == len(n.Children)-1)
			walk(&n.Children[i], depth+1, next)
		}
	}
	if root != nil {
		walk(root, 0, nil)
	}
	return out
}

// BlackboardTreeModel keeps the cursor and scroll position over a rendered
// blackboard and routes toggles into the session's expansion model.
type BlackboardTreeModel struct {
	theme Theme
	opts  RenderOptions

	threadID string
	exp      *expansion.Model
	store    *expansion.Store // optional

	snapshot model.Value
	root     *DisplayNode
	flatList []FlatLine
	built    bool

	cursor         int
	viewportOffset int // first visible row
	width          int
	height         int
}

// NewBlackboardTreeModel creates an empty view
func NewBlackboardTreeModel(theme Theme, opts RenderOptions) BlackboardTreeModel {
	return BlackboardTreeModel{
		theme: theme,
		opts:  opts,
		exp:   expansion.New(opts.expansionOptions()),
	}
}

// SetStore enables persistence of user toggles per thread.
func (t *BlackboardTreeModel) SetStore(s *expansion.Store) {
	t.store = s
}

// SetSize updates the available dimensions
func (t *BlackboardTreeModel) SetSize(width, height int) {
	t.width = width
	t.height = height
}

// Reset starts a fresh expansion state for threadID and clears the data.
// Persisted toggles for the thread are restored when a store is set.
func (t *BlackboardTreeModel) Reset(threadID string) {
	t.threadID = threadID
	t.exp = expansion.New(t.opts.expansionOptions())
	if t.store != nil && threadID != "" {
		if saved := t.store.Load(threadID); saved != nil {
			t.exp.Restore(saved)
		}
	}
	t.snapshot = model.Null()
	t.root = nil
	t.flatList = nil
	t.built = false
	t.cursor = 0
	t.viewportOffset = 0
}

// SetSnapshot replaces the data. Defaults are recomputed and merged with the
// user's choices before the tree is rebuilt; the cursor stays on the same
// path when it still exists.
func (t *BlackboardTreeModel) SetSnapshot(v model.Value) {
	t.snapshot = v
	t.exp.Apply(v)
	t.rebuild()
	t.built = true
}

// SetOptions changes thresholds and re-renders the current snapshot.
func (t *BlackboardTreeModel) SetOptions(opts RenderOptions) {
	t.opts = opts
	t.exp.SetOptions(opts.expansionOptions())
	if t.built {
		t.exp.Apply(t.snapshot)
		t.rebuild()
	}
}

// Options returns the current render options
func (t *BlackboardTreeModel) Options() RenderOptions {
	return t.opts
}

// Expansion exposes the session's expansion model
func (t *BlackboardTreeModel) Expansion() *expansion.Model {
	return t.exp
}

// Root returns the last rendered display tree
func (t *BlackboardTreeModel) Root() DisplayNode {
	if t.root == nil {
		return DisplayNode{}
	}
	return *t.root
}

func (t *BlackboardTreeModel) rebuild() {
	selected := t.SelectedPath()
	root := RenderBlackboard(t.snapshot, t.exp, t.opts)
	t.root = &root
	t.flatList = Flatten(t.root)
	if selected == "" || !t.SelectByPath(selected) {
		t.clampCursor()
	}
}

func (t *BlackboardTreeModel) clampCursor() {
	if t.cursor >= len(t.flatList) {
		t.cursor = len(t.flatList) - 1
	}
	if t.cursor < 0 {
		t.cursor = 0
	}
}

// SelectedNode returns the node under the cursor, or nil
func (t *BlackboardTreeModel) SelectedNode() *DisplayNode {
	if t.cursor >= 0 && t.cursor < len(t.flatList) {
		return t.flatList[t.cursor].Node
	}
	return nil
}

// SelectedPath returns the path under the cursor, or ""
func (t *BlackboardTreeModel) SelectedPath() model.Path {
	if n := t.SelectedNode(); n != nil {
		return n.Path
	}
	return ""
}

// SelectedValue returns the full value under the cursor.
func (t *BlackboardTreeModel) SelectedValue() (model.Value, bool) {
	if n := t.SelectedNode(); n != nil {
		return n.Value, true
	}
	return model.Null(), false
}

// SelectByPath moves the cursor to path. Returns false if it is not visible.
func (t *BlackboardTreeModel) SelectByPath(p model.Path) bool {
	for i, line := range t.flatList {
		if line.Node.Path == p {
			t.cursor = i
			return true
		}
	}
	return false
}

// NodeCount returns the number of visible nodes
func (t *BlackboardTreeModel) NodeCount() int {
	return len(t.flatList)
}

// MoveDown moves the cursor down
func (t *BlackboardTreeModel) MoveDown() {
	if t.cursor < len(t.flatList)-1 {
		t.cursor++
	}
}

// MoveUp moves the cursor up
func (t *BlackboardTreeModel) MoveUp() {
	if t.cursor > 0 {
		t.cursor--
	}
}

// JumpToTop moves the cursor to the root
func (t *BlackboardTreeModel) JumpToTop() {
	t.cursor = 0
}

// JumpToBottom moves the cursor to the last visible node
func (t *BlackboardTreeModel) JumpToBottom() {
	if len(t.flatList) > 0 {
		t.cursor = len(t.flatList) - 1
	}
}

// PageDown moves the cursor down by half a page
func (t *BlackboardTreeModel) PageDown() {
	t.cursor += t.pageSize()
	t.clampCursor()
}

// PageUp moves the cursor up by half a page
func (t *BlackboardTreeModel) PageUp() {
	t.cursor -= t.pageSize()
	t.clampCursor()
}

func (t *BlackboardTreeModel) pageSize() int {
	if size := t.height / 2; size >= 1 {
		return size
	}
	return 5
}

// ToggleExpand flips the node under the cursor. Nodes without a toggle are
// left alone.
func (t *BlackboardTreeModel) ToggleExpand() bool {
	n := t.SelectedNode()
	if n == nil || !n.Toggle {
		return false
	}
	t.toggle(n.Path)
	return true
}

func (t *BlackboardTreeModel) toggle(p model.Path) {
	t.exp.Toggle(p)
	t.rebuild()
	t.SelectByPath(p)
	t.saveState()
}

func (t *BlackboardTreeModel) saveState() {
	if t.store == nil || t.threadID == "" {
		return
	}
	// Store logs its own failures
	_ = t.store.Save(t.threadID, t.exp.Overrides())
}

// JumpToParent moves the cursor to the parent node
func (t *BlackboardTreeModel) JumpToParent() {
	if p, ok := t.SelectedPath().Parent(); ok {
		t.SelectByPath(p)
	}
}

// ExpandOrMoveToChild expands a collapsed node, or moves into the first
// child of an expanded one.
func (t *BlackboardTreeModel) ExpandOrMoveToChild() {
	n := t.SelectedNode()
	if n == nil || !n.Toggle {
		return
	}
	if !n.Expanded {
		t.toggle(n.Path)
		return
	}
	if len(n.Children) > 0 {
		t.SelectByPath(n.Children[0].Path)
	}
}

// CollapseOrJumpToParent collapses an expanded node, otherwise jumps to
// its parent.
func (t *BlackboardTreeModel) CollapseOrJumpToParent() {
	n := t.SelectedNode()
	if n == nil {
		return
	}
	if n.Toggle && n.Expanded {
		t.toggle(n.Path)
		return
	}
	t.JumpToParent()
}

// treeRow is one terminal line of the view
type treeRow struct {
	node int // index into flatList
	text string
}

// View renders the visible part of the tree.
func (t *BlackboardTreeModel) View() string {
	if !t.built || len(t.flatList) == 0 {
		return t.renderEmptyState()
	}

	rows := t.buildRows()
	height := t.height
	if height <= 0 {
		height = 20
	}
	t.scrollTo(rows, height)

	end := t.viewportOffset + height
	if end > len(rows) {
		end = len(rows)
	}
	var sb strings.Builder
	for i := t.viewportOffset; i < end; i++ {
		if i > t.viewportOffset {
			sb.WriteString("\n")
		}
		sb.WriteString(rows[i].text)
	}
	return sb.String()
}

// scrollTo keeps every row of the selected node on screen when it fits.
func (t *BlackboardTreeModel) scrollTo(rows []treeRow, height int) {
	first, last := -1, -1
	for i, r := range rows {
		if r.node == t.cursor {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return
	}
	if last-first+1 > height {
		last = first + height - 1
	}
	if first < t.viewportOffset {
		t.viewportOffset = first
	}
	if last >= t.viewportOffset+height {
		t.viewportOffset = last - height + 1
	}
	if limit := len(rows) - height; t.viewportOffset > limit {
		t.viewportOffset = limit
	}
	if t.viewportOffset < 0 {
		t.viewportOffset = 0
	}
}

func (t *BlackboardTreeModel) buildRows() []treeRow {
	rows := make([]treeRow, 0, len(t.flatList))
	for i, line := range t.flatList {
		selected := i == t.cursor
		text := t.renderLine(line)
		if selected {
			text = t.theme.Selected.Render(text)
		}
		rows = append(rows, treeRow{node: i, text: text})

		// Expanded large strings continue below their header
		n := line.Node
		if n.Kind == model.KindString && n.Toggle && n.Expanded {
			for _, cont := range t.wrapContinuation(line) {
				rows = append(rows, treeRow{node: i, text: cont})
			}
		}
	}
	return rows
}

func (t *BlackboardTreeModel) renderLine(line FlatLine) string {
	r := t.theme.Renderer
	n := line.Node

	prefix := t.buildTreePrefix(line)
	indicator := getExpandIndicator(n)

	var sb strings.Builder
	sb.WriteString(r.NewStyle().Foreground(t.theme.Muted).Render(prefix))
	sb.WriteString(r.NewStyle().Foreground(t.theme.Secondary).Render(indicator))
	sb.WriteString(" ")
	sb.WriteString(r.NewStyle().Foreground(t.theme.Key).Render(n.Label))
	sb.WriteString(": ")

	used := runewidth.StringWidth(prefix) + runewidth.StringWidth(indicator) + 1 +
		runewidth.StringWidth(n.Label) + 2
	avail := t.width - used
	if t.width <= 0 || avail < 10 {
		avail = 10
	}

	if n.Summary != "" {
		sb.WriteString(r.NewStyle().Foreground(t.theme.Muted).Render(n.Summary))
		avail -= runewidth.StringWidth(n.Summary) + 1
		if n.Kind != model.KindString || n.Expanded {
			return sb.String()
		}
		sb.WriteString(" ")
	}

	text := n.Text
	if n.Kind == model.KindString {
		text = `"` + singleLine(text) + `"`
	}
	if avail < 4 {
		avail = 4
	}
	text = runewidth.Truncate(text, avail, "…")
	sb.WriteString(r.NewStyle().Foreground(t.valueColor(n.Kind)).Render(text))
	return sb.String()
}

func (t *BlackboardTreeModel) wrapContinuation(line FlatLine) []string {
	indent := strings.Repeat(" ", runewidth.StringWidth(t.buildTreePrefix(line))+2)
	width := t.width - len(indent)
	if width < 20 {
		width = 20
	}
	style := t.theme.Renderer.NewStyle().Width(width).Foreground(t.theme.String)
	wrapped := style.Render(line.Node.Text)
	parts := strings.Split(wrapped, "\n")
	for i := range parts {
		parts[i] = indent + parts[i]
	}
	return parts
}

func (t *BlackboardTreeModel) valueColor(k model.Kind) lipgloss.AdaptiveColor {
	switch k {
	case model.KindString:
		return t.theme.String
	case model.KindNumber:
		return t.theme.Number
	case model.KindBool:
		return t.theme.Bool
	default:
		return t.theme.Null
	}
}

// buildTreePrefix builds the indentation and branch characters for a line.
func (t *BlackboardTreeModel) buildTreePrefix(line FlatLine) string {
	if line.Depth == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < len(line.lastAt)-1; i++ {
		if line.lastAt[i] {
			sb.WriteString("    ")
		} else {
			sb.WriteString("│   ")
		}
	}
	if line.lastAt[len(line.lastAt)-1] {
		sb.WriteString("└── ")
	} else {
		sb.WriteString("├── ")
	}
	return sb.String()
}

func getExpandIndicator(n *DisplayNode) string {
	if !n.Toggle {
		return "•"
	}
	if n.Expanded {
		return "▾"
	}
	return "▸"
}

func singleLine(s string) string {
	return strings.NewReplacer("\r\n", "⏎", "\n", "⏎", "\t", " ").Replace(s)
}

func (t *BlackboardTreeModel) renderEmptyState() string {
	muted := t.theme.Renderer.NewStyle().Foreground(t.theme.Muted)
	if t.threadID == "" {
		return muted.Render("No thread selected.")
	}
	return muted.Render("Waiting for blackboard...")
}
