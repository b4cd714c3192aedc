package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
)

// ThreadItem wraps a thread for the sidebar list
type ThreadItem struct {
	Thread model.Thread
}

// FilterValue implements list.Item
func (i ThreadItem) FilterValue() string {
	return i.Thread.Type + " " + i.Thread.Model + " " + i.Thread.ID
}

// threadDelegate renders two lines per thread: type and short id, then
// model and last activity.
type threadDelegate struct {
	theme    Theme
	activeID *string
}

func (d threadDelegate) Height() int                             { return 2 }
func (d threadDelegate) Spacing() int                            { return 1 }
func (d threadDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d threadDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(ThreadItem)
	if !ok {
		return
	}
	th := ti.Thread
	r := d.theme.Renderer
	width := m.Width() - 2
	if width < 10 {
		width = 10
	}

	marker := "  "
	if d.activeID != nil && *d.activeID == th.ID {
		marker = "● "
	}
	title := marker + th.Type + " " + shortID(th.ID)
	sub := "  " + modelLabel(th.Model) + " · " + th.ActivityTime().String()

	title = runewidth.Truncate(title, width, "…")
	sub = runewidth.Truncate(sub, width, "…")

	titleStyle := r.NewStyle().Foreground(d.theme.Text)
	subStyle := r.NewStyle().Foreground(d.theme.Muted)
	if index == m.Index() {
		titleStyle = titleStyle.Foreground(d.theme.Primary).Bold(true)
		subStyle = subStyle.Foreground(d.theme.Subtext)
	}
	fmt.Fprintf(w, "%s\n%s", titleStyle.Render(title), subStyle.Render(sub))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func modelLabel(name string) string {
	if name == "" {
		return "default model"
	}
	return name
}

// ThreadsModel is the sidebar: the server's thread list plus the catalogs
// of tree types and models used by the create form and model picker.
type ThreadsModel struct {
	list     list.Model
	theme    Theme
	activeID *string
	trees    []string
	models   []string
	loaded   bool
	err      error
}

// NewThreadsModel creates an empty sidebar
func NewThreadsModel(theme Theme) ThreadsModel {
	active := new(string)
	l := list.New(nil, threadDelegate{theme: theme, activeID: active}, 30, 10)
	l.Title = "Threads"
	l.Styles.Title = theme.Title
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.SetStatusBarItemName("thread", "threads")
	return ThreadsModel{list: l, theme: theme, activeID: active}
}

// SetSize updates the list dimensions
func (m *ThreadsModel) SetSize(width, height int) {
	m.list.SetSize(width, height)
}

// SetThreads replaces the list contents, keeping the highlight on the same
// thread when it still exists. Server order is preserved.
func (m *ThreadsModel) SetThreads(tl *model.ThreadList) {
	if tl == nil {
		return
	}
	highlighted := m.SelectedID()
	items := make([]list.Item, len(tl.Threads))
	for i, th := range tl.Threads {
		items[i] = ThreadItem{Thread: th}
	}
	m.list.SetItems(items)
	m.trees = append([]string(nil), tl.AvailableTrees...)
	m.models = append([]string(nil), tl.AvailableModels...)
	m.loaded = true
	m.err = nil
	if highlighted != "" {
		m.Select(highlighted)
	}
}

// SetError records a failed refresh; the previous list stays visible.
func (m *ThreadsModel) SetError(err error) {
	m.err = err
}

// Err returns the last refresh error
func (m *ThreadsModel) Err() error {
	return m.err
}

// Loaded reports whether a list has been received
func (m *ThreadsModel) Loaded() bool {
	return m.loaded
}

// SetActive marks the thread whose session is running.
func (m *ThreadsModel) SetActive(id string) {
	*m.activeID = id
}

// Select highlights the thread with id. Returns false when absent.
func (m *ThreadsModel) Select(id string) bool {
	for i, item := range m.list.Items() {
		if ti, ok := item.(ThreadItem); ok && ti.Thread.ID == id {
			m.list.Select(i)
			return true
		}
	}
	return false
}

// SelectedThread returns the highlighted thread, or nil
func (m *ThreadsModel) SelectedThread() *model.Thread {
	ti, ok := m.list.SelectedItem().(ThreadItem)
	if !ok {
		return nil
	}
	th := ti.Thread
	return &th
}

// SelectedID returns the highlighted thread id, or ""
func (m *ThreadsModel) SelectedID() string {
	if th := m.SelectedThread(); th != nil {
		return th.ID
	}
	return ""
}

// FirstID returns the first thread in server order, or ""
func (m *ThreadsModel) FirstID() string {
	items := m.list.Items()
	if len(items) == 0 {
		return ""
	}
	if ti, ok := items[0].(ThreadItem); ok {
		return ti.Thread.ID
	}
	return ""
}

// Threads returns the listed threads in order
func (m *ThreadsModel) Threads() []model.Thread {
	items := m.list.Items()
	out := make([]model.Thread, 0, len(items))
	for _, item := range items {
		if ti, ok := item.(ThreadItem); ok {
			out = append(out, ti.Thread)
		}
	}
	return out
}

// AvailableTrees returns the tree types the server can instantiate
func (m *ThreadsModel) AvailableTrees() []string {
	return m.trees
}

// AvailableModels returns the model names offered by the server
func (m *ThreadsModel) AvailableModels() []string {
	return m.models
}

// Filtering reports whether the list is capturing keys for its filter
func (m *ThreadsModel) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// Update forwards navigation and filter keys to the list.
func (m ThreadsModel) Update(msg tea.Msg) (ThreadsModel, tea.Cmd) {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the sidebar
func (m ThreadsModel) View() string {
	r := m.theme.Renderer
	muted := r.NewStyle().Foreground(m.theme.Muted)
	var sb strings.Builder
	switch {
	case !m.loaded && m.err == nil:
		sb.WriteString(m.theme.Title.Render("Threads"))
		sb.WriteString("\n\n")
		sb.WriteString(muted.Render("Loading..."))
		return sb.String()
	case len(m.list.Items()) == 0:
		sb.WriteString(m.theme.Title.Render("Threads"))
		sb.WriteString("\n\n")
		sb.WriteString(muted.Render("No active threads"))
		sb.WriteString("\n")
		sb.WriteString(muted.Render("Press n to create one."))
	default:
		sb.WriteString(m.list.View())
	}
	if m.err != nil {
		sb.WriteString("\n")
		errText := runewidth.Truncate(m.err.Error(), m.list.Width(), "…")
		sb.WriteString(r.NewStyle().Foreground(m.theme.Danger).Render(errText))
	}
	return sb.String()
}
