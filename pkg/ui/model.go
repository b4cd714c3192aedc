package ui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/config"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/expansion"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/threadsync"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	SidebarWidth       = 32
	SplitViewThreshold = 100
	minChatWidth       = 30
	statusTTL          = 4 * time.Second
)

type focus int

const (
	focusThreads focus = iota
	focusChat
	focusDebug
)

type overlay int

const (
	overlayNone overlay = iota
	overlayHelp
	overlayCreate
	overlayModel
	overlayConfirmDelete
)

// Options wires the shell to its collaborators
type Options struct {
	API                   API
	Sync                  Syncer
	Theme                 *Theme           // nil means DefaultTheme(lipgloss.DefaultRenderer())
	InitialThread         string           // opened at startup instead of the first listed thread
	ThreadRefreshInterval time.Duration    // 0 means config.DefaultThreadRefreshInterval
	RequestTimeout        time.Duration    // 0 means config.DefaultRequestTimeout
	Display               RenderOptions    // zero fields take defaults
	ExpansionStore        *expansion.Store // optional
	Clipboard             func(string) error
	Logger                *slog.Logger
}

// Model is the root Bubble Tea model: threads sidebar, chat and debug panel.
type Model struct {
	api    API
	sync   Syncer
	loader *threadLoader
	theme  Theme
	log    *slog.Logger
	copy   func(string) error

	refreshInterval time.Duration
	requestTimeout  time.Duration

	threads ThreadsModel
	chat    ChatModel
	debug   DebugPanelModel
	picker  ModelPickerModel
	form    *createForm

	// Active session
	activeThread string
	generation   uint64
	connected    bool
	lastErr      error
	lastUpdate   model.Timestamp
	threadModel  string

	// Layout
	focused     focus
	overlay     overlay
	showSidebar bool
	showDebug   bool
	ready       bool
	width       int
	height      int

	pendingDelete string
	status        string
	statusIsErr   bool
	statusSeq     int
}

// NewModel builds the shell. Sync must already be configured to notify the
// program running this model.
func NewModel(opts Options) Model {
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	if opts.Theme != nil {
		theme = *opts.Theme
	}
	display := DefaultRenderOptions()
	if opts.Display.LargeStringThreshold > 0 {
		display.LargeStringThreshold = opts.Display.LargeStringThreshold
	}
	if opts.Display.TruncateLength > 0 {
		display.TruncateLength = opts.Display.TruncateLength
	}
	if opts.ThreadRefreshInterval <= 0 {
		opts.ThreadRefreshInterval = config.DefaultThreadRefreshInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = config.DefaultRequestTimeout
	}
	if opts.Clipboard == nil {
		opts.Clipboard = systemClipboard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := Model{
		api:             opts.API,
		sync:            opts.Sync,
		loader:          &threadLoader{api: opts.API, timeout: opts.RequestTimeout},
		theme:           theme,
		log:             opts.Logger,
		copy:            opts.Clipboard,
		refreshInterval: opts.ThreadRefreshInterval,
		requestTimeout:  opts.RequestTimeout,
		threads:         NewThreadsModel(theme),
		chat:            NewChatModel(theme),
		debug:           NewDebugPanelModel(theme, display, opts.Logger),
		connected:       true,
		focused:         focusChat,
		showSidebar:     true,
		showDebug:       true,
	}
	m.debug.Tree().SetStore(opts.ExpansionStore)
	m.chat.Focus()
	if opts.InitialThread != "" {
		m.resetSession(opts.InitialThread)
	}
	return m
}

// Init loads the thread list, schedules refreshes and starts the initial
// thread when one was given. Its generation arrives with SessionStartedMsg.
func (m Model) Init() tea.Cmd {
	if m.activeThread != "" {
		m.sync.Start(m.activeThread)
	}
	return tea.Batch(m.loader.load(), tickThreads(m.refreshInterval), m.chat.Focus())
}

// resetSession clears everything shown for the previous thread.
func (m *Model) resetSession(threadID string) {
	m.activeThread = threadID
	m.generation = 0
	m.connected = true
	m.lastErr = nil
	m.lastUpdate = 0
	m.threadModel = ""
	m.threads.SetActive(threadID)
	m.chat.Reset()
	m.debug.Reset(threadID)
}

// selectThread switches the session to threadID. Results of any older
// session are ignored from here on.
func (m *Model) selectThread(threadID string) {
	if threadID == "" || threadID == m.activeThread {
		return
	}
	m.log.Info("ui: thread selected", "thread", threadID)
	m.resetSession(threadID)
	m.threads.Select(threadID)
	m.generation = m.sync.Start(threadID)
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.status = text
	m.statusIsErr = isErr
	m.statusSeq++
	return clearStatusAfter(statusTTL, m.statusSeq)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		if msg.Width < SplitViewThreshold && m.showSidebar && m.showDebug {
			m.showDebug = false
		}
		m.layout()
		return m, nil

	case threadsync.SessionStartedMsg:
		if msg.ThreadID == m.activeThread && msg.Generation > m.generation {
			m.generation = msg.Generation
		}
		return m, nil

	case threadsync.StateSyncedMsg:
		snap := msg.Snapshot
		if snap.ThreadID != m.activeThread || snap.Generation < m.generation {
			return m, nil
		}
		m.generation = snap.Generation
		m.connected = snap.Connected
		m.lastErr = nil
		m.lastUpdate = snap.LastUpdate
		m.threadModel = snap.Model
		m.chat.SetMessages(snap.ChatHistory)
		m.debug.SetState(snap.Description, snap.TreeHTML, snap.Blackboard)
		m.layout()
		return m, nil

	case threadsync.ConnectivityMsg:
		if msg.ThreadID == m.activeThread && msg.Generation >= m.generation {
			m.connected = msg.Connected
			m.lastErr = msg.Err
		}
		return m, nil

	case ThreadsLoadedMsg:
		if msg.Err != nil {
			m.log.Warn("ui: thread list refresh failed", "error", msg.Err)
			m.threads.SetError(msg.Err)
			return m, nil
		}
		m.threads.SetThreads(msg.List)
		if m.activeThread == "" {
			m.selectThread(m.threads.FirstID())
		}
		return m, nil

	case threadsTickMsg:
		return m, tea.Batch(m.loader.load(), tickThreads(m.refreshInterval))

	case threadCreatedMsg:
		if msg.Err != nil {
			return m, m.setStatus("Create failed: "+msg.Err.Error(), true)
		}
		m.selectThread(msg.ID)
		return m, tea.Batch(m.setStatus("Thread created", false), m.loader.load())

	case threadDeletedMsg:
		if msg.Err != nil {
			return m, m.setStatus("Delete failed: "+msg.Err.Error(), true)
		}
		if msg.ID == m.activeThread {
			m.sync.Stop()
			m.resetSession("")
		}
		return m, tea.Batch(m.setStatus("Thread deleted", false), m.loader.load())

	case modelChangedMsg:
		if msg.Err != nil {
			return m, m.setStatus("Model change failed: "+msg.Err.Error(), true)
		}
		if msg.ThreadID == m.activeThread {
			m.threadModel = msg.Model
		}
		return m, tea.Batch(m.setStatus("Model set to "+msg.Model, false), m.loader.load())

	case messageSentMsg:
		cmds = append(cmds, m.chat.SetSending(false))
		if msg.Err != nil {
			if msg.ThreadID == m.activeThread && m.chat.Value() == "" {
				m.chat.input.SetValue(msg.Content)
			}
			cmds = append(cmds, m.setStatus("Send failed: "+msg.Err.Error(), true))
		}
		return m, tea.Batch(cmds...)

	case clipboardMsg:
		if msg.Err != nil {
			return m, m.setStatus("Copy failed: "+msg.Err.Error(), true)
		}
		return m, m.setStatus("Copied to clipboard", false)

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
			m.statusIsErr = false
		}
		return m, nil

	case ConfigReloadedMsg:
		return m, m.applyConfig(msg.Config)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// Everything else (spinner ticks, cursor blink, form internals)
	if m.overlay == overlayCreate && m.form != nil {
		done, cmd := m.form.Update(msg)
		cmds = append(cmds, cmd)
		if done {
			cmds = append(cmds, m.finishCreate())
		}
		return m, tea.Batch(cmds...)
	}
	var cmd tea.Cmd
	m.chat, cmd = m.chat.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) applyConfig(cfg config.Config) tea.Cmd {
	d := cfg.Display()
	m.debug.Tree().SetOptions(RenderOptions{
		LargeStringThreshold: d.LargeStringThreshold,
		TruncateLength:       d.TruncateLength,
	})
	m.sync.SetInterval(cfg.PollInterval.D())
	m.refreshInterval = cfg.ThreadRefreshInterval.D()
	m.layout()
	return m.setStatus("Config reloaded", false)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.overlay {
	case overlayHelp:
		if key == "esc" || key == "?" || key == "q" {
			m.overlay = overlayNone
		}
		return m, nil

	case overlayCreate:
		if key == "esc" {
			m.overlay = overlayNone
			m.form = nil
			return m, nil
		}
		done, cmd := m.form.Update(msg)
		if done {
			return m, tea.Batch(cmd, m.finishCreate())
		}
		return m, cmd

	case overlayModel:
		switch key {
		case "j", "down":
			m.picker.MoveDown()
		case "k", "up":
			m.picker.MoveUp()
		case "esc", "q":
			m.overlay = overlayNone
		case "enter":
			m.overlay = overlayNone
			if m.picker.Changed() {
				return m, changeModelCmd(m.api, m.picker.ThreadID(), m.picker.SelectedModel(), m.requestTimeout)
			}
		}
		return m, nil

	case overlayConfirmDelete:
		id := m.pendingDelete
		m.overlay = overlayNone
		m.pendingDelete = ""
		if key == "y" || key == "enter" {
			return m, deleteThreadCmd(m.api, id, m.requestTimeout)
		}
		return m, nil
	}

	// Typing into the chat input
	if m.focused == focusChat && m.chat.Focused() {
		switch key {
		case "tab":
			m.cycleFocus()
			return m, nil
		case "esc":
			m.chat.Blur()
			return m, nil
		case "enter":
			return m, m.submitMessage()
		}
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	// Filtering the thread list
	if m.focused == focusThreads && m.threads.Filtering() {
		var cmd tea.Cmd
		m.threads, cmd = m.threads.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "tab":
		m.cycleFocus()
		return m, nil
	case "?":
		m.overlay = overlayHelp
		return m, nil
	case "[":
		m.showSidebar = !m.showSidebar
		if !m.showSidebar && m.focused == focusThreads {
			m.focused = focusChat
		}
		m.layout()
		return m, nil
	case "]":
		m.showDebug = !m.showDebug
		if !m.showDebug && m.focused == focusDebug {
			m.focused = focusChat
		}
		m.layout()
		return m, nil
	case "r":
		return m, m.loader.load()
	case "n":
		return m, m.openCreate()
	case "m":
		return m, m.openModelPicker()
	case "d":
		if th := m.threads.SelectedThread(); th != nil {
			m.pendingDelete = th.ID
			m.overlay = overlayConfirmDelete
		}
		return m, nil
	}

	switch m.focused {
	case focusThreads:
		if key == "enter" {
			m.selectThread(m.threads.SelectedID())
			return m, nil
		}
		var cmd tea.Cmd
		m.threads, cmd = m.threads.Update(msg)
		return m, cmd

	case focusChat:
		if key == "i" || key == "enter" {
			return m, m.chat.Focus()
		}
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd

	case focusDebug:
		return m, m.handleTreeKey(key)
	}
	return m, nil
}

func (m *Model) handleTreeKey(key string) tea.Cmd {
	tree := m.debug.Tree()
	switch key {
	case "j", "down":
		tree.MoveDown()
	case "k", "up":
		tree.MoveUp()
	case "l", "right":
		tree.ExpandOrMoveToChild()
	case "h", "left":
		tree.CollapseOrJumpToParent()
	case " ", "enter":
		tree.ToggleExpand()
	case "g", "home":
		tree.JumpToTop()
	case "G", "end":
		tree.JumpToBottom()
	case "pgdown", "ctrl+d":
		tree.PageDown()
	case "pgup", "ctrl+u":
		tree.PageUp()
	case "y":
		v, ok := tree.SelectedValue()
		if !ok {
			return nil
		}
		text, err := ClipboardText(v)
		if err != nil {
			return m.setStatus("Copy failed: "+err.Error(), true)
		}
		return copyCmd(m.copy, text)
	}
	return nil
}

func (m *Model) submitMessage() tea.Cmd {
	content := m.chat.Value()
	if strings.TrimSpace(content) == "" || m.chat.Sending() {
		return nil
	}
	if m.activeThread == "" {
		return m.setStatus("Select or create a thread first", true)
	}
	m.chat.ClearInput()
	return tea.Batch(
		m.chat.SetSending(true),
		sendMessageCmd(m.sync, m.activeThread, content, m.requestTimeout),
	)
}

func (m *Model) openCreate() tea.Cmd {
	trees := m.threads.AvailableTrees()
	if len(trees) == 0 {
		return m.setStatus("Server offers no tree types", true)
	}
	m.form = newCreateForm(trees, m.threads.AvailableModels(), m.width)
	m.overlay = overlayCreate
	return m.form.Init()
}

func (m *Model) finishCreate() tea.Cmd {
	form := m.form
	m.form = nil
	m.overlay = overlayNone
	if form == nil || !form.Submitted() {
		return nil
	}
	treeType, modelName := form.Values()
	if treeType == "" {
		return m.setStatus("Please select a tree type", true)
	}
	return createThreadCmd(m.api, treeType, modelName, m.requestTimeout)
}

func (m *Model) openModelPicker() tea.Cmd {
	th := m.threads.SelectedThread()
	if th == nil {
		return nil
	}
	m.picker = NewModelPickerModel(th.ID, th.Model, m.threads.AvailableModels(), m.theme)
	m.picker.SetSize(m.width, m.height)
	m.overlay = overlayModel
	return nil
}

func (m *Model) cycleFocus() {
	order := []focus{focusThreads, focusChat, focusDebug}
	for i := 1; i <= len(order); i++ {
		next := order[(int(m.focused)+i)%len(order)]
		if next == focusThreads && !m.showSidebar {
			continue
		}
		if next == focusDebug && !m.showDebug {
			continue
		}
		m.focused = next
		break
	}
	if m.focused == focusChat {
		m.chat.Focus()
	} else {
		m.chat.Blur()
	}
}

// panelWidths splits the terminal between the visible panes
func (m *Model) panelWidths() (sidebar, chat, debug int) {
	avail := m.width
	if m.showSidebar {
		sidebar = SidebarWidth
		if sidebar > avail/3 {
			sidebar = avail / 3
		}
		avail -= sidebar
	}
	if m.showDebug {
		debug = avail * 2 / 5
		if avail-debug < minChatWidth {
			debug = avail - minChatWidth
		}
		if debug < 0 {
			debug = 0
		}
		avail -= debug
	}
	return sidebar, avail, debug
}

func (m *Model) layout() {
	if !m.ready {
		return
	}
	bodyHeight := m.height - 1 // footer
	inner := bodyHeight - 2    // borders
	if inner < 1 {
		inner = 1
	}
	sidebar, chat, debug := m.panelWidths()
	if sidebar > 2 {
		m.threads.SetSize(sidebar-2, inner)
	}
	if chat > 2 {
		m.chat.SetSize(chat-2, inner)
	}
	if debug > 2 {
		m.debug.SetSize(debug-2, inner)
	}
	m.picker.SetSize(m.width, bodyHeight)
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	bodyHeight := m.height - 1

	var body string
	switch m.overlay {
	case overlayHelp:
		body = RenderHelp(m.focused, m.theme, m.width, bodyHeight)
	case overlayModel:
		body = m.picker.View()
	case overlayCreate:
		title := m.theme.Title.Render("New Conversation")
		body = lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center,
			m.theme.FocusedPanel.Padding(1, 2).Render(title+"\n\n"+m.form.View()))
	case overlayConfirmDelete:
		prompt := fmt.Sprintf("Delete thread %s? (y/n)", shortID(m.pendingDelete))
		body = lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center,
			m.theme.FocusedPanel.BorderForeground(m.theme.Danger).Padding(1, 2).Render(prompt))
	default:
		body = m.renderPanels(bodyHeight)
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderFooter())
}

func (m Model) renderPanels(bodyHeight int) string {
	sidebar, chat, debug := m.panelWidths()
	inner := bodyHeight - 2
	var panels []string
	if m.showSidebar && sidebar > 2 {
		panels = append(panels, m.theme.PanelStyle(m.focused == focusThreads).
			Width(sidebar-2).Height(inner).MaxHeight(bodyHeight).Render(m.threads.View()))
	}
	chatBody := m.chat.View()
	if m.activeThread == "" {
		chatBody = m.theme.Renderer.NewStyle().Foreground(m.theme.Muted).
			Render("No thread selected.\nPick one from the sidebar or press n to create one.")
	}
	panels = append(panels, m.theme.PanelStyle(m.focused == focusChat).
		Width(chat-2).Height(inner).MaxHeight(bodyHeight).Render(chatBody))
	if m.showDebug && debug > 2 {
		panels = append(panels, m.theme.PanelStyle(m.focused == focusDebug).
			Width(debug-2).Height(inner).MaxHeight(bodyHeight).Render(m.debug.View()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, panels...)
}

func (m Model) renderFooter() string {
	r := m.theme.Renderer

	var conn string
	if m.connected {
		conn = r.NewStyle().Foreground(ColorBg).Background(m.theme.Success).Bold(true).Padding(0, 1).Render("● Connected")
	} else {
		conn = r.NewStyle().Foreground(ColorBg).Background(m.theme.Danger).Bold(true).Padding(0, 1).Render("Disconnected from server")
	}

	info := "no thread"
	if m.activeThread != "" {
		info = fmt.Sprintf("%s · %s · updated %s", shortID(m.activeThread), modelLabel(m.threadModel), m.lastUpdate)
	}
	infoSection := r.NewStyle().Background(ColorBgHighlight).Foreground(m.theme.Text).Padding(0, 1).Render(info)

	statusSection := ""
	if m.status != "" {
		st := r.NewStyle().Padding(0, 1).Foreground(m.theme.Secondary)
		if m.statusIsErr {
			st = st.Foreground(m.theme.Danger)
		}
		statusSection = st.Render(m.status)
	}

	var keys string
	switch m.focused {
	case focusThreads:
		keys = "enter: open • n: new • d: delete • m: model • ?: help"
	case focusDebug:
		keys = "j/k: move • space: toggle • y: copy • ?: help"
	default:
		if m.chat.Focused() {
			keys = "enter: send • esc: scroll • tab: focus"
		} else {
			keys = "i: type • tab: focus • ?: help • q: quit"
		}
	}
	keysSection := r.NewStyle().Foreground(m.theme.Subtext).Padding(0, 1).Render(keys)

	leftWidth := lipgloss.Width(conn) + lipgloss.Width(infoSection) + lipgloss.Width(statusSection)
	remaining := m.width - leftWidth - lipgloss.Width(keysSection)
	if remaining < 0 {
		keysSection = ""
		remaining = max(m.width-leftWidth, 0)
	}
	filler := r.NewStyle().Background(ColorBgDark).Width(remaining).Render("")
	return lipgloss.JoinHorizontal(lipgloss.Bottom, conn, infoSection, statusSection, filler, keysSection)
}

// ActiveThread returns the thread whose session is shown
func (m Model) ActiveThread() string {
	return m.activeThread
}

// Connected reports the last known connectivity of the session
func (m Model) Connected() bool {
	return m.connected
}

// LastError returns the last sync failure reported for the session
func (m Model) LastError() error {
	return m.lastErr
}

