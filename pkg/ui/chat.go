package ui

import (
	"strings"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// autoScrollSlack is how close to the bottom (in lines) the transcript must
// be for new messages to scroll it.
const autoScrollSlack = 3

// ChatModel shows the transcript of the active thread and the message input.
type ChatModel struct {
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	md       *MarkdownRenderer
	theme    Theme

	messages []model.Message
	sending  bool
	hasData  bool
	width    int
	height   int
}

// NewChatModel creates an empty chat pane
func NewChatModel(theme Theme) ChatModel {
	in := textinput.New()
	in.Placeholder = "Type a message and press enter"
	in.Prompt = "› "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Renderer.NewStyle().Foreground(theme.Primary)

	return ChatModel{
		viewport: viewport.New(40, 10),
		input:    in,
		spinner:  sp,
		md:       NewMarkdownRendererWithTheme(40, theme),
		theme:    theme,
	}
}

// SetSize lays out the transcript above a one-line input
func (c *ChatModel) SetSize(width, height int) {
	c.width = width
	c.height = height
	vpHeight := height - 2
	if vpHeight < 1 {
		vpHeight = 1
	}
	c.viewport.Width = width
	c.viewport.Height = vpHeight
	c.input.Width = width - 4
	c.md.SetWidth(width - 2)
	c.refresh(false)
}

// Reset clears the transcript for a new thread
func (c *ChatModel) Reset() {
	c.messages = nil
	c.hasData = false
	c.sending = false
	c.refresh(false)
	c.viewport.GotoTop()
}

// SetMessages replaces the transcript. The view follows new messages only
// when it was already at (or near) the bottom.
func (c *ChatModel) SetMessages(msgs []model.Message) {
	follow := !c.hasData || c.nearBottom()
	c.messages = msgs
	c.hasData = true
	c.refresh(follow)
}

// Messages returns the displayed transcript
func (c *ChatModel) Messages() []model.Message {
	return c.messages
}

func (c *ChatModel) nearBottom() bool {
	if c.viewport.AtBottom() {
		return true
	}
	total := c.viewport.TotalLineCount()
	bottom := c.viewport.YOffset + c.viewport.Height
	return total-bottom <= autoScrollSlack
}

func (c *ChatModel) refresh(follow bool) {
	if !c.hasData {
		c.viewport.SetContent(c.theme.Renderer.NewStyle().Foreground(c.theme.Muted).Render("Loading conversation..."))
		return
	}
	c.viewport.SetContent(c.renderTranscript())
	if follow {
		c.viewport.GotoBottom()
	}
}

func (c *ChatModel) renderTranscript() string {
	r := c.theme.Renderer
	if len(c.messages) == 0 {
		return r.NewStyle().Foreground(c.theme.Muted).Render("No messages yet. Say hello!")
	}
	var sb strings.Builder
	for i, msg := range c.messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		var header string
		if msg.Role.IsUser() {
			header = r.NewStyle().Foreground(c.theme.User).Bold(true).Render("You")
		} else {
			header = r.NewStyle().Foreground(c.theme.Assistant).Bold(true).Render("Assistant")
		}
		if !msg.Metadata.Time.IsZero() {
			header += r.NewStyle().Foreground(c.theme.Muted).Render("  " + msg.Metadata.Time.String())
		}
		sb.WriteString(header)
		sb.WriteString("\n")

		body, err := c.md.Render(msg.Content)
		if err != nil {
			body = msg.Content
		}
		sb.WriteString(strings.TrimRight(body, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Value returns the text typed so far
func (c *ChatModel) Value() string {
	return c.input.Value()
}

// ClearInput empties the input
func (c *ChatModel) ClearInput() {
	c.input.SetValue("")
}

// Focus gives keyboard focus to the input
func (c *ChatModel) Focus() tea.Cmd {
	return c.input.Focus()
}

// Blur removes keyboard focus from the input
func (c *ChatModel) Blur() {
	c.input.Blur()
}

// Focused reports whether the input has focus
func (c *ChatModel) Focused() bool {
	return c.input.Focused()
}

// SetSending toggles the busy indicator shown while a message is posted.
func (c *ChatModel) SetSending(sending bool) tea.Cmd {
	c.sending = sending
	if sending {
		return c.spinner.Tick
	}
	return nil
}

// Sending reports whether a send is in flight
func (c *ChatModel) Sending() bool {
	return c.sending
}

// Update routes keys to the input when focused, otherwise to the viewport.
func (c ChatModel) Update(msg tea.Msg) (ChatModel, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !c.sending {
			return c, nil
		}
		c.spinner, cmd = c.spinner.Update(msg)
		return c, cmd
	case tea.KeyMsg:
		if c.input.Focused() {
			c.input, cmd = c.input.Update(msg)
			return c, cmd
		}
	}
	c.viewport, cmd = c.viewport.Update(msg)
	return c, cmd
}

// View renders transcript and input
func (c ChatModel) View() string {
	prompt := c.input.View()
	if c.sending {
		prompt = c.spinner.View() + " sending..."
	}
	return c.viewport.View() + "\n" + prompt
}
