package ui

import (
	"bytes"
	"context"
	"time"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/config"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

// API is the part of the HTTP client the shell calls directly.
// *client.Client satisfies it.
type API interface {
	ListThreads(ctx context.Context) (*model.ThreadList, error)
	CreateThread(ctx context.Context, treeType, modelName string) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	ChangeModel(ctx context.Context, threadID, modelName string) error
}

// Syncer keeps the active thread in sync. *threadsync.Controller
// satisfies it. Start and Stop return without waiting and are called from
// Update so session switches happen in key order. SendMessage blocks on the
// network and only runs inside commands.
type Syncer interface {
	Start(threadID string) uint64
	Stop()
	SendMessage(ctx context.Context, threadID, content string) error
	SetInterval(d time.Duration)
}

// ThreadsLoadedMsg carries a thread list refresh
type ThreadsLoadedMsg struct {
	List *model.ThreadList
	Err  error
}

// ConfigReloadedMsg is sent when the config file changed on disk
type ConfigReloadedMsg struct {
	Config config.Config
}

type threadsTickMsg struct{}

type threadCreatedMsg struct {
	ID  string
	Err error
}

type threadDeletedMsg struct {
	ID  string
	Err error
}

type modelChangedMsg struct {
	ThreadID string
	Model    string
	Err      error
}

type messageSentMsg struct {
	ThreadID string
	Content  string
	Err      error
}

type clipboardMsg struct {
	Err error
}

type clearStatusMsg struct {
	seq int
}

// threadLoader coalesces overlapping list refreshes into one request.
type threadLoader struct {
	api     API
	timeout time.Duration
	group   singleflight.Group
}

func (l *threadLoader) load() tea.Cmd {
	return func() tea.Msg {
		v, err, _ := l.group.Do("threads", func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
			defer cancel()
			return l.api.ListThreads(ctx)
		})
		if err != nil {
			return ThreadsLoadedMsg{Err: err}
		}
		return ThreadsLoadedMsg{List: v.(*model.ThreadList)}
	}
}

func tickThreads(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return threadsTickMsg{} })
}

func sendMessageCmd(s Syncer, threadID, content string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.SendMessage(ctx, threadID, content)
		return messageSentMsg{ThreadID: threadID, Content: content, Err: err}
	}
}

func createThreadCmd(api API, treeType, modelName string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		id, err := api.CreateThread(ctx, treeType, modelName)
		return threadCreatedMsg{ID: id, Err: err}
	}
}

func deleteThreadCmd(api API, threadID string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return threadDeletedMsg{ID: threadID, Err: api.DeleteThread(ctx, threadID)}
	}
}

func changeModelCmd(api API, threadID, modelName string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := api.ChangeModel(ctx, threadID, modelName)
		return modelChangedMsg{ThreadID: threadID, Model: modelName, Err: err}
	}
}

func copyCmd(write func(string) error, text string) tea.Cmd {
	return func() tea.Msg {
		return clipboardMsg{Err: write(text)}
	}
}

func clearStatusAfter(d time.Duration, seq int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} })
}

// ClipboardText formats a blackboard value for copying: strings raw,
// everything else as indented JSON.
func ClipboardText(v model.Value) (string, error) {
	if v.Kind() == model.KindString {
		return v.Str(), nil
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func systemClipboard(text string) error {
	return clipboard.WriteAll(text)
}
