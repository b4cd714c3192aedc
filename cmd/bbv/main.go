package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/client"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/config"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/expansion"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/journal"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/threadsync"
	"github.com/Dicklesworthstone/blackboard_viewer/pkg/ui"

	tea "github.com/charmbracelet/bubbletea"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var version = "dev"

// overrides are the command-line settings that win over file and env.
type overrides struct {
	apiURL       string
	pollInterval time.Duration
	journal      string
	logFile      string
}

func (o overrides) apply(cfg *config.Config) error {
	if o.apiURL != "" {
		cfg.APIURL = strings.TrimRight(strings.TrimSpace(o.apiURL), "/")
	}
	if o.pollInterval != 0 {
		cfg.PollInterval = config.Duration(o.pollInterval)
	}
	if o.journal != "" {
		cfg.Journal = o.journal
	}
	if o.logFile != "" {
		cfg.LogFile = o.logFile
	}
	return cfg.Validate()
}

func main() {
	help := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")
	configPath := flag.String("config", "", "Config file (default $XDG_CONFIG_HOME/bbv/config.yaml)")
	apiURL := flag.String("api-url", "", "Agent server base URL (e.g., http://localhost:8000)")
	threadID := flag.String("thread", "", "Open this thread instead of the first one listed")
	pollInterval := flag.Duration("poll-interval", 0, "How often the open thread is checked for updates (e.g., 1s)")
	journalPath := flag.String("journal", "", "Record every fetched state into this SQLite file")
	logFile := flag.String("log-file", "", "Log file used while the TUI runs (default <state_dir>/bbv.log)")
	robotThreads := flag.Bool("robot-threads", false, "Output the thread list as JSON for scripts and agents")
	robotState := flag.String("robot-state", "", "Output the full state of a thread as JSON")
	robotJournal := flag.Bool("robot-journal", false, "Output a summary of the snapshot journal as JSON (needs --journal)")
	flag.Parse()

	if *help {
		fmt.Println("Usage: bbv [options]")
		fmt.Println("\nA terminal client for behavior-tree chat agents.")
		flag.PrintDefaults()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Printf("bbv %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	flags := overrides{
		apiURL:       *apiURL,
		pollInterval: *pollInterval,
		journal:      *journalPath,
		logFile:      *logFile,
	}
	if err := flags.apply(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *robotJournal {
		if err := runRobotJournal(context.Background(), cfg.Journal, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	api, err := client.New(client.Options{BaseURL: cfg.APIURL, Timeout: cfg.RequestTimeout.D()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer api.Close()

	if *robotThreads {
		if err := runRobotThreads(context.Background(), api, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error listing threads: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	if *robotState != "" {
		if err := runRobotState(context.Background(), api, *robotState, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching state: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: bbv needs a terminal. Use --robot-threads or --robot-state for scripted access.")
		os.Exit(1)
	}

	if err := runTUI(cfg, flags, *configPath, *threadID, api); err != nil {
		fmt.Fprintf(os.Stderr, "Error running bbv: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg config.Config, flags overrides, configPath, threadID string, api *client.Client) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logPath := cfg.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logOut, err := tea.LogToFile(logPath, "bbv")
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logOut.Close()
	logger := slog.New(slog.NewTextHandler(logOut, nil))
	slog.SetDefault(logger)
	logger.Info("bbv: starting", "version", version, "config", cfg)

	var recorder threadsync.Recorder
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal, logger)
		if err != nil {
			logger.Warn("bbv: journal disabled", "path", cfg.Journal, "error", err)
		} else {
			defer j.Close()
			recorder = j
		}
	}

	ctrl := threadsync.NewController(threadsync.Config{
		Source:   api,
		Recorder: recorder,
		Interval: cfg.PollInterval.D(),
		Logger:   logger,
	})
	defer func() {
		ctrl.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ctrl.Wait(ctx); err != nil {
			logger.Warn("bbv: polling did not stop in time", "error", err)
		}
	}()

	m := ui.NewModel(ui.Options{
		API:                   api,
		Sync:                  ctrl,
		InitialThread:         threadID,
		ThreadRefreshInterval: cfg.ThreadRefreshInterval.D(),
		RequestTimeout:        cfg.RequestTimeout.D(),
		Display: ui.RenderOptions{
			LargeStringThreshold: cfg.LargeStringThreshold,
			TruncateLength:       cfg.TruncateLength,
		},
		ExpansionStore: expansionStore(cfg, logger),
		Logger:         logger,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	ctrl.SetNotifier(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchPath := configPath
	if watchPath == "" {
		watchPath = config.DefaultPath()
	}
	err = config.Watch(ctx, watchPath, config.WatchOptions{Logger: logger}, func(next config.Config) {
		if err := flags.apply(&next); err != nil {
			logger.Warn("bbv: reloaded config rejected", "error", err)
			return
		}
		p.Send(ui.ConfigReloadedMsg{Config: next})
	})
	if err != nil {
		logger.Warn("bbv: config hot reload disabled", "path", watchPath, "error", err)
	}

	_, err = p.Run()
	return err
}

// expansionStore returns nil unless expansion state is persisted. The store
// adds its own subdirectory under the state dir.
func expansionStore(cfg config.Config, logger *slog.Logger) *expansion.Store {
	if !cfg.PersistExpansion {
		return nil
	}
	return expansion.NewStore(cfg.StateDir, logger)
}

// robotAPI is the read side of the server used by the robot modes
type robotAPI interface {
	ListThreads(ctx context.Context) (*model.ThreadList, error)
	State(ctx context.Context, threadID string) (*model.ThreadState, error)
	LastUpdate(ctx context.Context, threadID string) (model.Timestamp, error)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRobotThreads(ctx context.Context, api robotAPI, w io.Writer) error {
	list, err := api.ListThreads(ctx)
	if err != nil {
		return err
	}
	if list.Threads == nil {
		list.Threads = []model.Thread{}
	}
	return writeJSON(w, list)
}

// robotState is the --robot-state payload
type robotState struct {
	ThreadID    string          `json:"thread_id"`
	LastUpdate  model.Timestamp `json:"last_update"`
	Model       string          `json:"model,omitempty"`
	Description string          `json:"description"`
	ChatHistory []model.Message `json:"chat_history"`
	Blackboard  model.Value     `json:"blackboard"`
	TreeHTML    string          `json:"tree_html,omitempty"`
}

func runRobotState(ctx context.Context, api robotAPI, threadID string, w io.Writer) error {
	var (
		st   *model.ThreadState
		last model.Timestamp
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st, err = api.State(gctx, threadID)
		return err
	})
	g.Go(func() error {
		var err error
		last, err = api.LastUpdate(gctx, threadID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	st.Normalize()
	if st.LastUpdate > last {
		last = st.LastUpdate
	}
	return writeJSON(w, robotState{
		ThreadID:    threadID,
		LastUpdate:  last,
		Model:       st.Model,
		Description: st.Description,
		ChatHistory: st.ChatHistory,
		Blackboard:  st.Blackboard,
		TreeHTML:    st.TreeHTML,
	})
}

// journalSummary is one thread of the --robot-journal payload
type journalSummary struct {
	ThreadID   string          `json:"thread_id"`
	Snapshots  int             `json:"snapshots"`
	LastUpdate model.Timestamp `json:"last_update"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

func runRobotJournal(ctx context.Context, path string, w io.Writer) error {
	if path == "" {
		return errors.New("no journal configured (use --journal)")
	}
	j, err := journal.Open(path, nil)
	if err != nil {
		return err
	}
	defer j.Close()

	threads, err := j.Threads(ctx)
	if err != nil {
		return err
	}
	out := struct {
		Threads []journalSummary `json:"threads"`
	}{Threads: []journalSummary{}}
	for _, id := range threads {
		n, err := j.Count(ctx, id)
		if err != nil {
			return err
		}
		s := journalSummary{ThreadID: id, Snapshots: n}
		latest, err := j.Latest(ctx, id)
		switch {
		case errors.Is(err, journal.ErrNotFound):
		case err != nil:
			return err
		default:
			s.LastUpdate = latest.LastUpdate
			s.FetchedAt = latest.FetchedAt
		}
		out.Threads = append(out.Threads, s)
	}
	return writeJSON(w, out)
}
