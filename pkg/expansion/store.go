package expansion

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

// State is the on-disk form of a thread's user layer.
//
// File format (JSON):
//
//	{
//	  "version": 1,
//	  "thread_id": "3f2c...",
//	  "expanded": {
//	    "root.plan": false,
//	    "root.plan.steps.0": true
//	  }
//	}
//
// Only explicit user choices are stored. A missing or corrupted file means
// "use defaults".
type State struct {
	Version  int             `json:"version"`
	ThreadID string          `json:"thread_id"`
	Expanded map[string]bool `json:"expanded"`
}

// StateVersion is the current schema version
const StateVersion = 1

const stateSubdir = "expansion"

// Store persists user layers under <dir>/expansion/<thread>.json
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore returns a store rooted at dir. A nil logger uses slog.Default().
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Path returns the state file of a thread. Thread IDs are escaped so they
// can never leave the store directory.
func (s *Store) Path(threadID string) string {
	name := url.PathEscape(threadID)
	if name == "" || name == "." || name == ".." {
		name = "_" + name
	}
	return filepath.Join(s.dir, stateSubdir, name+".json")
}

// Load returns the saved user layer of a thread, or nil when nothing usable
// is stored.
func (s *Store) Load(threadID string) Layer {
	path := s.Path(threadID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("expansion: read state", "path", path, "error", err)
		}
		return nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("expansion: invalid state file, using defaults", "path", path, "error", err)
		return nil
	}
	if state.Version != StateVersion {
		s.logger.Warn("expansion: unsupported state version, using defaults",
			"path", path, "version", state.Version)
		return nil
	}

	layer := make(Layer, len(state.Expanded))
	for p, expanded := range state.Expanded {
		layer[model.Path(p)] = expanded
	}
	return layer
}

// Save writes the user layer of a thread. Errors are logged and returned;
// callers are free to ignore them.
func (s *Store) Save(threadID string, overrides Layer) error {
	state := State{
		Version:  StateVersion,
		ThreadID: threadID,
		Expanded: make(map[string]bool, len(overrides)),
	}
	for p, expanded := range overrides {
		state.Expanded[string(p)] = expanded
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		s.logger.Warn("expansion: marshal state", "thread", threadID, "error", err)
		return fmt.Errorf("marshal expansion state: %w", err)
	}

	path := s.Path(threadID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("expansion: create state dir", "dir", dir, "error", err)
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("expansion: write state", "path", path, "error", err)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		s.logger.Warn("expansion: replace state", "path", path, "error", err)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Remove deletes the saved state of a thread; a missing file is not an error.
func (s *Store) Remove(threadID string) error {
	err := os.Remove(s.Path(threadID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
