package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the quiet period before a changed file is reloaded.
const DefaultWatchDebounce = 200 * time.Millisecond

// WatchOptions tunes Watch
type WatchOptions struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch reloads the config file whenever it changes and hands the result to
// onChange. The directory is watched rather than the file so editors that
// save by rename are picked up. Files that fail to parse are logged and
// skipped. Watch returns once the watcher is set up; it stops when ctx is
// done.
func Watch(ctx context.Context, path string, opts WatchOptions, onChange func(Config)) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultWatchDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if path == "" {
		path = DefaultPath()
	}
	path = filepath.Clean(path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go watchLoop(ctx, fsw, path, opts, onChange)
	return nil
}

func watchLoop(ctx context.Context, fsw *fsnotify.Watcher, path string, opts WatchOptions, onChange func(Config)) {
	defer fsw.Close()
	log := opts.Logger

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			// Only react to content changes (not chmod, etc)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(opts.Debounce)
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config: reload rejected", "path", path, "error", err)
				continue
			}
			log.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn("config: watch error", "error", err)
		}
	}
}
