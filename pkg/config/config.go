// Package config loads bbv settings from a YAML file, BBV_* environment
// variables and command-line flags, in that order of precedence.
//
// File format (YAML):
//
//	api_url: http://localhost:8000
//	poll_interval: 1s
//	thread_refresh_interval: 10s
//	request_timeout: 10s
//	large_string_threshold: 100
//	truncate_length: 80
//	persist_expansion: false
//	state_dir: ~/.local/state/bbv
//	log_file: ""        # default <state_dir>/bbv.log
//	journal: ""         # SQLite journal path, empty disables
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultAPIURL                = "http://localhost:8000"
	DefaultPollInterval          = time.Second
	DefaultThreadRefreshInterval = 10 * time.Second
	DefaultRequestTimeout        = 10 * time.Second
	DefaultLargeStringThreshold  = 100
	DefaultTruncateLength        = 80

	appName     = "bbv"
	envPrefix   = "BBV_"
	logFileName = "bbv.log"
)

// minPollInterval keeps a misconfigured client from hammering the server.
const minPollInterval = 100 * time.Millisecond

// Duration is a time.Duration that reads "1s"/"250ms" strings or bare
// numbers of seconds.
type Duration time.Duration

// D returns the standard library value
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts "1.5s" style strings and numbers of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Config holds every user-tunable setting
type Config struct {
	APIURL                string   `yaml:"api_url"`
	PollInterval          Duration `yaml:"poll_interval"`
	ThreadRefreshInterval Duration `yaml:"thread_refresh_interval"`
	RequestTimeout        Duration `yaml:"request_timeout"`
	LargeStringThreshold  int      `yaml:"large_string_threshold"`
	TruncateLength        int      `yaml:"truncate_length"`
	PersistExpansion      bool     `yaml:"persist_expansion"`
	StateDir              string   `yaml:"state_dir"`
	LogFile               string   `yaml:"log_file"`
	Journal               string   `yaml:"journal"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		APIURL:                DefaultAPIURL,
		PollInterval:          Duration(DefaultPollInterval),
		ThreadRefreshInterval: Duration(DefaultThreadRefreshInterval),
		RequestTimeout:        Duration(DefaultRequestTimeout),
		LargeStringThreshold:  DefaultLargeStringThreshold,
		TruncateLength:        DefaultTruncateLength,
		StateDir:              DefaultStateDir(),
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/bbv/config.yaml, falling back to
// ~/.config/bbv/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", appName, "config.yaml")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName, "config.yaml")
}

// DefaultStateDir returns $XDG_STATE_HOME/bbv, falling back to
// ~/.local/state/bbv.
func DefaultStateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "."+appName)
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, appName)
}

// Load reads the config file at path (DefaultPath when empty), applies
// environment overrides and normalizes the result. The returned Config is
// always usable: on error it carries defaults for whatever could not be
// read, and the error says what was ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	var errs []error
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.parse(data); err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", path, err))
			cfg = Default()
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// no config file is fine
	default:
		errs = append(errs, fmt.Errorf("read config: %w", err))
	}

	errs = append(errs, cfg.ApplyEnv(os.LookupEnv)...)
	if err := cfg.Normalize(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func (c *Config) parse(data []byte) error {
	parsed := *c
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ApplyEnv overrides fields from BBV_* variables (BBV_API_URL,
// BBV_POLL_INTERVAL, ...). Unparseable values are skipped and reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) []error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = Duration(d)
	}
	num := func(key string, dst *int) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: invalid integer %q", envPrefix, key, v))
			return
		}
		*dst = n
	}

	str("API_URL", &c.APIURL)
	dur("POLL_INTERVAL", &c.PollInterval)
	dur("THREAD_REFRESH_INTERVAL", &c.ThreadRefreshInterval)
	dur("REQUEST_TIMEOUT", &c.RequestTimeout)
	num("LARGE_STRING_THRESHOLD", &c.LargeStringThreshold)
	num("TRUNCATE_LENGTH", &c.TruncateLength)
	str("STATE_DIR", &c.StateDir)
	str("LOG_FILE", &c.LogFile)
	str("JOURNAL", &c.Journal)
	if v, ok := lookup(envPrefix + "PERSIST_EXPANSION"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPERSIST_EXPANSION: invalid boolean %q", envPrefix, v))
		} else {
			c.PersistExpansion = b
		}
	}
	return errs
}

// Validate reports every invalid field without changing anything.
func (c Config) Validate() error {
	var errs []error
	if err := validateURL(c.APIURL); err != nil {
		errs = append(errs, err)
	}
	if c.PollInterval.D() < minPollInterval {
		errs = append(errs, fmt.Errorf("poll_interval %v is below %v", c.PollInterval, minPollInterval))
	}
	if c.ThreadRefreshInterval.D() < minPollInterval {
		errs = append(errs, fmt.Errorf("thread_refresh_interval %v is below %v", c.ThreadRefreshInterval, minPollInterval))
	}
	if c.RequestTimeout.D() <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive"))
	}
	if c.LargeStringThreshold <= 0 {
		errs = append(errs, fmt.Errorf("large_string_threshold must be positive"))
	}
	if c.TruncateLength <= 0 {
		errs = append(errs, fmt.Errorf("truncate_length must be positive"))
	}
	return errors.Join(errs...)
}

// Normalize replaces invalid fields with defaults, expands ~ in paths and
// returns what was replaced.
func (c *Config) Normalize() error {
	err := c.Validate()
	def := Default()
	if validateURL(c.APIURL) != nil {
		c.APIURL = def.APIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.PollInterval.D() < minPollInterval {
		c.PollInterval = def.PollInterval
	}
	if c.ThreadRefreshInterval.D() < minPollInterval {
		c.ThreadRefreshInterval = def.ThreadRefreshInterval
	}
	if c.RequestTimeout.D() <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.LargeStringThreshold <= 0 {
		c.LargeStringThreshold = def.LargeStringThreshold
	}
	if c.TruncateLength <= 0 {
		c.TruncateLength = def.TruncateLength
	}
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	c.StateDir = expandHome(c.StateDir)
	c.LogFile = expandHome(c.LogFile)
	c.Journal = expandHome(c.Journal)
	return err
}

// LogPath is the log file used in TUI mode
func (c Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.StateDir, logFileName)
}

// Display holds the settings that can change while the UI runs
type Display struct {
	LargeStringThreshold int
	TruncateLength       int
}

// Display extracts the hot-reloadable rendering settings
func (c Config) Display() Display {
	return Display{LargeStringThreshold: c.LargeStringThreshold, TruncateLength: c.TruncateLength}
}

// LogValue renders the config compactly in structured logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("api_url", c.APIURL),
		slog.Duration("poll_interval", c.PollInterval.D()),
		slog.Duration("request_timeout", c.RequestTimeout.D()),
		slog.Bool("persist_expansion", c.PersistExpansion),
		slog.String("state_dir", c.StateDir),
		slog.String("journal", c.Journal),
	)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("api_url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be an http(s) URL", raw)
	}
	return nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
