// Package threadsync keeps the active thread's transcript and introspection
// data consistent with the agent server.
//
// The Controller polls a cheap staleness token and only pulls the full state
// when the token moved past the cached one. Network calls run in short-lived
// goroutines; results reach the UI as tea messages through a Notifier.
package threadsync

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

// DefaultInterval is the probe period
const DefaultInterval = time.Second

// stopTimeout bounds how long Stop waits for a polling loop to exit.
const stopTimeout = 2 * time.Second

// StateSource is the remote side of the sync. *client.Client satisfies it.
type StateSource interface {
	State(ctx context.Context, threadID string) (*model.ThreadState, error)
	LastUpdate(ctx context.Context, threadID string) (model.Timestamp, error)
	SendMessage(ctx context.Context, threadID, content string) error
}

// Notifier delivers messages to the UI. *tea.Program satisfies it.
type Notifier interface {
	Send(msg tea.Msg)
}

// Recorder receives every successfully fetched state.
type Recorder interface {
	Record(ctx context.Context, threadID string, st *model.ThreadState) error
}

// ControllerState is the lifecycle state of the Controller.
type ControllerState int

const (
	// StateIdle means no thread was ever started.
	StateIdle ControllerState = iota
	// StateStarting means a session exists but its first fetch has not
	// resolved yet.
	StateStarting
	// StatePolling means the session is probing on its interval.
	StatePolling
	// StateStopped means polling was cancelled.
	StateStopped
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures a Controller.
type Config struct {
	Source   StateSource
	Notifier Notifier      // optional
	Recorder Recorder      // optional
	Interval time.Duration // 0 means DefaultInterval
	Logger   *slog.Logger  // nil means slog.Default()
}

// Stats are point-in-time counters.
type Stats struct {
	Probes        int64 `json:"probes"`
	SkippedProbes int64 `json:"skipped_probes"`
	Fetches       int64 `json:"fetches"`
	Errors        int64 `json:"errors"`
	DroppedStale  int64 `json:"dropped_stale"`
}

// Controller owns the active Session and its polling loop.
type Controller struct {
	source   StateSource
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger

	lifecycle sync.Mutex // orders Start and Stop

	mu         sync.Mutex
	state      ControllerState
	interval   time.Duration
	session    *Session
	generation uint64

	probes        atomic.Int64
	skippedProbes atomic.Int64
	fetches       atomic.Int64
	errors        atomic.Int64
	droppedStale  atomic.Int64
}

// NewController builds an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		source:   cfg.Source,
		notifier: cfg.Notifier,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		interval: cfg.Interval,
		state:    StateIdle,
	}
}

// SetNotifier sets the message sink. The tea.Program only exists after the
// model it runs was built, so the two are wired late.
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// Start replaces the active session with a fresh one for threadID and
// returns its generation. Start does not block: the previous session is
// cancelled, and the new polling loop waits for the old one to exit before
// it delivers SessionStartedMsg and runs the first fetch.
func (c *Controller) Start(threadID string) uint64 {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	old := c.session
	c.generation++
	s := newSession(threadID, c.generation)
	c.session = s
	c.state = StateStarting
	interval := c.interval
	c.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	c.logger.Info("threadsync: session started", "thread", threadID, "generation", s.generation)

	go c.run(s, old, interval)
	return s.generation
}

// Stop cancels polling without waiting for in-flight calls; their results
// are dropped. Stop is idempotent. Cached data stays readable.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopped && c.session != nil {
		c.session.cancel()
	}
	c.state = StateStopped
}

// Wait blocks until the polling loop of the current session has exited or
// ctx is done. Call it after Stop.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) waitExit(s *Session) {
	if s == nil {
		return
	}
	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		c.logger.Warn("threadsync: polling loop did not exit in time", "thread", s.threadID)
	}
}

// SetInterval changes the probe period, including for the running loop.
func (c *Controller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case <-s.intervalCh:
	default:
	}
	select {
	case s.intervalCh <- d:
	default:
	}
}

// Interval returns the configured probe period
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// State returns the lifecycle state
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the active session; zero when none.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Snapshot{}
	}
	return c.session.Snapshot()
}

// Stats returns the current counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Probes:        c.probes.Load(),
		SkippedProbes: c.skippedProbes.Load(),
		Fetches:       c.fetches.Load(),
		Errors:        c.errors.Load(),
		DroppedStale:  c.droppedStale.Load(),
	}
}

// SendMessage posts content to threadID and then fetches the full state,
// bypassing the probe. The transcript is not touched locally. A threadID
// that is not the active session gets ErrSessionClosed and nothing is sent.
func (c *Controller) SendMessage(ctx context.Context, threadID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	s := c.current()
	if s == nil {
		return ErrNoSession
	}
	if s.threadID != threadID {
		c.droppedStale.Add(1)
		return ErrSessionClosed
	}
	if err := c.source.SendMessage(ctx, s.threadID, content); err != nil {
		c.fail(s, "send", err)
		return err
	}
	return c.fetchAndWait(ctx, s)
}

// Probe checks the staleness token once. A remote value strictly greater
// than the cached one triggers a full fetch, which Probe waits for.
func (c *Controller) Probe(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return ErrNoSession
	}
	return c.probe(ctx, s, true)
}

// FetchFullState pulls the full state of the active thread. Requests made
// while a fetch is in flight are coalesced into one follow-up fetch, which
// is the one this call waits for.
func (c *Controller) FetchFullState(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return ErrNoSession
	}
	return c.fetchAndWait(ctx, s)
}

func (c *Controller) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return nil
	}
	return c.session
}

// live reports whether s is still the active, uncancelled session.
// Callers hold c.mu.
func (c *Controller) live(s *Session) bool {
	return c.session == s && s.ctx.Err() == nil
}

// run owns a session's lifetime: it lets the previous loop drain, announces
// the session and polls until cancelled.
func (c *Controller) run(s *Session, prev *Session, interval time.Duration) {
	defer close(s.done)

	c.waitExit(prev)
	if s.ctx.Err() != nil {
		c.mu.Lock()
		s.closing = true
		c.mu.Unlock()
		s.wg.Wait()
		return
	}
	c.notify(SessionStartedMsg{ThreadID: s.threadID, Generation: s.generation})
	c.loop(s, interval)
}

func (c *Controller) loop(s *Session, interval time.Duration) {
	c.requestFetch(s, nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			c.mu.Lock()
			s.closing = true
			c.mu.Unlock()
			s.wg.Wait()
			c.logger.Debug("threadsync: polling stopped", "thread", s.threadID)
			return

		case d := <-s.intervalCh:
			ticker.Reset(d)

		case <-ticker.C:
			c.spawnProbe(s)
		}
	}
}

func (c *Controller) spawnProbe(s *Session) {
	c.mu.Lock()
	if s.closing || s.probing {
		c.mu.Unlock()
		c.skippedProbes.Add(1)
		return
	}
	s.probing = true
	s.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_ = c.probe(s.ctx, s, false)
		c.mu.Lock()
		s.probing = false
		c.mu.Unlock()
	}()
}

func (c *Controller) probe(ctx context.Context, s *Session, wait bool) error {
	c.probes.Add(1)
	remote, err := c.source.LastUpdate(ctx, s.threadID)
	if err != nil {
		c.fail(s, "probe", err)
		return err
	}

	c.mu.Lock()
	if !c.live(s) {
		c.mu.Unlock()
		c.droppedStale.Add(1)
		return ErrSessionClosed
	}
	cached := s.lastUpdate
	reconnected := !s.connected
	s.connected = true
	c.mu.Unlock()

	if reconnected {
		c.logger.Info("threadsync: reconnected", "thread", s.threadID)
		c.notify(ConnectivityMsg{ThreadID: s.threadID, Generation: s.generation, Connected: true})
	}

	if remote <= cached {
		return nil
	}
	c.logger.Debug("threadsync: remote state is newer", "thread", s.threadID,
		"remote", float64(remote), "cached", float64(cached))
	if wait {
		return c.fetchAndWait(ctx, s)
	}
	c.requestFetch(s, nil)
	return nil
}

func (c *Controller) fetchAndWait(ctx context.Context, s *Session) error {
	done := make(chan error, 1)
	c.requestFetch(s, done)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestFetch starts a fetch run, or marks the running one dirty so exactly
// one follow-up run happens. A non-nil wait channel receives the result of
// the first run that starts after this call.
func (c *Controller) requestFetch(s *Session, wait chan error) {
	c.mu.Lock()
	if s.closing || s.ctx.Err() != nil {
		c.mu.Unlock()
		if wait != nil {
			wait <- ErrSessionClosed
		}
		return
	}
	if wait != nil {
		s.pending = append(s.pending, wait)
	}
	if s.fetching {
		s.dirty = true
		c.mu.Unlock()
		return
	}
	s.fetching = true
	s.wg.Add(1)
	c.mu.Unlock()

	go c.fetchLoop(s)
}

func (c *Controller) fetchLoop(s *Session) {
	defer s.wg.Done()
	for {
		c.mu.Lock()
		waiters := s.pending
		s.pending = nil
		s.dirty = false
		c.mu.Unlock()

		err := c.fetchOnce(s)
		for _, w := range waiters {
			w <- err
		}

		c.mu.Lock()
		if s.dirty && !s.closing && s.ctx.Err() == nil {
			c.mu.Unlock()
			continue
		}
		s.fetching = false
		leftover := s.pending
		s.pending = nil
		c.mu.Unlock()

		for _, w := range leftover {
			w <- ErrSessionClosed
		}
		return
	}
}

func (c *Controller) fetchOnce(s *Session) error {
	c.fetches.Add(1)
	st, err := c.source.State(s.ctx, s.threadID)
	if err != nil {
		c.fail(s, "fetch", err)
		return err
	}

	c.mu.Lock()
	if !c.live(s) {
		c.mu.Unlock()
		c.droppedStale.Add(1)
		return ErrSessionClosed
	}
	reconnected := !s.connected
	s.apply(st)
	if c.state == StateStarting {
		c.state = StatePolling
	}
	snap := s.Snapshot()
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.Record(s.ctx, s.threadID, st); err != nil {
			c.logger.Warn("threadsync: record state", "thread", s.threadID, "error", err)
		}
	}
	if reconnected {
		c.notify(ConnectivityMsg{ThreadID: s.threadID, Generation: s.generation, Connected: true})
	}
	c.notify(StateSyncedMsg{Snapshot: snap})
	return nil
}

// fail downgrades connectivity and keeps every cached value.
func (c *Controller) fail(s *Session, phase string, err error) {
	c.mu.Lock()
	if !c.live(s) {
		c.mu.Unlock()
		c.droppedStale.Add(1)
		return
	}
	syncErr := s.recordFailure(phase, err)
	if phase == "fetch" && c.state == StateStarting {
		c.state = StatePolling
	}
	c.mu.Unlock()

	c.errors.Add(1)
	c.logger.Warn("threadsync: "+phase+" failed", "thread", s.threadID, "retries", syncErr.Retries, "error", err)
	c.notify(ConnectivityMsg{ThreadID: s.threadID, Generation: s.generation, Connected: false, Err: syncErr})
}

func (c *Controller) notify(msg tea.Msg) {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n.Send(msg)
	}
}
