package threadsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

const never = time.Hour

// fakeSource is an in-memory agent server.
type fakeSource struct {
	mu       sync.Mutex
	remote   map[string]model.Timestamp
	states   map[string]*model.ThreadState
	stateErr error
	probeErr error
	sendErr  error
	sent     []string
	gates    map[string]chan struct{} // State blocks until the gate closes

	stateCalls atomic.Int64
	probeCalls atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		remote: map[string]model.Timestamp{},
		states: map[string]*model.ThreadState{},
		gates:  map[string]chan struct{}{},
	}
}

func (f *fakeSource) setState(threadID string, lastUpdate model.Timestamp, messages ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := make([]model.Message, 0, len(messages))
	for i, m := range messages {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		history = append(history, model.Message{Role: role, Content: m})
	}
	f.states[threadID] = &model.ThreadState{
		ThreadID:    threadID,
		ChatHistory: history,
		Blackboard:  model.NewMapping(model.Field{Key: "thread", Value: model.NewString(threadID)}),
		Description: "tree for " + threadID,
		LastUpdate:  lastUpdate,
	}
	f.remote[threadID] = lastUpdate
}

func (f *fakeSource) setRemote(threadID string, ts model.Timestamp) {
	f.mu.Lock()
	f.remote[threadID] = ts
	f.mu.Unlock()
}

func (f *fakeSource) gate(threadID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[threadID] = g
	return g
}

func (f *fakeSource) State(ctx context.Context, threadID string) (*model.ThreadState, error) {
	f.stateCalls.Add(1)
	f.mu.Lock()
	g := f.gates[threadID]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	st, ok := f.states[threadID]
	if !ok {
		return &model.ThreadState{ThreadID: threadID, ChatHistory: []model.Message{}, Blackboard: model.NewMapping()}, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeSource) LastUpdate(ctx context.Context, threadID string) (model.Timestamp, error) {
	f.probeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.remote[threadID], nil
}

func (f *fakeSource) SendMessage(ctx context.Context, threadID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

type chanNotifier struct {
	ch chan tea.Msg
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{ch: make(chan tea.Msg, 256)}
}

func (n *chanNotifier) Send(msg tea.Msg) { n.ch <- msg }

// waitSynced drains messages until a StateSyncedMsg for threadID arrives.
func (n *chanNotifier) waitSynced(t *testing.T, threadID string) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-n.ch:
			if m, ok := msg.(StateSyncedMsg); ok && m.Snapshot.ThreadID == threadID {
				return m.Snapshot
			}
		case <-timeout:
			t.Fatalf("timed out waiting for StateSyncedMsg(%s)", threadID)
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type recorderFunc func(ctx context.Context, threadID string, st *model.ThreadState) error

func (f recorderFunc) Record(ctx context.Context, threadID string, st *model.ThreadState) error {
	return f(ctx, threadID, st)
}

func newTestController(src *fakeSource, n *chanNotifier) *Controller {
	return NewController(Config{Source: src, Notifier: n, Interval: never})
}

func TestController_InitialState(t *testing.T) {
	c := newTestController(newFakeSource(), newChanNotifier())
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
	if !c.Snapshot().Empty() {
		t.Error("Snapshot() should be empty before Start")
	}
	if err := c.Probe(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Probe() without session = %v, want ErrNoSession", err)
	}
	if err := c.FetchFullState(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("FetchFullState() without session = %v", err)
	}
	if c.Interval() != never {
		t.Errorf("Interval() = %v", c.Interval())
	}
}

func TestController_StartFetchesImmediately(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 5, "hello", "hi there")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")

	first := <-n.ch
	started, ok := first.(SessionStartedMsg)
	if !ok || started.ThreadID != "t1" || started.Generation != 1 {
		t.Fatalf("first message = %#v, want SessionStartedMsg(t1)", first)
	}

	snap := n.waitSynced(t, "t1")
	if len(snap.ChatHistory) != 2 || snap.LastUpdate != 5 || !snap.Connected || !snap.Synced {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Description != "tree for t1" {
		t.Errorf("Description = %q", snap.Description)
	}
	waitUntil(t, "polling state", func() bool { return c.State() == StatePolling })
}

func TestController_ProbeFetchesOnlyWhenNewer(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 5, "a")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")
	base := src.stateCalls.Load()

	// Equal token: no fetch.
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got := src.stateCalls.Load(); got != base {
		t.Fatalf("probe with equal token fetched (%d -> %d)", base, got)
	}

	// Older token: no fetch.
	src.setRemote("t1", 4)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got := src.stateCalls.Load(); got != base {
		t.Fatalf("probe with older token fetched")
	}

	// Newer token: exactly one fetch.
	src.setState("t1", 6, "a", "b")
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got := src.stateCalls.Load(); got != base+1 {
		t.Fatalf("probe with newer token: %d fetches, want 1", got-base)
	}
	snap := c.Snapshot()
	if snap.LastUpdate != 6 || len(snap.ChatHistory) != 2 {
		t.Errorf("snapshot after probe = %+v", snap)
	}
}

func TestController_LastUpdateNeverDecreases(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 10, "a")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")

	src.setState("t1", 3, "a", "b", "c")
	if err := c.FetchFullState(context.Background()); err != nil {
		t.Fatalf("FetchFullState: %v", err)
	}
	snap := c.Snapshot()
	if snap.LastUpdate != 10 {
		t.Errorf("LastUpdate = %v, want 10", float64(snap.LastUpdate))
	}
	if len(snap.ChatHistory) != 3 {
		t.Errorf("transcript should still be replaced, got %d entries", len(snap.ChatHistory))
	}
}

func TestController_SendMessageReplacesTranscript(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 1)
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")
	if got := len(c.Snapshot().ChatHistory); got != 0 {
		t.Fatalf("initial transcript has %d entries", got)
	}

	src.setState("t1", 2, "hi", "hello")
	before := src.stateCalls.Load()
	if err := c.SendMessage(context.Background(), "t1", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if src.stateCalls.Load() != before+1 {
		t.Errorf("SendMessage should fetch exactly once")
	}
	snap := c.Snapshot()
	if len(snap.ChatHistory) != 2 || snap.ChatHistory[0].Content != "hi" || snap.ChatHistory[1].Content != "hello" {
		t.Errorf("transcript = %+v", snap.ChatHistory)
	}
	src.mu.Lock()
	sent := append([]string(nil), src.sent...)
	src.mu.Unlock()
	if len(sent) != 1 || sent[0] != "hi" {
		t.Errorf("sent = %v", sent)
	}
}

func TestController_SendMessageValidation(t *testing.T) {
	src := newFakeSource()
	c := newTestController(src, newChanNotifier())
	if err := c.SendMessage(context.Background(), "t1", "hi"); !errors.Is(err, ErrNoSession) {
		t.Errorf("SendMessage without session = %v", err)
	}
	c.Start("t1")
	defer c.Stop()
	if err := c.SendMessage(context.Background(), "t1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("SendMessage(blank) = %v", err)
	}
}

func TestController_SendMessageChecksThread(t *testing.T) {
	src := newFakeSource()
	src.setState("A", 1)
	src.setState("B", 1)
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("A")
	n.waitSynced(t, "A")

	// Typed while A was open, delivered after the switch to B
	c.Start("B")
	if err := c.SendMessage(context.Background(), "A", "hello"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendMessage(A) after switch = %v, want ErrSessionClosed", err)
	}
	if err := c.SendMessage(context.Background(), "B", "hello"); err != nil {
		t.Fatalf("SendMessage(B): %v", err)
	}
	src.mu.Lock()
	sent := append([]string(nil), src.sent...)
	src.mu.Unlock()
	if len(sent) != 1 {
		t.Errorf("sent = %v, want exactly the message for B", sent)
	}
	if !c.Snapshot().Connected {
		t.Error("a refused send must not mark the session disconnected")
	}
}

func TestController_StartDoesNotBlock(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 1, "a")
	gate := src.gate("t1")
	n := newChanNotifier()
	c := newTestController(src, n)

	c.Start("t1")
	waitUntil(t, "t1 fetch in flight", func() bool { return src.stateCalls.Load() == 1 })

	// The t1 loop is still draining its fetch; Start and Stop return anyway
	done := make(chan uint64, 1)
	go func() { done <- c.Start("t2") }()
	select {
	case gen := <-done:
		if gen != 2 {
			t.Errorf("generation = %d, want 2", gen)
		}
	case <-time.After(time.Second):
		t.Fatal("Start blocked on the previous session")
	}
	c.Stop()
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
}

func TestController_SendFailureSkipsFetch(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 1, "a")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")

	src.mu.Lock()
	src.sendErr = errors.New("boom")
	src.mu.Unlock()
	before := src.stateCalls.Load()

	err := c.SendMessage(context.Background(), "t1", "hi")
	if err == nil {
		t.Fatal("expected send error")
	}
	if src.stateCalls.Load() != before {
		t.Error("failed send should not fetch")
	}
	if c.Snapshot().Connected {
		t.Error("failed send should mark disconnected")
	}
}

func TestController_FailureKeepsCache(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 5, "a", "b")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")

	boom := errors.New("connection refused")
	src.mu.Lock()
	src.stateErr = boom
	src.probeErr = boom
	src.mu.Unlock()

	if err := c.FetchFullState(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("FetchFullState() = %v, want boom", err)
	}
	if err := c.Probe(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Probe() = %v, want boom", err)
	}

	snap := c.Snapshot()
	if snap.Connected {
		t.Error("Connected should be false after failures")
	}
	if len(snap.ChatHistory) != 2 || snap.LastUpdate != 5 {
		t.Errorf("cached data lost: %+v", snap)
	}
	var syncErr *SyncError
	if !errors.As(snap.LastError, &syncErr) || syncErr.Phase != "probe" || syncErr.Retries != 2 {
		t.Errorf("LastError = %#v", snap.LastError)
	}
	if !errors.Is(snap.LastError, boom) {
		t.Error("SyncError should unwrap to its cause")
	}

	var sawDisconnect bool
	for len(n.ch) > 0 {
		if m, ok := (<-n.ch).(ConnectivityMsg); ok && !m.Connected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Error("expected a ConnectivityMsg{Connected: false}")
	}

	// Recovery: a successful probe restores connectivity.
	src.mu.Lock()
	src.stateErr = nil
	src.probeErr = nil
	src.mu.Unlock()
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe after recovery: %v", err)
	}
	if !c.Snapshot().Connected {
		t.Error("Connected should be restored")
	}
	if c.Stats().Errors != 2 {
		t.Errorf("Stats().Errors = %d, want 2", c.Stats().Errors)
	}
}

func TestController_ThreadSwitchResets(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 10, "a", "b")
	src.setState("t2", 3, "x")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")

	gate := src.gate("t2")
	c.Start("t2")

	// Before the first fetch for t2 resolves.
	snap := c.Snapshot()
	if snap.ThreadID != "t2" || snap.Generation != 2 {
		t.Fatalf("snapshot not switched: %+v", snap)
	}
	if snap.LastUpdate != 0 || len(snap.ChatHistory) != 0 || snap.Blackboard.Len() != 0 || snap.Synced {
		t.Errorf("session not reset: %+v", snap)
	}
	if !snap.Connected {
		t.Error("a new session starts connected")
	}
	if c.State() != StateStarting {
		t.Errorf("State() = %v, want starting", c.State())
	}

	close(gate)
	got := n.waitSynced(t, "t2")
	if got.LastUpdate != 3 || len(got.ChatHistory) != 1 {
		t.Errorf("t2 snapshot = %+v", got)
	}
}

func TestController_StaleResultsDropped(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 10, "old")
	src.setState("t2", 1, "new")
	gate := src.gate("t1")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	waitUntil(t, "t1 fetch in flight", func() bool { return src.stateCalls.Load() == 1 })

	c.Start("t2")
	close(gate)
	n.waitSynced(t, "t2")

	snap := c.Snapshot()
	if snap.ThreadID != "t2" || snap.LastUpdate != 1 || snap.ChatHistory[0].Content != "new" {
		t.Errorf("t2 polluted by t1 result: %+v", snap)
	}
	if !snap.Connected {
		t.Error("cancelled t1 fetch must not mark t2 disconnected")
	}
	if c.Stats().DroppedStale == 0 {
		t.Error("expected the cancelled t1 fetch to be dropped")
	}
}

func TestController_CoalescesFetches(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 1, "a")
	gate := src.gate("t1")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	waitUntil(t, "initial fetch in flight", func() bool { return src.stateCalls.Load() == 1 })

	const callers = 3
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errs <- c.FetchFullState(context.Background()) }()
	}
	waitUntil(t, "callers to queue", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.session.dirty && len(c.session.pending) == callers
	})

	close(gate)
	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("FetchFullState: %v", err)
		}
	}
	if got := src.stateCalls.Load(); got != 2 {
		t.Errorf("state fetched %d times, want 2 (initial + one coalesced)", got)
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 1, "a")
	n := newChanNotifier()
	c := newTestController(src, n)

	c.Stop() // before Start
	c.Start("t1")
	n.waitSynced(t, "t1")
	c.Stop()
	c.Stop()

	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
	if err := c.Probe(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Probe() after Stop = %v", err)
	}
	if c.Snapshot().ThreadID != "t1" {
		t.Error("cached data should stay readable after Stop")
	}
}

func TestController_PollingLoop(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 1, "a")
	n := newChanNotifier()
	c := NewController(Config{Source: src, Notifier: n, Interval: 5 * time.Millisecond})
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")
	waitUntil(t, "probes", func() bool { return src.probeCalls.Load() >= 3 })

	src.setState("t1", 2, "a", "b")
	snap := n.waitSynced(t, "t1")
	if snap.LastUpdate != 2 || len(snap.ChatHistory) != 2 {
		t.Errorf("loop did not pick up newer state: %+v", snap)
	}
}

func TestController_SetInterval(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 1, "a")
	n := newChanNotifier()
	c := newTestController(src, n)
	defer c.Stop()

	c.Start("t1")
	n.waitSynced(t, "t1")
	if src.probeCalls.Load() != 0 {
		t.Fatal("no probe expected with an hour interval")
	}

	c.SetInterval(5 * time.Millisecond)
	waitUntil(t, "probes after SetInterval", func() bool { return src.probeCalls.Load() >= 2 })

	c.SetInterval(0)
	if c.Interval() != 5*time.Millisecond {
		t.Errorf("non-positive interval should be ignored, got %v", c.Interval())
	}
}

func TestController_Recorder(t *testing.T) {
	src := newFakeSource()
	src.setState("t1", 4, "a")
	n := newChanNotifier()

	var (
		mu       sync.Mutex
		recorded []model.Timestamp
	)
	rec := recorderFunc(func(ctx context.Context, threadID string, st *model.ThreadState) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, st.LastUpdate)
		return errors.New("disk full")
	})
	c := NewController(Config{Source: src, Notifier: n, Recorder: rec, Interval: never})
	defer c.Stop()

	c.Start("t1")
	snap := n.waitSynced(t, "t1")
	if !snap.Connected {
		t.Error("recorder failure must not affect connectivity")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(recorded) != 1 || recorded[0] != 4 {
		t.Errorf("recorded = %v", recorded)
	}
}

func TestControllerState_String(t *testing.T) {
	tests := map[ControllerState]string{
		StateIdle:          "idle",
		StateStarting:      "starting",
		StatePolling:       "polling",
		StateStopped:       "stopped",
		ControllerState(9): "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestSyncError(t *testing.T) {
	cause := errors.New("refused")
	err := newSyncError("fetch", cause, 3)
	if err.Error() != "fetch failed: refused (retries: 3)" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("SyncError should unwrap")
	}
}
