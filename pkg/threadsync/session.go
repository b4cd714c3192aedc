package threadsync

import (
	"context"
	"sync"
	"time"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

// Session is the client-side state of the active thread. It is owned by the
// Controller and guarded by the Controller's mutex; readers get immutable
// Snapshot copies.
type Session struct {
	threadID   string
	generation uint64

	lastUpdate  model.Timestamp // never decreases while the session lives
	connected   bool
	synced      bool // first full fetch resolved
	chatHistory []model.Message
	blackboard  model.Value
	description string
	treeHTML    string
	modelName   string
	lastErr     *SyncError
	errCount    int

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	intervalCh chan time.Duration
	wg         sync.WaitGroup
	closing    bool // no new network goroutines once set

	// Coalescing
	probing  bool
	fetching bool
	dirty    bool         // another fetch was requested while one ran
	pending  []chan error // waiters served by the next fetch run
}

func newSession(threadID string, generation uint64) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		threadID:    threadID,
		generation:  generation,
		connected:   true,
		chatHistory: []model.Message{},
		blackboard:  model.NewMapping(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		intervalCh:  make(chan time.Duration, 1),
	}
}

// ThreadID returns the thread this session follows
func (s *Session) ThreadID() string { return s.threadID }

// apply replaces the cached data with a full state. lastUpdate only moves
// forward.
func (s *Session) apply(st *model.ThreadState) {
	if st.LastUpdate > s.lastUpdate {
		s.lastUpdate = st.LastUpdate
	}
	s.chatHistory = st.ChatHistory
	if s.chatHistory == nil {
		s.chatHistory = []model.Message{}
	}
	s.blackboard = st.Blackboard
	s.description = st.Description
	s.treeHTML = st.TreeHTML
	if st.Model != "" {
		s.modelName = st.Model
	}
	s.connected = true
	s.synced = true
	s.lastErr = nil
	s.errCount = 0
}

func (s *Session) recordFailure(phase string, err error) *SyncError {
	s.connected = false
	s.errCount++
	s.lastErr = newSyncError(phase, err, s.errCount)
	return s.lastErr
}

// Snapshot copies the session state. The transcript and blackboard are
// replaced wholesale on every fetch and never mutated in place, so sharing
// them is safe.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ThreadID:    s.threadID,
		Generation:  s.generation,
		LastUpdate:  s.lastUpdate,
		Connected:   s.connected,
		Synced:      s.synced,
		ChatHistory: s.chatHistory,
		Blackboard:  s.blackboard,
		Description: s.description,
		TreeHTML:    s.treeHTML,
		Model:       s.modelName,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr
	}
	return snap
}

// Snapshot is a read-only view of a Session
type Snapshot struct {
	ThreadID    string
	Generation  uint64
	LastUpdate  model.Timestamp
	Connected   bool
	Synced      bool
	ChatHistory []model.Message
	Blackboard  model.Value
	Description string
	TreeHTML    string
	Model       string
	LastError   error
}

// Empty reports whether no thread is active
func (s Snapshot) Empty() bool {
	return s.ThreadID == ""
}
