package threadsync

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSession is returned when an operation needs an active thread.
	ErrNoSession = errors.New("no active thread")
	// ErrSessionClosed is returned to callers whose request outlived the
	// session it was made for.
	ErrSessionClosed = errors.New("thread session closed")
	// ErrEmptyMessage is returned by SendMessage for blank content.
	ErrEmptyMessage = errors.New("message is empty")
)

// SyncError wraps a failed network call with phase and retry context.
type SyncError struct {
	Phase   string    // "probe", "fetch", "send"
	Cause   error     // The underlying error
	Time    time.Time // When the error occurred
	Retries int       // Consecutive failures in this session
}

func newSyncError(phase string, cause error, retries int) *SyncError {
	return &SyncError{Phase: phase, Cause: cause, Time: time.Now(), Retries: retries}
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed: %v (retries: %d)", e.Phase, e.Cause, e.Retries)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// SessionStartedMsg is sent when a new thread session replaces the previous
// one, before any fetch for it can resolve.
type SessionStartedMsg struct {
	ThreadID   string
	Generation uint64
}

// StateSyncedMsg is sent after every successful full-state fetch.
type StateSyncedMsg struct {
	Snapshot Snapshot
}

// ConnectivityMsg is sent when a call fails, and when a call succeeds after
// a failure.
type ConnectivityMsg struct {
	ThreadID   string
	Generation uint64
	Connected  bool
	Err        error
}
