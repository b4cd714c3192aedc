package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Thread is one conversation thread hosted by the agent server
type Thread struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Model      string    `json:"model"`
	CreatedAt  Timestamp `json:"created_at"`
	LastUpdate Timestamp `json:"last_update"`
}

// Validate checks if the thread data is usable by the client
func (t *Thread) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("thread ID cannot be empty")
	}
	if t.LastUpdate != 0 && t.CreatedAt != 0 && t.LastUpdate < t.CreatedAt {
		return fmt.Errorf("last_update (%v) cannot be before created_at (%v)", t.LastUpdate, t.CreatedAt)
	}
	return nil
}

// ActivityTime returns the most recent known activity for the thread.
// Falls back to creation time when the thread was never updated.
func (t Thread) ActivityTime() Timestamp {
	if t.LastUpdate != 0 {
		return t.LastUpdate
	}
	return t.CreatedAt
}

// ThreadList is the payload of GET /api/threads
type ThreadList struct {
	Threads         []Thread `json:"threads"`
	AvailableTrees  []string `json:"available_trees"`
	AvailableModels []string `json:"available_models"`
}

// Find returns the thread with the given ID, or nil.
func (l *ThreadList) Find(id string) *Thread {
	if l == nil {
		return nil
	}
	for i := range l.Threads {
		if l.Threads[i].ID == id {
			return &l.Threads[i]
		}
	}
	return nil
}

// ModelList is the payload of GET /api/models
type ModelList struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid returns true if the role is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	}
	return false
}

// IsUser reports whether the message was written by the human side.
// Every other role is shown as an assistant turn.
func (r Role) IsUser() bool {
	return r == RoleUser
}

// MessageMetadata carries server-side bookkeeping for a message
type MessageMetadata struct {
	Time      Timestamp `json:"time"`
	Completed bool      `json:"completed"`
}

// Message is a single chat transcript entry
type Message struct {
	Role     Role            `json:"role"`
	Content  string          `json:"content"`
	Metadata MessageMetadata `json:"metadata"`
}

// ThreadState is the payload of GET /api/state
type ThreadState struct {
	ThreadID    string    `json:"thread_id"`
	ChatHistory []Message `json:"chat_history"`
	Blackboard  Value     `json:"blackboard"`
	Description string    `json:"description"`
	TreeHTML    string    `json:"tree_html"`
	LastUpdate  Timestamp `json:"last_update"`
	Model       string    `json:"model,omitempty"`
}

// Normalize fills the defaults the server leaves out and decodes a
// JSON-encoded blackboard string into structured data.
func (s *ThreadState) Normalize() {
	if s.ChatHistory == nil {
		s.ChatHistory = []Message{}
	}
	s.Blackboard = NormalizeBlackboard(s.Blackboard)
}

// LastUpdateResponse is the payload of GET /api/last-update-time
type LastUpdateResponse struct {
	LastUpdate Timestamp `json:"last_update"`
	ThreadID   string    `json:"thread_id,omitempty"`
}

// CreateThreadRequest is the body of POST /api/threads
type CreateThreadRequest struct {
	TreeType  string `json:"tree_type"`
	ModelName string `json:"model_name,omitempty"`
}

// CreateThreadResponse is the payload of POST /api/threads
type CreateThreadResponse struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status,omitempty"`
}

// ChangeModelRequest is the body of PUT /api/threads/{id}/model
type ChangeModelRequest struct {
	ModelName string `json:"model_name"`
}

// SendMessageRequest is the body of POST /api/send-message
type SendMessageRequest struct {
	Content  string `json:"content"`
	ThreadID string `json:"thread_id"`
}

// Timestamp is a server-side epoch time in seconds. The server emits floats
// (time.time()) and sometimes null; null decodes as zero.
type Timestamp float64

// UnmarshalJSON accepts numbers and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*t = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*t = Timestamp(f)
	return nil
}

// Time converts the timestamp to a time.Time. Zero maps to the zero time.
func (t Timestamp) Time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(float64(t))
	return time.Unix(int64(sec), int64(frac*1e9))
}

// IsZero reports whether the timestamp was never set
func (t Timestamp) IsZero() bool {
	return t == 0
}

// String formats the timestamp for display, "Unknown" when unset.
func (t Timestamp) String() string {
	if t == 0 {
		return "Unknown"
	}
	return t.Time().Local().Format("2006-01-02 15:04:05")
}
