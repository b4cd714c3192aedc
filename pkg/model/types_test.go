package model

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestRole_IsValid(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want bool
	}{
		{"User", RoleUser, true},
		{"Assistant", RoleAssistant, true},
		{"System", "system", false},
		{"Empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.IsValid(); got != tt.want {
				t.Errorf("Role.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRole_IsUser(t *testing.T) {
	if !RoleUser.IsUser() {
		t.Error("RoleUser.IsUser() = false")
	}
	for _, r := range []Role{RoleAssistant, "system", ""} {
		if r.IsUser() {
			t.Errorf("Role(%q).IsUser() = true", r)
		}
	}
}

func TestThread_Validate(t *testing.T) {
	tests := []struct {
		name    string
		thread  Thread
		wantErr string
	}{
		{"Valid", Thread{ID: "t1", CreatedAt: 10, LastUpdate: 20}, ""},
		{"NeverUpdated", Thread{ID: "t1", CreatedAt: 10}, ""},
		{"EmptyID", Thread{}, "thread ID cannot be empty"},
		{"UpdateBeforeCreate", Thread{ID: "t1", CreatedAt: 20, LastUpdate: 10}, "cannot be before created_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.thread.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestThread_ActivityTime(t *testing.T) {
	if got := (Thread{CreatedAt: 5}).ActivityTime(); got != 5 {
		t.Errorf("ActivityTime() = %v, want 5", float64(got))
	}
	if got := (Thread{CreatedAt: 5, LastUpdate: 9}).ActivityTime(); got != 9 {
		t.Errorf("ActivityTime() = %v, want 9", float64(got))
	}
}

func TestThreadList_Find(t *testing.T) {
	list := &ThreadList{Threads: []Thread{{ID: "a"}, {ID: "b", Model: "m"}}}
	if got := list.Find("b"); got == nil || got.Model != "m" {
		t.Fatalf("Find(b) = %+v", got)
	}
	if got := list.Find("zzz"); got != nil {
		t.Fatalf("Find(zzz) = %+v, want nil", got)
	}
	var nilList *ThreadList
	if nilList.Find("a") != nil {
		t.Fatal("nil list should find nothing")
	}
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Timestamp
		wantErr bool
	}{
		{"Float", `1712345678.25`, 1712345678.25, false},
		{"Integer", `42`, 42, false},
		{"Null", `null`, 0, false},
		{"String", `"yesterday"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && ts != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, float64(ts), float64(tt.want))
			}
		})
	}
}

func TestTimestamp_TimeAndString(t *testing.T) {
	var zero Timestamp
	if !zero.IsZero() || !zero.Time().IsZero() {
		t.Error("zero timestamp should map to zero time")
	}
	if zero.String() != "Unknown" {
		t.Errorf("zero.String() = %q, want Unknown", zero.String())
	}

	ts := Timestamp(1700000000.5)
	want := time.Unix(1700000000, 500000000)
	if !ts.Time().Equal(want) {
		t.Errorf("Time() = %v, want %v", ts.Time(), want)
	}
	if got := ts.String(); got != want.Local().Format("2006-01-02 15:04:05") {
		t.Errorf("String() = %q", got)
	}
}

func TestThreadState_DecodeAndNormalize(t *testing.T) {
	raw := `{
		"thread_id": "t1",
		"chat_history": [
			{"role": "user", "content": "hi", "metadata": {"time": 1.5, "completed": true}},
			{"role": "assistant", "content": "hello"}
		],
		"blackboard": "{\"b\": 1, \"a\": {\"x\": [true, null]}}",
		"description": "desc",
		"tree_html": "<ul></ul>",
		"last_update": 12.5
	}`
	var st ThreadState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	st.Normalize()

	if st.ThreadID != "t1" || st.LastUpdate != 12.5 {
		t.Errorf("unexpected header fields: %+v", st)
	}
	if len(st.ChatHistory) != 2 || !st.ChatHistory[0].Metadata.Completed {
		t.Fatalf("chat history not decoded: %+v", st.ChatHistory)
	}
	if st.ChatHistory[1].Metadata.Time != 0 {
		t.Errorf("missing metadata should decode as zero, got %v", float64(st.ChatHistory[1].Metadata.Time))
	}
	if st.Blackboard.Kind() != KindMapping {
		t.Fatalf("blackboard kind = %v, want mapping", st.Blackboard.Kind())
	}
	fields := st.Blackboard.Fields()
	if len(fields) != 2 || fields[0].Key != "b" || fields[1].Key != "a" {
		t.Errorf("blackboard key order not preserved: %+v", fields)
	}
}

func TestThreadState_NormalizeDefaults(t *testing.T) {
	var st ThreadState
	if err := json.Unmarshal([]byte(`{"thread_id":"t1","last_update":null}`), &st); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	st.Normalize()
	if st.ChatHistory == nil || len(st.ChatHistory) != 0 {
		t.Errorf("ChatHistory = %v, want empty slice", st.ChatHistory)
	}
	if st.Blackboard.Kind() != KindMapping || st.Blackboard.Len() != 0 {
		t.Errorf("missing blackboard should normalize to empty mapping, got %v", st.Blackboard.Kind())
	}
	if st.LastUpdate != 0 {
		t.Errorf("null last_update should decode as 0")
	}
}

func TestThreadList_Decode(t *testing.T) {
	raw := `{"threads":[{"id":"t1","type":"chat","model":"gpt","created_at":1,"last_update":null}],
		"available_trees":["chat","research"],"available_models":["gpt","claude"]}`
	var list ThreadList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(list.Threads) != 1 || list.Threads[0].LastUpdate != 0 {
		t.Fatalf("threads = %+v", list.Threads)
	}
	if len(list.AvailableTrees) != 2 || list.AvailableModels[1] != "claude" {
		t.Errorf("catalogs not decoded: %+v", list)
	}
}
