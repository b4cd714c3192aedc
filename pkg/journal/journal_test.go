package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func state(lastUpdate model.Timestamp, messages ...string) *model.ThreadState {
	history := []model.Message{}
	for _, m := range messages {
		history = append(history, model.Message{Role: model.RoleUser, Content: m})
	}
	return &model.ThreadState{
		ChatHistory: history,
		Blackboard: model.NewMapping(
			model.Field{Key: "z", Value: model.NewInt(1)},
			model.Field{Key: "a", Value: model.NewSequence(model.NewString("x"))},
		),
		Description: "desc",
		Model:       "gpt",
		LastUpdate:  lastUpdate,
	}
}

func TestJournal_RecordAndLatest(t *testing.T) {
	j := setupJournal(t)
	fixed := time.UnixMilli(1700000000123)
	j.now = func() time.Time { return fixed }
	ctx := context.Background()

	if err := j.Record(ctx, "t1", state(1, "hi")); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(ctx, "t1", state(2, "hi", "there")); err != nil {
		t.Fatal(err)
	}

	e, err := j.Latest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if e.LastUpdate != 2 || len(e.ChatHistory) != 2 || e.Model != "gpt" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if !e.FetchedAt.Equal(fixed) {
		t.Errorf("FetchedAt = %v, want %v", e.FetchedAt, fixed)
	}
	if e.Blackboard.Fields()[0].Key != "z" {
		t.Error("blackboard key order not preserved")
	}
}

func TestJournal_DeduplicatesIdenticalContent(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := j.Record(ctx, "t1", state(5, "same")); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Record(ctx, "t2", state(5, "same")); err != nil {
		t.Fatal(err)
	}

	if n, _ := j.Count(ctx, "t1"); n != 1 {
		t.Errorf("Count(t1) = %d, want 1", n)
	}
	if n, _ := j.Count(ctx, "t2"); n != 1 {
		t.Errorf("Count(t2) = %d, want 1", n)
	}
}

func TestJournal_ReturnToEarlierContent(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	for _, st := range []*model.ThreadState{state(1, "a"), state(2, "a", "b"), state(3, "a")} {
		if err := j.Record(ctx, "t1", st); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := j.Count(ctx, "t1"); n != 3 {
		t.Errorf("Count(t1) = %d, want 3", n)
	}
	e, err := j.Latest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(e.ChatHistory) != 1 || e.LastUpdate != 3 {
		t.Errorf("Latest = %+v, want the returned-to state", e)
	}
}

func TestJournal_LatestMissing(t *testing.T) {
	j := setupJournal(t)
	if _, err := j.Latest(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest() = %v, want ErrNotFound", err)
	}
}

func TestJournal_Threads(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	_ = j.Record(ctx, "t1", state(1, "a"))
	_ = j.Record(ctx, "t2", state(1, "b"))
	_ = j.Record(ctx, "t1", state(2, "c"))

	got, err := j.Threads(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Errorf("Threads() = %v", got)
	}
}

func TestJournal_RecordNil(t *testing.T) {
	j := setupJournal(t)
	if err := j.Record(context.Background(), "t1", nil); err != nil {
		t.Errorf("Record(nil) = %v", err)
	}
}

func TestJournal_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(context.Background(), "t1", state(1, "a")); err != nil {
		t.Fatal(err)
	}
	j.Close()

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if n, _ := reopened.Count(context.Background(), "t1"); n != 1 {
		t.Errorf("entry not persisted, Count = %d", n)
	}
}
