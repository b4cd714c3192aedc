// Package journal keeps a local SQLite log of every full thread state the
// client received, for post-mortem inspection of agent runs.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

// ErrNotFound is returned when a thread has no recorded state.
var ErrNotFound = errors.New("journal: no entry")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id    TEXT    NOT NULL,
	last_update  REAL    NOT NULL,
	fetched_at   INTEGER NOT NULL,
	model        TEXT    NOT NULL DEFAULT '',
	description  TEXT    NOT NULL DEFAULT '',
	chat_history TEXT    NOT NULL,
	blackboard   TEXT    NOT NULL,
	content_hash TEXT    NOT NULL
);
DROP INDEX IF EXISTS idx_snapshots_content;
CREATE INDEX IF NOT EXISTS idx_snapshots_thread ON snapshots(thread_id, id);
`

// Entry is one recorded state
type Entry struct {
	ID          int64
	ThreadID    string
	LastUpdate  model.Timestamp
	FetchedAt   time.Time
	Model       string
	Description string
	ChatHistory []model.Message
	Blackboard  model.Value
}

// Journal is safe for concurrent use.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores a fetched state. A state whose content equals the thread's
// most recent entry is skipped; a thread returning to older content gets a
// new entry.
func (j *Journal) Record(ctx context.Context, threadID string, st *model.ThreadState) error {
	if st == nil {
		return nil
	}
	chat, err := json.Marshal(st.ChatHistory)
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}
	board, err := st.Blackboard.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode blackboard: %w", err)
	}

	h := sha256.New()
	h.Write(chat)
	h.Write([]byte{0})
	h.Write(board)
	h.Write([]byte{0})
	h.Write([]byte(st.Description))
	hash := hex.EncodeToString(h.Sum(nil))

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT content_hash FROM snapshots WHERE thread_id = ? ORDER BY id DESC LIMIT 1`,
		threadID).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query previous snapshot: %w", err)
	}
	if prev == hash {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots
			(thread_id, last_update, fetched_at, model, description, chat_history, blackboard, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		threadID, float64(st.LastUpdate), j.now().UnixMilli(), st.Model, st.Description,
		string(chat), string(board), hash); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	j.logger.Debug("journal: recorded", "thread", threadID, "last_update", float64(st.LastUpdate))
	return nil
}

// Latest returns the most recently recorded state of a thread.
func (j *Journal) Latest(ctx context.Context, threadID string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, thread_id, last_update, fetched_at, model, description, chat_history, blackboard
		FROM snapshots WHERE thread_id = ? ORDER BY id DESC LIMIT 1`, threadID)

	var (
		e          Entry
		lastUpdate float64
		fetchedAt  int64
		chat       string
		board      string
	)
	err := row.Scan(&e.ID, &e.ThreadID, &lastUpdate, &fetchedAt, &e.Model, &e.Description, &chat, &board)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	e.LastUpdate = model.Timestamp(lastUpdate)
	e.FetchedAt = time.UnixMilli(fetchedAt)
	if err := json.Unmarshal([]byte(chat), &e.ChatHistory); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	if e.Blackboard, err = model.ParseValue([]byte(board)); err != nil {
		return nil, fmt.Errorf("decode blackboard: %w", err)
	}
	return &e, nil
}

// Count returns how many states were recorded for a thread.
func (j *Journal) Count(ctx context.Context, threadID string) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE thread_id = ?`, threadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// Threads lists the threads present in the journal, most recent first.
func (j *Journal) Threads(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT thread_id FROM snapshots GROUP BY thread_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
