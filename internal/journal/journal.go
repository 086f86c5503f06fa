// Package journal persists proxy events in a sqlite database so that the
// history of bridge restarts and pairings survives a proxy restart.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/logging"
)

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 50

// Entry is a journaled event.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// Journal is an append-only event log capped at maxEvents rows.
type Journal struct {
	db        *sql.DB
	maxEvents int
	logger    *logging.Logger
}

// Open opens (or creates) the database at path. maxEvents < 1 keeps every row.
func Open(path string, maxEvents int) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, maxEvents: maxEvents, logger: logging.NopLogger()}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		type TEXT NOT NULL,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
	`
	_, err := j.db.Exec(schema)
	return err
}

// SetLogger sets the logger used for failures while recording bus events.
func (j *Journal) SetLogger(logger *logging.Logger) {
	if logger != nil {
		j.logger = logger.WithComponent("journal")
	}
}

// Record stores e, assigning an ID and timestamp when missing, and prunes
// the oldest rows beyond the cap.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var details any
	if len(e.Details) > 0 {
		details = string(e.Details)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, type, details) VALUES (?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.Type, details)
	if err != nil {
		return e, fmt.Errorf("failed to record event: %w", err)
	}

	if j.maxEvents > 0 {
		if err := j.prune(ctx); err != nil {
			return e, err
		}
	}
	return e, nil
}

func (j *Journal) prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
		DELETE FROM events WHERE rowid NOT IN (
			SELECT rowid FROM events ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)`, j.maxEvents)
	if err != nil {
		return fmt.Errorf("failed to prune journal: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, type, details FROM events ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &details); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Timestamp = time.Unix(0, ts)
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count journal rows: %w", err)
	}
	return n, nil
}

// Attach records every event published on bus and returns the
// subscription ID.
func (j *Journal) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(func(e event.Event) {
		if _, err := j.Record(context.Background(), FromEvent(e)); err != nil {
			j.logger.Error("failed to journal event", "type", e.EventType(), "error", err)
		}
	})
}

// FromEvent converts a bus event into an Entry.
func FromEvent(e event.Event) Entry {
	entry := Entry{Timestamp: e.Timestamp(), Type: e.EventType()}
	if details, err := json.Marshal(e); err == nil && string(details) != "{}" {
		entry.Details = details
	}
	return entry
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
