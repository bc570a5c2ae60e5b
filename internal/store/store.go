// Package store is hcom's single-file embedded event store and instance
// registry (spec §4.1). It wraps a modernc.org/sqlite (pure Go, CGo-free)
// database in WAL mode: single-writer appends, concurrent readers, and a
// stable events_v view for third-party `--sql` queries (spec §6).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hcomhq/hcom/internal/logx"
)

// Store is a handle to one hcom event store file. The zero value is not
// usable; construct with Open.
type Store struct {
	db       *sql.DB
	path     string
	onAppend AppendHook
}

// AppendHook is invoked synchronously after every successful AppendEvent,
// with the id just assigned. Wired by SetAppendHook; nil (the default) is a
// no-op. A hook error is only logged: AppendEvent has already durably
// written the event, and a downstream reactor (the subscription matcher)
// must never cause an append to fail or retry.
type AppendHook func(ctx context.Context, eventID int64) error

// SetAppendHook installs (or, given nil, removes) the store's append hook.
func (s *Store) SetAppendHook(h AppendHook) {
	s.onAppend = h
}

// Open opens (creating if necessary) the store file at path and applies the
// schema. Safe to call from multiple processes against the same file; the
// underlying driver and WAL mode serialize writers.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer; modernc.org/sqlite is not safe for concurrent writers from one *sql.DB
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema to %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path this store was opened from.
func (s *Store) Path() string {
	return s.path
}

// EventType enumerates the three event kinds (spec §3).
type EventType string

const (
	EventMessage EventType = "message"
	EventStatus  EventType = "status"
	EventLife    EventType = "life"
)

// Event is a durable, append-only record (spec §3). Data holds the raw JSON
// payload; callers decode it per Type into their own payload structs
// (messagebus.Message, messagebus.Status, lifecycle.Life).
type Event struct {
	ID       int64
	Ts       time.Time
	Type     EventType
	Instance string
	Data     json.RawMessage
}

// AppendEvent assigns a fresh, strictly monotonic id and writes the event.
// If ts is the zero time, the current UTC time is used; callers with a
// retrodated timestamp (transcript-derived events, spec §9) may pass one
// explicitly — the id is still fresh, only the display timestamp is old.
func (s *Store) AppendEvent(ctx context.Context, typ EventType, instance string, data any, ts time.Time) (int64, error) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshaling %s event data: %w", typ, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, type, instance, data) VALUES (?, ?, ?, ?)`,
		ts.Format(time.RFC3339Nano), string(typ), instance, string(raw))
	if err != nil {
		return 0, fmt.Errorf("appending %s event: %w", typ, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted event id: %w", err)
	}
	if s.onAppend != nil {
		if err := s.onAppend(ctx, id); err != nil {
			logx.Warn("store", "append_hook_failed", logx.F("event_id", id), logx.F("err", err))
		}
	}
	return id, nil
}

// GetLastEventID returns the current maximum event id, or 0 for an empty store.
func (s *Store) GetLastEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading last event id: %w", err)
	}
	return id.Int64, nil
}

func scanEvent(rows interface{ Scan(...any) error }) (Event, error) {
	var e Event
	var tsStr, typStr string
	var data string
	if err := rows.Scan(&e.ID, &tsStr, &typStr, &e.Instance, &data); err != nil {
		return Event{}, err
	}
	e.Type = EventType(typStr)
	e.Data = json.RawMessage(data)
	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return Event{}, fmt.Errorf("parsing event timestamp %q: %w", tsStr, err)
		}
	}
	e.Ts = ts
	return e, nil
}

// EventsAfter returns events with id > afterID, in ascending id order,
// optionally filtered by type. A nil types slice means all types.
func (s *Store) EventsAfter(ctx context.Context, afterID int64, types []EventType, limit int) ([]Event, error) {
	query := `SELECT id, ts, type, instance, data FROM events WHERE id > ?`
	args := []any{afterID}
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events after %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsSince returns every event whose timestamp is at or after since,
// optionally filtered by type, in ascending id order.
func (s *Store) EventsSince(ctx context.Context, since time.Time, types []EventType) ([]Event, error) {
	query := `SELECT id, ts, type, instance, data FROM events WHERE ts >= ?`
	args := []any{since.UTC().Format(time.RFC3339Nano)}
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events since %s: %w", since, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunSQL executes an arbitrary read-only query against events_v, for the
// `hcom events --sql` external contract (spec §6). Callers are responsible
// for restricting this to SELECT statements at the CLI layer.
func (s *Store) RunSQL(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("running sql query: %w", err)
	}
	return rows, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
