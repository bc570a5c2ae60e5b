package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Instance is a participating assistant (spec §3).
type Instance struct {
	Name             string
	Tag              string
	SessionID        string
	ParentSessionID  string
	ParentName       string
	AgentID          string
	Tool             string
	Directory        string
	Background       bool
	PID              int64
	Status           string
	StatusTime       time.Time
	StatusContext    string
	StatusDetail     string
	LastEventID      int64
	LastStop         time.Time
	CreatedAt        time.Time
	LaunchContext    string
	OriginDeviceID   string
	BatchID          string
}

// FullName is "tag-name" when a tag is set, else the base name (GLOSSARY).
func (i Instance) FullName() string {
	if i.Tag == "" {
		return i.Name
	}
	return i.Tag + "-" + i.Name
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SaveInstance inserts a new instance row.
func (s *Store) SaveInstance(ctx context.Context, in Instance) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (
			name, tag, session_id, parent_session_id, parent_name, agent_id,
			tool, directory, background, pid, status, status_time,
			status_context, status_detail, last_event_id, last_stop,
			created_at, launch_context, origin_device_id, batch_id
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.Name, nullStr(in.Tag), nullStr(in.SessionID), nullStr(in.ParentSessionID),
		nullStr(in.ParentName), nullStr(in.AgentID), in.Tool, nullStr(in.Directory),
		boolToInt(in.Background), nullPID(in.PID), in.Status, nullTime(in.StatusTime),
		nullStr(in.StatusContext), nullStr(in.StatusDetail), in.LastEventID,
		nullTime(in.LastStop), nullTime(in.CreatedAt), nullStr(in.LaunchContext),
		nullStr(in.OriginDeviceID), nullStr(in.BatchID))
	if err != nil {
		return fmt.Errorf("saving instance %s: %w", in.Name, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullPID(pid int64) any {
	if pid == 0 {
		return nil
	}
	return pid
}

// GetInstance returns the instance row by base name, or nil, nil if absent.
// A missing row means "not a participant right now" (spec §3 invariant);
// callers must treat nil as a no-op, not an error.
func (s *Store) GetInstance(ctx context.Context, name string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, tag, session_id, parent_session_id, parent_name, agent_id,
			tool, directory, background, pid, status, status_time,
			status_context, status_detail, last_event_id, last_stop,
			created_at, launch_context, origin_device_id, batch_id
		FROM instances WHERE name = ?`, name)
	in, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading instance %s: %w", name, err)
	}
	return in, nil
}

func scanInstance(row interface{ Scan(...any) error }) (*Instance, error) {
	var in Instance
	var tag, sessionID, parentSessionID, parentName, agentID, directory sql.NullString
	var statusTime, statusContext, statusDetail, lastStop, createdAt sql.NullString
	var launchContext, originDeviceID, batchID sql.NullString
	var background int
	var pid sql.NullInt64

	if err := row.Scan(
		&in.Name, &tag, &sessionID, &parentSessionID, &parentName, &agentID,
		&in.Tool, &directory, &background, &pid, &in.Status, &statusTime,
		&statusContext, &statusDetail, &in.LastEventID, &lastStop,
		&createdAt, &launchContext, &originDeviceID, &batchID,
	); err != nil {
		return nil, err
	}
	in.Tag = tag.String
	in.SessionID = sessionID.String
	in.ParentSessionID = parentSessionID.String
	in.ParentName = parentName.String
	in.AgentID = agentID.String
	in.Directory = directory.String
	in.Background = background != 0
	in.PID = pid.Int64
	in.StatusTime = parseNullTime(statusTime)
	in.StatusContext = statusContext.String
	in.StatusDetail = statusDetail.String
	in.LastStop = parseNullTime(lastStop)
	in.CreatedAt = parseNullTime(createdAt)
	in.LaunchContext = launchContext.String
	in.OriginDeviceID = originDeviceID.String
	in.BatchID = batchID.String
	return &in, nil
}

// ListInstances returns all live instance rows.
func (s *Store) ListInstances(ctx context.Context) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, tag, session_id, parent_session_id, parent_name, agent_id,
			tool, directory, background, pid, status, status_time,
			status_context, status_detail, last_event_id, last_stop,
			created_at, launch_context, origin_device_id, batch_id
		FROM instances`)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

// InstanceUpdate is a partial update for UpdateInstance; nil fields are
// left unmodified.
type InstanceUpdate struct {
	Tag             *string
	SessionID       *string
	ParentSessionID *string
	ParentName      *string
	AgentID         *string
	Tool            *string
	Status          *string
	StatusTime      *time.Time
	StatusContext   *string
	StatusDetail    *string
	LastEventID     *int64
	LastStop        *time.Time
	PID             *int64
	OriginDeviceID  *string
	BatchID         *string
}

// UpdateInstance applies a partial update to an existing instance row.
func (s *Store) UpdateInstance(ctx context.Context, name string, u InstanceUpdate) error {
	sets := []string{}
	args := []any{}
	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if u.Tag != nil {
		add("tag", nullStr(*u.Tag))
	}
	if u.SessionID != nil {
		add("session_id", nullStr(*u.SessionID))
	}
	if u.ParentSessionID != nil {
		add("parent_session_id", nullStr(*u.ParentSessionID))
	}
	if u.ParentName != nil {
		add("parent_name", nullStr(*u.ParentName))
	}
	if u.AgentID != nil {
		add("agent_id", nullStr(*u.AgentID))
	}
	if u.Tool != nil {
		add("tool", *u.Tool)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.StatusTime != nil {
		add("status_time", nullTime(*u.StatusTime))
	}
	if u.StatusContext != nil {
		add("status_context", nullStr(*u.StatusContext))
	}
	if u.StatusDetail != nil {
		add("status_detail", nullStr(*u.StatusDetail))
	}
	if u.LastEventID != nil {
		add("last_event_id", *u.LastEventID)
	}
	if u.LastStop != nil {
		add("last_stop", nullTime(*u.LastStop))
	}
	if u.PID != nil {
		add("pid", nullPID(*u.PID))
	}
	if u.OriginDeviceID != nil {
		add("origin_device_id", nullStr(*u.OriginDeviceID))
	}
	if u.BatchID != nil {
		add("batch_id", nullStr(*u.BatchID))
	}
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE instances SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE name = ?"
	args = append(args, name)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating instance %s: %w", name, err)
	}
	return nil
}

// AdvanceCursor advances last_event_id to newID, but only forward — it never
// moves the cursor backward (spec §3 invariant: last_event_id is
// non-decreasing) and never past the current store maximum (spec §7
// StaleState: a cursor beyond max(events.id) is clamped).
func (s *Store) AdvanceCursor(ctx context.Context, name string, newID int64) error {
	maxID, err := s.GetLastEventID(ctx)
	if err != nil {
		return err
	}
	if newID > maxID {
		newID = maxID
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE instances SET last_event_id = ? WHERE name = ? AND last_event_id < ?`,
		newID, name, newID)
	if err != nil {
		return fmt.Errorf("advancing cursor for %s: %w", name, err)
	}
	return nil
}

// DeleteInstance removes the instance row. Cascades session_bindings via
// the FK (spec §3 invariant). Deleting an already-removed row is not an
// error (spec §4.1 Failure policy).
func (s *Store) DeleteInstance(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting instance %s: %w", name, err)
	}
	return nil
}
