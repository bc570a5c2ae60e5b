package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSessionBinding returns the instance name bound to sessionID, or "" if
// unbound.
func (s *Store) GetSessionBinding(ctx context.Context, sessionID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM session_bindings WHERE session_id = ?`, sessionID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading session binding %s: %w", sessionID, err)
	}
	return name, nil
}

// SetSessionBinding binds sessionID to name, replacing any prior binding for
// that session_id (a session resumes into at most one instance, spec §3).
func (s *Store) SetSessionBinding(ctx context.Context, sessionID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_bindings (session_id, name) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET name = excluded.name`,
		sessionID, name)
	if err != nil {
		return fmt.Errorf("setting session binding %s -> %s: %w", sessionID, name, err)
	}
	return nil
}

// RebindSession moves a session_id binding from oldName to newName. Used
// when Claude Code's compaction/resume hands a hook a new session_id for
// what is semantically the same instance (spec §4.2 resolve rules).
func (s *Store) RebindSession(ctx context.Context, sessionID, newName string) error {
	return s.SetSessionBinding(ctx, sessionID, newName)
}

// ClearSessionIDFromOtherInstances removes sessionID's binding to any
// instance other than keepName. A session_id identifies exactly one live
// instance at a time (spec §3 invariant); this enforces that when a
// session_id is reassigned.
func (s *Store) ClearSessionIDFromOtherInstances(ctx context.Context, sessionID, keepName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_bindings WHERE session_id = ? AND name != ?`,
		sessionID, keepName)
	if err != nil {
		return fmt.Errorf("clearing stale session bindings for %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSessionBindingsForInstance removes every session binding pointing
// at name, used during LifecycleOps teardown (spec §4.8 "delete
// session/process bindings").
func (s *Store) DeleteSessionBindingsForInstance(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_bindings WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting session bindings for %s: %w", name, err)
	}
	return nil
}

// ProcessBinding is a (process_id, session_id) -> name mapping used to
// resolve hook calls that arrive before a session_id is known (spec §4.2).
type ProcessBinding struct {
	ProcessID string
	SessionID string
	Name      string
}

// GetProcessBinding looks up the binding for processID, if any.
func (s *Store) GetProcessBinding(ctx context.Context, processID string) (*ProcessBinding, error) {
	var pb ProcessBinding
	var sessionID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT process_id, session_id, name FROM process_bindings WHERE process_id = ?`,
		processID).Scan(&pb.ProcessID, &sessionID, &pb.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading process binding %s: %w", processID, err)
	}
	pb.SessionID = sessionID.String
	return &pb, nil
}

// SetProcessBinding upserts the (process_id -> session_id, name) mapping.
func (s *Store) SetProcessBinding(ctx context.Context, processID, sessionID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_bindings (process_id, session_id, name) VALUES (?, ?, ?)
		 ON CONFLICT(process_id) DO UPDATE SET session_id = excluded.session_id, name = excluded.name`,
		processID, nullStr(sessionID), name)
	if err != nil {
		return fmt.Errorf("setting process binding %s -> %s: %w", processID, name, err)
	}
	return nil
}

// DeleteProcessBinding removes a single process_id binding.
func (s *Store) DeleteProcessBinding(ctx context.Context, processID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM process_bindings WHERE process_id = ?`, processID); err != nil {
		return fmt.Errorf("deleting process binding %s: %w", processID, err)
	}
	return nil
}

// DeleteProcessBindingsForInstance removes every process binding pointing at
// name, used during LifecycleOps teardown so a dead instance's old PIDs
// can't resolve hooks onto it (spec §4.8).
func (s *Store) DeleteProcessBindingsForInstance(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM process_bindings WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting process bindings for %s: %w", name, err)
	}
	return nil
}
