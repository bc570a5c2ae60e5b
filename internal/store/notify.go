package store

import (
	"context"
	"fmt"
)

// NotifyEndpoint is a local TCP wake endpoint an instance's PullEngine is
// listening on (spec §4.5). kind distinguishes endpoint roles ("listen",
// "push") since one instance may register more than one.
type NotifyEndpoint struct {
	Instance string
	Kind     string
	Port     int
}

// ListNotifyPorts returns every registered endpoint for instance, across all
// kinds. An instance with multiple live listeners (e.g. a reconnect race)
// gets woken on all of them; the caller de-dupes by outcome, not by port.
func (s *Store) ListNotifyPorts(ctx context.Context, instance string) ([]NotifyEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance, kind, port FROM notify_endpoints WHERE instance = ?`, instance)
	if err != nil {
		return nil, fmt.Errorf("listing notify ports for %s: %w", instance, err)
	}
	defer rows.Close()

	var out []NotifyEndpoint
	for rows.Next() {
		var e NotifyEndpoint
		if err := rows.Scan(&e.Instance, &e.Kind, &e.Port); err != nil {
			return nil, fmt.Errorf("scanning notify endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllNotifyEndpoints returns every registered endpoint, for daemon-wide
// heartbeat sweeps.
func (s *Store) AllNotifyEndpoints(ctx context.Context) ([]NotifyEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance, kind, port FROM notify_endpoints`)
	if err != nil {
		return nil, fmt.Errorf("listing all notify endpoints: %w", err)
	}
	defer rows.Close()

	var out []NotifyEndpoint
	for rows.Next() {
		var e NotifyEndpoint
		if err := rows.Scan(&e.Instance, &e.Kind, &e.Port); err != nil {
			return nil, fmt.Errorf("scanning notify endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertNotifyEndpoint registers (or refreshes) a listener port for
// instance/kind.
func (s *Store) UpsertNotifyEndpoint(ctx context.Context, instance, kind string, port int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notify_endpoints (instance, kind, port) VALUES (?, ?, ?)
		 ON CONFLICT(instance, kind, port) DO NOTHING`,
		instance, kind, port)
	if err != nil {
		return fmt.Errorf("upserting notify endpoint %s/%s:%d: %w", instance, kind, port, err)
	}
	return nil
}

// DeleteNotifyEndpoint removes one registered endpoint. notifybus calls it
// when a listener unregisters and when a wake finds the port no longer
// accepting connections (spec §4.5 staleness handling).
func (s *Store) DeleteNotifyEndpoint(ctx context.Context, instance, kind string, port int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notify_endpoints WHERE instance = ? AND kind = ? AND port = ?`,
		instance, kind, port)
	if err != nil {
		return fmt.Errorf("deleting notify endpoint %s/%s:%d: %w", instance, kind, port, err)
	}
	return nil
}

// DeleteNotifyEndpointsForInstance clears all of an instance's registered
// endpoints, used during LifecycleOps teardown.
func (s *Store) DeleteNotifyEndpointsForInstance(ctx context.Context, instance string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notify_endpoints WHERE instance = ?`, instance); err != nil {
		return fmt.Errorf("deleting notify endpoints for %s: %w", instance, err)
	}
	return nil
}
