package store

import (
	"context"
	"database/sql"
	"fmt"
)

// KVGet returns the value stored under key and whether it was present. A
// NULL value (set by a tombstone delete) is treated the same as absent.
func (s *Store) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading kv key %s: %w", key, err)
	}
	if !value.Valid {
		return "", false, nil
	}
	return value.String, true, nil
}

// KVSet upserts key -> value. Subscription predicates and other small bits
// of durable state live here (spec §4.9) rather than in a dedicated table.
func (s *Store) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("setting kv key %s: %w", key, err)
	}
	return nil
}

// KVDelete tombstones key by setting its value to NULL rather than removing
// the row, so KVKeysWithPrefix scans don't need a separate deleted-set.
func (s *Store) KVDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, NULL)
		 ON CONFLICT(key) DO UPDATE SET value = NULL`,
		key)
	if err != nil {
		return fmt.Errorf("deleting kv key %s: %w", key, err)
	}
	return nil
}

// KVKeysWithPrefix returns every non-tombstoned key beginning with prefix,
// used to enumerate subscriptions stored as "events_sub:<id>" keys.
func (s *Store) KVKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' AND value IS NOT NULL`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("listing kv keys with prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning kv key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '%' || c == '_' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
