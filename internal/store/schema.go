package store

// schema is applied on every open via CREATE TABLE/VIEW IF NOT EXISTS, so
// opening an existing store file is idempotent. events_v (spec §4.1) is the
// stable external contract for `hcom events --sql`.
const schema = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;
PRAGMA busy_timeout=5000;

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	type       TEXT NOT NULL CHECK (type IN ('message','status','life')),
	instance   TEXT NOT NULL,
	data       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS instances (
	name               TEXT PRIMARY KEY,
	tag                TEXT,
	session_id         TEXT UNIQUE,
	parent_session_id  TEXT,
	parent_name        TEXT,
	agent_id           TEXT,
	tool               TEXT NOT NULL,
	directory          TEXT,
	background         INTEGER NOT NULL DEFAULT 0,
	pid                INTEGER,
	status             TEXT NOT NULL DEFAULT 'inactive',
	status_time        TEXT,
	status_context     TEXT,
	status_detail      TEXT,
	last_event_id      INTEGER NOT NULL DEFAULT 0,
	last_stop          TEXT,
	created_at         TEXT NOT NULL,
	launch_context     TEXT,
	origin_device_id   TEXT,
	batch_id           TEXT
);

CREATE TABLE IF NOT EXISTS session_bindings (
	session_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL REFERENCES instances(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS process_bindings (
	process_id TEXT PRIMARY KEY,
	session_id TEXT,
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notify_endpoints (
	instance TEXT NOT NULL,
	kind     TEXT NOT NULL,
	port     INTEGER NOT NULL,
	PRIMARY KEY (instance, kind, port)
);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE VIEW IF NOT EXISTS events_v AS
SELECT
	id, ts, type, instance, data,
	json_extract(data, '$.from')         AS msg_from,
	json_extract(data, '$.text')         AS msg_text,
	json_extract(data, '$.scope')        AS msg_scope,
	json_extract(data, '$.delivered_to') AS msg_delivered_to,
	json_extract(data, '$.mentions')     AS msg_mentions,
	json_extract(data, '$.intent')       AS msg_intent,
	json_extract(data, '$.thread')       AS msg_thread,
	json_extract(data, '$.reply_to')     AS msg_reply_to,
	json_extract(data, '$.sender_kind')  AS msg_sender_kind,
	json_extract(data, '$.status')       AS status_status,
	json_extract(data, '$.context')      AS status_context,
	json_extract(data, '$.detail')       AS status_detail,
	json_extract(data, '$.position')     AS status_position,
	json_extract(data, '$.msg_ts')       AS status_msg_ts,
	json_extract(data, '$.action')       AS life_action,
	json_extract(data, '$.by')           AS life_by,
	json_extract(data, '$.reason')       AS life_reason,
	json_extract(data, '$.batch_id')     AS life_batch_id
FROM events;
`
