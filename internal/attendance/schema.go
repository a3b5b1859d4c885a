package attendance

import (
	"context"
	"database/sql"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sections (
	id          TEXT PRIMARY KEY,
	name        TEXT UNIQUE NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS devices (
	device_id      TEXT PRIMARY KEY,
	registered_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	device_id   TEXT NOT NULL REFERENCES devices(device_id),
	token       TEXT NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id               TEXT PRIMARY KEY,
	student_id       TEXT NOT NULL,
	full_name        TEXT NOT NULL,
	department       TEXT NOT NULL,
	attendance_date  TEXT NOT NULL,
	time_in          TIMESTAMPTZ NOT NULL,
	time_out         TIMESTAMPTZ,
	section_id       TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_records_student_date ON attendance_records (student_id, attendance_date);
CREATE INDEX IF NOT EXISTS idx_records_date_section ON attendance_records (attendance_date, section_id);

CREATE TABLE IF NOT EXISTS student_sessions (
	id               TEXT PRIMARY KEY,
	student_id       TEXT NOT NULL,
	section_id       TEXT NOT NULL,
	attendance_date  TEXT NOT NULL,
	login_time       TIMESTAMPTZ NOT NULL,
	logout_time      TIMESTAMPTZ,
	cooldown_until   TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_one_active
	ON student_sessions (student_id, section_id, attendance_date) WHERE logout_time IS NULL;

CREATE TABLE IF NOT EXISTS scan_events (
	id           TEXT PRIMARY KEY,
	device_id    TEXT NOT NULL,
	student_id   TEXT NOT NULL DEFAULT '',
	full_name    TEXT NOT NULL DEFAULT '',
	section_id   TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT '',
	occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_events_occurred ON scan_events (occurred_at DESC);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sections (
	id          TEXT PRIMARY KEY,
	name        TEXT UNIQUE NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS devices (
	device_id      TEXT PRIMARY KEY,
	registered_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	device_id   TEXT NOT NULL REFERENCES devices(device_id),
	token       TEXT NOT NULL,
	expires_at  DATETIME NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id               TEXT PRIMARY KEY,
	student_id       TEXT NOT NULL,
	full_name        TEXT NOT NULL,
	department       TEXT NOT NULL,
	attendance_date  TEXT NOT NULL,
	time_in          DATETIME NOT NULL,
	time_out         DATETIME,
	section_id       TEXT NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_records_student_date ON attendance_records (student_id, attendance_date);
CREATE INDEX IF NOT EXISTS idx_records_date_section ON attendance_records (attendance_date, section_id);

CREATE TABLE IF NOT EXISTS student_sessions (
	id               TEXT PRIMARY KEY,
	student_id       TEXT NOT NULL,
	section_id       TEXT NOT NULL,
	attendance_date  TEXT NOT NULL,
	login_time       DATETIME NOT NULL,
	logout_time      DATETIME,
	cooldown_until   DATETIME,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_one_active
	ON student_sessions (student_id, section_id, attendance_date) WHERE logout_time IS NULL;

CREATE TABLE IF NOT EXISTS scan_events (
	id           TEXT PRIMARY KEY,
	device_id    TEXT NOT NULL,
	student_id   TEXT NOT NULL DEFAULT '',
	full_name    TEXT NOT NULL DEFAULT '',
	section_id   TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT '',
	occurred_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_events_occurred ON scan_events (occurred_at DESC);
`

// Migrate creates the tables used by Repository if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	schema := postgresSchema
	if dialect == SQLite {
		schema = sqliteSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate %s schema: %w", dialect, err)
	}
	return nil
}
