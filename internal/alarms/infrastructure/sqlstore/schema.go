package sqlstore

import (
	"context"
	"database/sql"
	"errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS alarm_history (
	event_id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL,
	scenario_name TEXT NOT NULL,
	level TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL,
	conditions_met JSONB NOT NULL,
	actions_taken JSONB NOT NULL,
	sensor_values JSONB NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS alarm_history_triggered_at_idx ON alarm_history (triggered_at);
CREATE TABLE IF NOT EXISTS scenario_states (
	scenario_id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL,
	last_triggered TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	site TEXT NOT NULL,
	actor TEXT NOT NULL,
	role TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	metadata JSONB,
	payload_digest TEXT NOT NULL,
	ip TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alarm_history (
	event_id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL,
	scenario_name TEXT NOT NULL,
	level TEXT NOT NULL,
	triggered_at TEXT NOT NULL,
	conditions_met TEXT NOT NULL,
	actions_taken TEXT NOT NULL,
	sensor_values TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS alarm_history_triggered_at_idx ON alarm_history (triggered_at);
CREATE TABLE IF NOT EXISTS scenario_states (
	scenario_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL,
	last_triggered TEXT,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	site TEXT NOT NULL,
	actor TEXT NOT NULL,
	role TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	metadata TEXT,
	payload_digest TEXT NOT NULL,
	ip TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// Migrate creates the alarm tables when missing.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if db == nil {
		return errors.New("sqlstore: nil db")
	}
	schema := postgresSchema
	if dialect == DialectSQLite {
		schema = sqliteSchema
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}
