package journal

import "fmt"

// schemaMigrationsTable tracks applied schema versions.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
`

// initialSchema is schema version 1.
const initialSchema = `
-- operations table: one row per disk management operation
CREATE TABLE IF NOT EXISTS operations (
    id TEXT PRIMARY KEY,
    recorded_at TEXT NOT NULL,
    operation TEXT NOT NULL,
    target TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    warning TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,

    CHECK (success IN (0, 1)),
    CHECK (duration_ms >= 0)
);

CREATE INDEX IF NOT EXISTS idx_operations_recorded_at ON operations(recorded_at);
CREATE INDEX IF NOT EXISTS idx_operations_operation ON operations(operation);
CREATE INDEX IF NOT EXISTS idx_operations_target ON operations(target);
`

var migrations = []struct {
	version     int
	description string
	sql         string
}{
	{
		version:     1,
		description: "Initial schema with the operations table",
		sql:         initialSchema,
	},
}

// initSchema creates the migrations table and applies pending migrations.
func (j *Journal) initSchema() error {
	if _, err := j.db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	currentVersion := 0
	row := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		currentVersion = 0
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := j.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.version, m.description,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}
	return nil
}
