package store

import (
	"database/sql"
	"fmt"
)

// Migration is a named, one-way schema change. Migrations run in order
// inside a single BEGIN EXCLUSIVE transaction driven on the connection;
// version N is recorded in schema_version after its Func succeeds.
type Migration struct {
	Name string
	Func func(db *sql.DB) error
}

var migrationsList = []Migration{
	{
		Name: "requirements and tasks hierarchy columns",
		Func: func(db *sql.DB) error {
			return execAll(db,
				`ALTER TABLE requirements ADD COLUMN parent_id INTEGER`,
				`ALTER TABLE tasks ADD COLUMN parent_id INTEGER`,
				`ALTER TABLE tasks ADD COLUMN requirement_id INTEGER`,
			)
		},
	},
	{
		Name: "flow_type on tasks and requirements",
		Func: func(db *sql.DB) error {
			return execAll(db,
				`ALTER TABLE tasks ADD COLUMN flow_type TEXT NOT NULL DEFAULT 'task'`,
				`ALTER TABLE requirements ADD COLUMN flow_type TEXT NOT NULL DEFAULT 'requirement'`,
			)
		},
	},
	{
		Name: "transition audit log",
		Func: func(db *sql.DB) error {
			return execAll(db,
				`CREATE TABLE IF NOT EXISTS transition_log (
                    id INTEGER PRIMARY KEY AUTOINCREMENT,
                    entity_id INTEGER NOT NULL,
                    entity_type TEXT NOT NULL DEFAULT 'task',
                    from_status TEXT,
                    to_status TEXT NOT NULL,
                    triggered_by TEXT,
                    created_at TEXT NOT NULL
                )`,
				`CREATE INDEX IF NOT EXISTS idx_transition_entity
                    ON transition_log(entity_type, entity_id)`,
			)
		},
	},
	{
		Name: "backfill requirement_id from requirement_path",
		Func: func(db *sql.DB) error {
			_, err := db.Exec(
				`UPDATE tasks SET requirement_id = (
                    SELECT r.id FROM requirements r WHERE r.file_path = tasks.requirement_path
                ) WHERE requirement_path IS NOT NULL AND requirement_id IS NULL`)
			return err
		},
	},
	{
		Name: "merge legacy history into transition_log",
		Func: func(db *sql.DB) error {
			if !tableExists(db, "task_history") {
				return nil
			}
			_, err := db.Exec(
				`INSERT INTO transition_log (entity_id, entity_type, from_status, to_status, triggered_by, created_at)
                 SELECT task_id, 'task', from_status, to_status, agent_name, created_at FROM task_history`)
			return err
		},
	},
	{
		Name: "drop legacy history tables",
		Func: func(db *sql.DB) error {
			return execAll(db,
				`DROP TABLE IF EXISTS task_history`,
				`DROP TABLE IF EXISTS requirement_history`,
			)
		},
	},
	{
		Name: "backlog table",
		Func: func(db *sql.DB) error {
			_, err := db.Exec(
				`CREATE TABLE IF NOT EXISTS backlog (
                    id INTEGER PRIMARY KEY AUTOINCREMENT,
                    type TEXT NOT NULL,
                    file_path TEXT NOT NULL UNIQUE,
                    title TEXT,
                    priority TEXT NOT NULL DEFAULT 'unset',
                    status TEXT NOT NULL DEFAULT 'open',
                    source TEXT,
                    outcome TEXT,
                    promoted_to TEXT,
                    deferred_until TEXT,
                    created_at TEXT NOT NULL,
                    updated_at TEXT NOT NULL
                )`)
			return err
		},
	},
	{
		Name: "task comments",
		Func: func(db *sql.DB) error {
			_, err := db.Exec(
				`CREATE TABLE IF NOT EXISTS task_comments (
                    id INTEGER PRIMARY KEY AUTOINCREMENT,
                    task_id INTEGER NOT NULL,
                    agent_name TEXT NOT NULL,
                    phase TEXT,
                    comment TEXT NOT NULL,
                    files_read TEXT,
                    created_at TEXT NOT NULL
                )`)
			return err
		},
	},
	{
		Name: "intel docs index",
		Func: func(db *sql.DB) error {
			return execAll(db,
				`CREATE TABLE IF NOT EXISTS intel_docs (
                    slug TEXT PRIMARY KEY,
                    doc_path TEXT NOT NULL,
                    tags TEXT,
                    description TEXT,
                    created_by TEXT,
                    created_at TEXT NOT NULL,
                    updated_at TEXT NOT NULL
                )`,
				`CREATE TABLE IF NOT EXISTS intel_links (
                    id INTEGER PRIMARY KEY AUTOINCREMENT,
                    intel_slug TEXT NOT NULL,
                    entity_type TEXT NOT NULL,
                    entity_id INTEGER NOT NULL,
                    UNIQUE(intel_slug, entity_type, entity_id)
                )`,
			)
		},
	},
	{
		Name: "cc_original_to on messages",
		Func: func(db *sql.DB) error {
			_, err := db.Exec(
				`ALTER TABLE messages ADD COLUMN cc_original_to TEXT`)
			return err
		},
	},
	{
		Name: "model on agents",
		Func: func(db *sql.DB) error {
			_, err := db.Exec(
				`ALTER TABLE agents ADD COLUMN model TEXT`)
			return err
		},
	},
}

func execAll(db *sql.DB, stmts ...string) error {
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func tableExists(db *sql.DB, name string) bool {
	var n string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&n)
	return err == nil
}

// RunMigrations applies pending migrations. Foreign keys are disabled
// for the duration since ALTER TABLE sequences would otherwise trip
// reference checks mid-flight. The whole run happens under BEGIN
// EXCLUSIVE so concurrent processes see either the old or new schema.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA foreign_keys=OFF`); err != nil {
		return err
	}
	defer db.Exec(`PRAGMA foreign_keys=ON`)

	if _, err := db.Exec(`BEGIN EXCLUSIVE`); err != nil {
		return fmt.Errorf("acquiring exclusive lock: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			db.Exec(`ROLLBACK`)
		}
	}()

	var current int
	if err := db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`,
	).Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrationsList); i++ {
		m := migrationsList[i]
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.Name, err)
		}
		if _, err := db.Exec(
			`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, datetime('now'))`,
			i+1, m.Name,
		); err != nil {
			return err
		}
	}

	if _, err := db.Exec(`COMMIT`); err != nil {
		return err
	}
	committed = true
	return nil
}
