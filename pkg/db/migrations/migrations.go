// Package migrations holds the schema of the history database.
package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skilldeck/pkg/db"
)

// All returns every migration, oldest first.
func All() []db.Migration {
	return []db.Migration{
		createReconcileCycles(),
		createSkillEvents(),
	}
}

func createReconcileCycles() db.Migration {
	return db.Migration{
		Version:     20261001090000,
		Description: "Create reconcile_cycles table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS reconcile_cycles (
					id TEXT PRIMARY KEY,
					baseline BOOLEAN NOT NULL DEFAULT 0,
					added INTEGER NOT NULL DEFAULT 0,
					removed INTEGER NOT NULL DEFAULT 0,
					total INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create reconcile_cycles table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS reconcile_cycles")
			return errors.Wrap(err, "failed to drop reconcile_cycles table")
		},
	}
}

func createSkillEvents() db.Migration {
	return db.Migration{
		Version:     20261001090100,
		Description: "Create skill_events table",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS skill_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					cycle_id TEXT NOT NULL REFERENCES reconcile_cycles(id) ON DELETE CASCADE,
					kind TEXT NOT NULL,
					folder_name TEXT NOT NULL,
					name TEXT NOT NULL,
					source TEXT NOT NULL DEFAULT '',
					scope TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				"CREATE INDEX IF NOT EXISTS idx_skill_events_created_at ON skill_events(created_at DESC)",
				"CREATE INDEX IF NOT EXISTS idx_skill_events_folder ON skill_events(folder_name)",
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to create skill_events schema")
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS skill_events")
			return errors.Wrap(err, "failed to drop skill_events table")
		},
	}
}
