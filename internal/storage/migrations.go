package storage

import (
	"database/sql"
	"fmt"
)

// migration upgrades the schema created by schema.sql. Versions are applied
// in order and recorded in schema_migrations.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "base schema",
	},
	{
		version:     2,
		description: "index site metadata by update time for stale refresh",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_site_metadata_updated ON site_metadata(updated_at)`,
		},
	},
	{
		version:     3,
		description: "index location samples by time for pruning",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_location_samples_recorded ON location_samples(recorded_at)`,
		},
	},
}

// SchemaVersion returns the highest applied migration version
func (ss *SQLiteStorage) SchemaVersion() (int, error) {
	var version sql.NullInt64
	err := ss.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("checking migration version: %w", err)
	}
	return int(version.Int64), nil
}

func (ss *SQLiteStorage) migrate() error {
	current, err := ss.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := ss.db.Begin()
		if err != nil {
			return err
		}

		for _, stmt := range m.statements {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration %d (%s): %w", m.version, m.description, err)
			}
		}

		if _, err := tx.Exec(`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("setting migration version: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
