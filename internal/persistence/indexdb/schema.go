package indexdb

import (
	"database/sql"
	"fmt"
)

// migrations[i] moves the schema from user_version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			edits INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		)`,
		`CREATE TABLE edits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			client_id TEXT NOT NULL,
			edit_id TEXT NOT NULL,
			op TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			block TEXT,
			output INTEGER,
			PRIMARY KEY (tick, seq)
		)`,
		`CREATE INDEX idx_edits_client_tick ON edits(client_id, tick)`,
		`CREATE TABLE audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_value INTEGER NOT NULL,
			to_value INTEGER NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		)`,
		`CREATE INDEX idx_audits_actor_tick ON audits(actor, tick)`,
		`CREATE INDEX idx_audits_pos_tick ON audits(x, z, y, tick)`,
		`CREATE TABLE snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			height INTEGER NOT NULL,
			boundary_r INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			palette_digest TEXT NOT NULL
		)`,
	},
	{
		`CREATE TABLE cascades (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			cause TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			evaluations INTEGER NOT NULL,
			writes INTEGER NOT NULL,
			diverged INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		)`,
		`CREATE INDEX idx_cascades_cause ON cascades(cause, tick)`,
	},
}

// SchemaVersion is the user_version of a fully migrated index.
var SchemaVersion = len(migrations)

func configure(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// migrate applies the pending migrations, each in its own transaction.
func migrate(db *sql.DB) error {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return err
	}
	if v > len(migrations) {
		return fmt.Errorf("index schema v%d is newer than this binary (v%d)", v, len(migrations))
	}
	for ; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migrate to v%d: %w", v+1, err)
			}
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", v+1)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
