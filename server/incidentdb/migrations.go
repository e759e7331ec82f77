package incidentdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE incident(
			id TEXT PRIMARY KEY,
			incident_type TEXT NOT NULL,
			confidence REAL NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			frame_urls TEXT NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			verification_status TEXT NOT NULL DEFAULT 'pending'
		);

		CREATE INDEX idx_incident_timestamp ON incident (timestamp);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE dead_letter(
			id INTEGER PRIMARY KEY,
			task_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			reason TEXT NOT NULL,
			failed_at TIMESTAMP NOT NULL
		);
	`))

	return migs
}
