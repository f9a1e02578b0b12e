package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE ledger_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				feed TEXT NOT NULL,
				source_item_id INTEGER NOT NULL,
				catalog_entry_id INTEGER REFERENCES books (id) ON DELETE SET NULL,
				attached_file_source_id INTEGER,
				status TEXT NOT NULL,
				reason TEXT,
				processed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_ledger_records_feed_source_item_id ON ledger_records (feed, source_item_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_ledger_records_catalog_entry_id ON ledger_records (catalog_entry_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE sync_cursors (
				feed TEXT PRIMARY KEY,
				channel TEXT NOT NULL DEFAULT '',
				last_item_id INTEGER,
				state TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				data TEXT NOT NULL DEFAULT '{}',
				progress INTEGER NOT NULL DEFAULT 0,
				process_id TEXT,
				error TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_jobs_status_created_at ON jobs (status, created_at)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{"jobs", "sync_cursors", "ledger_records"} {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
