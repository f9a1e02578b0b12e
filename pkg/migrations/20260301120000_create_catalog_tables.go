package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE series (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				title TEXT NOT NULL,
				author TEXT NOT NULL,
				description TEXT,
				rating REAL,
				genres TEXT,
				tags TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE series_works (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				series_id INTEGER REFERENCES series (id) ON DELETE CASCADE NOT NULL,
				position INTEGER NOT NULL,
				title TEXT NOT NULL,
				year INTEGER NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_series_works_series_id_position ON series_works (series_id, position)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE books (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				author TEXT NOT NULL,
				title TEXT NOT NULL,
				normalized_author TEXT NOT NULL,
				normalized_title TEXT NOT NULL,
				sort_author TEXT NOT NULL DEFAULT '',
				sort_title TEXT NOT NULL DEFAULT '',
				description TEXT,
				rating REAL,
				is_series BOOLEAN NOT NULL DEFAULT FALSE,
				cover_ref TEXT,
				file_ref TEXT,
				file_mime_type TEXT,
				series_id INTEGER REFERENCES series (id) ON DELETE SET NULL,
				source_item_id INTEGER
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Not unique: duplicates that predate ingestion are tolerated and
		// reconciled against, never created.
		_, err = db.Exec(`CREATE INDEX ix_books_normalized_key ON books (normalized_author, normalized_title)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_series_id ON books (series_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE genres (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_genres_name ON genres (name COLLATE NOCASE)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE book_genres (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				book_id INTEGER REFERENCES books (id) ON DELETE CASCADE NOT NULL,
				genre_id INTEGER REFERENCES genres (id) ON DELETE CASCADE NOT NULL,
				position INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_book_genres_book_id_genre_id ON book_genres (book_id, genre_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE tags (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_tags_name ON tags (name COLLATE NOCASE)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE book_tags (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				book_id INTEGER REFERENCES books (id) ON DELETE CASCADE NOT NULL,
				tag_id INTEGER REFERENCES tags (id) ON DELETE CASCADE NOT NULL,
				position INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_book_tags_book_id_tag_id ON book_tags (book_id, tag_id)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{"book_tags", "tags", "book_genres", "genres", "books", "series_works", "series"} {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
