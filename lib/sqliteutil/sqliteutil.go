package sqliteutil

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenDB opens a sqlite database at path and applies the schema. Re-running
// the schema against an existing database is fine.
func OpenDB(schema, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		db.Close()
		return nil, err
	}
	return db, nil
}
