package sqliteutil

import (
	"database/sql"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// OpenDB opens a sqlite database (or a libsql one when given a libsql://
// DSN) and applies the given schema. Schemas are written with
// CREATE TABLE IF NOT EXISTS so reapplying is safe.
func OpenDB(schema, dsn string) (*sql.DB, error) {
	driver := "sqlite"
	if len(dsn) > 9 && dsn[:9] == "libsql://" {
		driver = "libsql"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
