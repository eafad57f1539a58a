package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open returns a PostgreSQL handle for databaseURL. sql.Open does not dial;
// call Ping to verify connectivity.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	return db, nil
}
