package database

import (
	"context"
	"database/sql"
	"errors"
)

// Website is a row of the websites table.
type Website struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}

// CreateSchema creates and seeds the websites table.
func (db *DB) CreateSchema(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS websites (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL UNIQUE
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "INSERT INTO websites (name) VALUES ($1) ON CONFLICT DO NOTHING", "example.com")
	return err
}

// FirstWebsite returns the website with the lowest id, or nil when the
// table is empty.
func (db *DB) FirstWebsite(ctx context.Context) (*Website, error) {
	var w Website
	err := db.GetContext(ctx, &w, "SELECT id, name FROM websites ORDER BY id LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
