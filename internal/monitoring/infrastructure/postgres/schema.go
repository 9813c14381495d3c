package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the fleet tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("fleet schema: nil db")
	}
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}
