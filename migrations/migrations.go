// Package migrations embeds the goose SQL migrations for the operation history
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS holds every migration file
//
//go:embed *.sql
var FS embed.FS

// Dir is the migrations directory inside FS
const Dir = "."

// Up applies all pending migrations from FS
func Up(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, Dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
