// Package migrations встраивает SQL-миграции и применяет их через goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS содержит файлы миграций.
//
//go:embed *.sql
var FS embed.FS

// Run применяет все невыполненные миграции.
func Run(db *sql.DB) error {
	return Command(context.Background(), db, "up")
}

// Command выполняет команду goose (up, down, status, version, reset, ...) над встроенными миграциями.
func Command(ctx context.Context, db *sql.DB, command string, args ...string) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}

	return nil
}
