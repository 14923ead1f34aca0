package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies or rolls back the embedded goose migrations.
// command is one of up, down, status, version.
func Migrate(ctx context.Context, dsn string, migrations fs.FS, command string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open sql: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("platform/db: goose dialect: %w", err)
	}

	switch command {
	case "up":
		err = goose.UpContext(ctx, sqlDB, ".")
	case "down":
		err = goose.DownContext(ctx, sqlDB, ".")
	case "status":
		err = goose.StatusContext(ctx, sqlDB, ".")
	case "version":
		err = goose.VersionContext(ctx, sqlDB, ".")
	default:
		return fmt.Errorf("platform/db: unknown migrate command %q", command)
	}
	if err != nil {
		return fmt.Errorf("platform/db: migrate %s: %w", command, err)
	}
	return nil
}
