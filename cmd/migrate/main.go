package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/comptoir-erp/comptoir/internal/app"
)

const defaultDir = "migrations"

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create")
	dir := flag.String("dir", defaultDir, "goose migrations directory")
	version := flag.Int64("version", 0, "target version for -cmd=version")
	name := flag.String("name", "", "migration name for -cmd=create")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		logger.Error("open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("set goose dialect", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	switch *cmd {
	case "up", "down", "status":
		err = goose.RunContext(ctx, *cmd, db, *dir)
	case "version":
		if *version == 0 {
			logger.Error("missing -version for version command")
			os.Exit(1)
		}
		err = migrateToVersion(ctx, db, *dir, *version)
	case "create":
		if *name == "" {
			logger.Error("missing -name for create command")
			os.Exit(1)
		}
		err = goose.Create(db, *dir, *name, "sql")
	default:
		logger.Error("unknown command", slog.String("cmd", *cmd))
		os.Exit(1)
	}
	if err != nil {
		logger.Error("migration failed", slog.String("cmd", *cmd), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migration complete", slog.String("cmd", *cmd))
}

func migrateToVersion(ctx context.Context, db *sql.DB, dir string, target int64) error {
	current, err := goose.GetDBVersion(db)
	if err != nil {
		return err
	}
	switch {
	case current == target:
		return nil
	case current < target:
		return goose.UpToContext(ctx, db, dir, target)
	default:
		return goose.DownToContext(ctx, db, dir, target)
	}
}
