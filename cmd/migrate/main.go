package main

import (
	"database/sql"
	stderrors "errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/persistence"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/telemetry"
)

const defaultMigrationsDir = "internal/infrastructure/persistence/migrations"

// schemaMigrator is the part of *migrate.Migrate the actions drive.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, status, create")
		name       = flag.String("name", "", "Migration name (for create action)")
		steps      = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		dir        = flag.String("dir", defaultMigrationsDir, "Migrations directory (for create action)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if *action == "create" {
		if *name == "" {
			logger.Fatal("migration name is required for create action")
		}
		files, err := createMigration(*dir, *name, time.Now())
		if err != nil {
			logger.Fatal("failed to create migration", zap.Error(err))
		}
		logger.Info("created migration", zap.Strings("files", files))
		return
	}

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	m, err := persistence.NewMigrator(db)
	if err != nil {
		logger.Fatal("failed to create migrator", zap.Error(err))
	}

	if err := runAction(m, *action, *steps, logger); err != nil {
		logger.Fatal("migration failed", zap.String("action", *action), zap.Error(err))
	}
}

func runAction(m schemaMigrator, action string, steps int, logger *zap.Logger) error {
	var err error
	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "status":
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	switch {
	case stderrors.Is(err, migrate.ErrNilVersion):
		logger.Info("schema has no migrations applied")
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	default:
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

var migrationFile = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)

// createMigration writes an empty up/down pair numbered after the highest
// existing migration in dir.
func createMigration(dir, name string, now time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	next := 1
	for _, e := range entries {
		match := migrationFile.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil && n >= next {
			next = n + 1
		}
	}

	slug := strings.ToLower(strings.Join(strings.Fields(name), "_"))
	var files []string
	for _, direction := range []string{"up", "down"} {
		path := filepath.Join(dir, fmt.Sprintf("%06d_%s.%s.sql", next, slug, direction))
		content := fmt.Sprintf("-- Migration: %s (%s)\n-- Created at: %s\n\n", name, direction, now.Format(time.RFC3339))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to create migration file: %w", err)
		}
		files = append(files, path)
	}
	return files, nil
}
