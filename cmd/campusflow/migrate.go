package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/campusflow/config"
	"github.com/BaSui01/campusflow/internal/migration"
	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator("up", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunUp(ctx)
		})
	case "down":
		withMigrator("down", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDown(ctx)
		})
	case "steps":
		n, rest := requireIntArg("steps", "<n>", subargs)
		withMigrator("steps", rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunSteps(ctx, n)
		})
	case "force":
		v, rest := requireIntArg("force", "<version>", subargs)
		withMigrator("force", rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunForce(ctx, v)
		})
	case "status":
		withMigrator("status", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		withMigrator("version", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunVersion(ctx)
		})
	case "info":
		withMigrator("info", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunInfo(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  campusflow migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply n migrations (negative n rolls back)
  force <v>   Force set migration version after a failed run (use with caution)
  status      Show migration status
  version     Show current migration version
  info        Show database type, table and version
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  campusflow migrate up
  campusflow migrate up --config /etc/campusflow/config.yaml
  campusflow migrate status --db-type sqlite --db-url "file:campusflow.db?mode=rwc"
  campusflow migrate steps -1
  campusflow migrate force 2`)
}

// requireIntArg parses the positional integer that precedes the flags
func requireIntArg(sub, name string, args []string) (int, []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: campusflow migrate %s %s\n", sub, name)
		os.Exit(1)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid number: %s\n", args[0])
		os.Exit(1)
	}
	return n, args[1:]
}

// withMigrator builds a migrator from flags, runs fn and exits non-zero on failure
func withMigrator(sub string, args []string, fn func(ctx context.Context, cli *migration.CLI) error) {
	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	runErr := fn(context.Background(), migration.NewCLI(migrator))
	if closeErr := migrator.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to close migrator: %v\n", closeErr)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", sub, runErr)
		os.Exit(1)
	}
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// db-type 与 db-url 同时给出时不读配置
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// migrateOnStart applies pending migrations for serve --migrate
func migrateOnStart(dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	if dbCfg.Driver == "" {
		logger.Info("No database configured, skipping migrations")
		return nil
	}

	migrator, err := migration.NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	if err := migrator.Up(context.Background()); err != nil {
		return err
	}
	version, dirty, err := migrator.Version(context.Background())
	if err != nil {
		return err
	}
	logger.Info("Database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
