package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/database"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long:  `Run database migrations using golang-migrate`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up [N]",
	Short: "Apply all or N up migrations",
	Long:  `Apply all pending migrations or specify a number to apply only N migrations`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSteps(logger.GetLogger("migrate-up"), args, 1)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [N]",
	Short: "Apply all or N down migrations",
	Long:  `Roll back all migrations or specify a number to roll back only N migrations`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSteps(logger.GetLogger("migrate-down"), args, -1)
	},
}

// runSteps migrates in direction (1 up, -1 down), all the way when no
// count is given.
func runSteps(log *slog.Logger, args []string, direction int) {
	n := 0
	if len(args) == 1 {
		var err error
		n, err = strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			log.Error("Invalid number of migrations", "error", err, "input", args[0])
			os.Exit(1)
		}
	}

	m := setupMigrate()
	defer m.Close()

	if err := applySteps(m, n, direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("No migrations to apply", "direction", direction)
			return
		}
		log.Error("Migration failed", "error", err, "steps", n, "direction", direction)
		os.Exit(1)
	}

	version, dirty, _ := m.Version()
	log.Info("Migrations applied successfully", "steps", n, "direction", direction, "version", version, "dirty", dirty)
}

func applySteps(m *migrate.Migrate, n, direction int) error {
	switch {
	case n > 0:
		return m.Steps(n * direction)
	case direction > 0:
		return m.Up()
	default:
		return m.Down()
	}
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Display the current migration version and status`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger("migrate-status")

		m := setupMigrate()
		defer m.Close()

		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info("Migration status: no migrations applied")
				return
			}
			log.Error("Could not get migration status", "error", err)
			os.Exit(1)
		}

		status := "CLEAN"
		if dirty {
			status = "DIRTY (migration failed, manual intervention required)"
		}

		log.Info("Migration status",
			"current_version", version,
			"status", status)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print current migration version",
	Long:  `Print the current migration version number`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger("migrate-version")

		m := setupMigrate()
		defer m.Close()

		version, _, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info("No migrations applied")
				return
			}
			log.Error("Could not get migration version", "error", err)
			os.Exit(1)
		}

		log.Info("Current migration version", "version", version)
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Force set migration version without running migration (fixes dirty state)",
	Long:  `Set the migration version without running the migration. This is used to fix dirty database state when a migration fails partway through.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger("migrate-force")

		m := setupMigrate()
		defer m.Close()

		version, err := strconv.Atoi(args[0])
		if err != nil {
			log.Error("Invalid version number", "error", err, "input", args[0])
			os.Exit(1)
		}

		if err := m.Force(version); err != nil {
			log.Error("Failed to force migration version", "error", err, "version", version)
			os.Exit(1)
		}

		log.Info("Migration version forced successfully", "version", version)
		log.Warn("IMPORTANT: Verify that the database state matches the expected state for this version")
	},
}

func setupMigrate() *migrate.Migrate {
	log := logger.GetLogger("migrate-setup")

	config := loadConfig()

	m, err := newMigrate(config.GetDatabaseConnectionString(), migrationsPath)
	if err != nil {
		log.Error("Could not create migrate instance", "error", err, "host", config.DBHost, "database", config.DBName)
		os.Exit(1)
	}
	return m
}

// newMigrate opens a PostgreSQL migrate instance over the migrations in path.
func newMigrate(connStr, path string) (*migrate.Migrate, error) {
	db, err := database.ConnectSQL(connStr)
	if err != nil {
		return nil, err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create postgres migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrate instance: %w", err)
	}
	return m, nil
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsPath, "migrations-path", "db/migrations", "Directory holding the SQL migrations")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	migrateCmd.AddCommand(migrateForceCmd)
	rootCmd.AddCommand(migrateCmd)
}

// RunMigrationsUp applies all pending migrations programmatically.
func RunMigrationsUp(config internal.Config, path string) error {
	log := logger.GetLogger("migrate-auto")

	m, err := newMigrate(config.GetDatabaseConnectionString(), path)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("Migrations are up to date")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("Migrations applied successfully")
	return nil
}
