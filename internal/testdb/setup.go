package testdb

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/database"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
)

// migrationsPath is relative to packages two levels below the module root.
const migrationsPath = "file://../../db/migrations"

// SkipIfShort skips tests that need a live database
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
}

// DatabaseURL returns TEST_DATABASE_URL or skips the test when it is unset.
func DatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}
	return url
}

// ConfigFromURL splits a postgres:// URL into the DB fields of a Config.
func ConfigFromURL(t *testing.T, rawURL string) internal.Config {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err, "invalid database URL")

	password, _ := u.User.Password()
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return internal.Config{
		DBHost:      u.Hostname(),
		DBPort:      port,
		DBUser:      u.User.Username(),
		DBPassword:  password,
		DBName:      strings.TrimPrefix(u.Path, "/"),
		DBMaxConns:  4,
		DBMinConns:  1,
		Environment: "test",
		LogLevel:    "error",
	}
}

// SetupTestDatabase migrates the test database and returns a pool plus a
// cleanup function that empties harvest_logs and closes the pool.
func SetupTestDatabase(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	SkipIfShort(t)
	url := DatabaseURL(t)

	sqlDB, err := database.ConnectSQL(url)
	require.NoError(t, err, "failed to connect to test database")

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	require.NoError(t, err, "failed to create postgres migrate driver")

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	require.NoError(t, err, "failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "failed to apply migrations")
	}

	sourceErr, dbErr := m.Close()
	require.NoError(t, sourceErr, "failed to close migration source")
	require.NoError(t, dbErr, "failed to close migration database")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err, "failed to open pgx pool")

	_, err = pool.Exec(ctx, "TRUNCATE harvest_logs")
	require.NoError(t, err, "failed to truncate harvest_logs")

	cleanup := func() {
		if _, err := pool.Exec(context.Background(), "TRUNCATE harvest_logs"); err != nil {
			t.Logf("failed to truncate harvest_logs: %v", err)
		}
		pool.Close()
	}
	return pool, cleanup
}

// InsertHarvestLogs writes entries for contractID. Absent fields are stored
// as NULL.
func InsertHarvestLogs(t *testing.T, pool *pgxpool.Pool, contractID string, entries []energy.HarvestLogEntry) {
	t.Helper()

	const query = `
		INSERT INTO harvest_logs (contract_id, sender, energy, integral, tx_id, block_height, block_time, block_time_iso)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, e := range entries {
		_, err := pool.Exec(context.Background(), query,
			contractID,
			nullString(e.Sender),
			nullUint(e.Energy),
			nullUint(e.Integral),
			nullString(e.TxID),
			e.BlockHeight,
			e.BlockTime,
			nullString(e.BlockTimeISO),
		)
		require.NoError(t, err, "failed to insert harvest log")
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUint(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
