// Package dbtest connects integration tests to the database named by
// TEST_DATABASE_URL. Tests skip when it is unset.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"hrpay/internal/platform/config"
	"hrpay/internal/platform/db"
)

// migrateLock serializes migrations when several test binaries share the
// database.
const migrateLock = 0x6872706179

// Open returns a migrated pool closed at the end of the test. Tests share the
// database, so they must use ids from ID instead of truncating tables.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, config.Config{DatabaseURL: url, DBMaxConns: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()
	_, err = conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrateLock)
	require.NoError(t, err)
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrateLock)

	require.NoError(t, db.Migrate(ctx, pool, migrationsDir()))
	return pool
}

// ID returns a unique id with a readable prefix.
func ID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// LeaveType inserts a leave type with a unique id and code and returns its id.
func LeaveType(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := ID("lt")
	_, err := pool.Exec(context.Background(),
		"INSERT INTO leave_types (id, name, code, is_paid) VALUES ($1, $1, $1, true)", id)
	require.NoError(t, err)
	return id
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")
}
