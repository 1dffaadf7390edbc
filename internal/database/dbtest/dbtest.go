// Package dbtest provides a migrated PostgreSQL database for tests.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/project-kessel/userinfo/internal/database"
)

// EnvDatabaseURL names the variable holding the test database DSN
const EnvDatabaseURL = "USERINFO_TEST_DATABASE_URL"

// Open returns a migrated database, skipping the test when no database is
// configured. Tables are truncated before returning.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		t.Skip(EnvDatabaseURL + " not set")
	}

	ctx := context.Background()
	migrateDB, err := database.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	m, err := database.NewMigrator(migrateDB)
	if err != nil {
		t.Fatalf("create migrator: %v", err)
	}
	if _, err := m.Up(); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	_ = m.Close()

	db, err := database.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx,
		`TRUNCATE userinfo.user_claim, userinfo.user_account, userinfo.access_token`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}
