// Package database opens the PostgreSQL connection used by the token and
// user stores and owns the embedded schema migrations.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName is the database/sql driver registered by pgx
const DriverName = "pgx"

// MigrationsTable tracks applied schema versions
const MigrationsTable = "userinfo_schema_migrations"

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to dsn and verifies the connection
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrator applies the embedded migrations to a database
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator prepares migrations against db. Closing the migrator closes db.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate runner: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. It returns false when there was nothing to apply.
func (m *Migrator) Up() (bool, error) {
	return applied(m.m.Up())
}

// Down rolls back steps migrations. It returns false when there was nothing to roll back.
func (m *Migrator) Down(steps int) (bool, error) {
	if steps <= 0 {
		return false, fmt.Errorf("invalid migration steps %d: expected a positive integer", steps)
	}
	return applied(m.m.Steps(-steps))
}

// Version reports the current schema version
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

func applied(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	// Steps past the first or last migration report os.ErrNotExist
	if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	var short migrate.ErrShortLimit
	if errors.As(err, &short) {
		return true, nil
	}
	return false, err
}
