package database

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("USERINFO_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("USERINFO_TEST_DATABASE_URL not set")
	}
	return dsn
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Errorf("expected paired up/down migrations, got %d up and %d down", ups, downs)
	}
}

func TestApplied(t *testing.T) {
	if ok, err := applied(nil); !ok || err != nil {
		t.Errorf("nil error should count as applied, got %v %v", ok, err)
	}
	if ok, err := applied(migrate.ErrNoChange); ok || err != nil {
		t.Errorf("no change should not be an error, got %v %v", ok, err)
	}
	if ok, err := applied(migrate.ErrShortLimit{Short: 1}); !ok || err != nil {
		t.Errorf("short limit should count as applied, got %v %v", ok, err)
	}
	boom := errors.New("boom")
	if _, err := applied(boom); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestOpen_RequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestMigrator_UpDown(t *testing.T) {
	db, err := Open(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	m, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	defer m.Close()

	if _, err := m.Up(); err != nil {
		t.Fatalf("up: %v", err)
	}
	v, dirty, err := m.Version()
	if err != nil || dirty || v == 0 {
		t.Fatalf("unexpected version %d dirty=%v err=%v", v, dirty, err)
	}
	if changed, err := m.Up(); err != nil || changed {
		t.Errorf("second up should be a no-op, got changed=%v err=%v", changed, err)
	}
}
