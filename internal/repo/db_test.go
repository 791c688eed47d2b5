package repo

import (
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/config"
)

func closeDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
}

func TestOpenSQLite_ConnectionSettings(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "wa.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	closeDB(t, db)

	for pragma, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	} {
		var got string
		if err := db.Raw("PRAGMA " + pragma).Scan(&got).Error; err != nil {
			t.Fatalf("%s: %v", pragma, err)
		}
		if !strings.EqualFold(got, want) {
			t.Errorf("%s = %q, want %q", pragma, got, want)
		}
	}
	sqlDB, _ := db.DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != sqlitePool.maxOpen {
		t.Fatalf("MaxOpenConnections = %d, want %d", got, sqlitePool.maxOpen)
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "wa.db")
	if _, err := OpenSQLite(path); err == nil || !strings.Contains(err.Error(), "sqlite directory") {
		t.Fatalf("want missing directory error, got %v", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := sqliteDSN("wa.db"); !strings.HasPrefix(got, "wa.db?_pragma=") || strings.Count(got, "_pragma=") != len(sqlitePragmas) {
		t.Fatalf("dsn = %q", got)
	}
	if got := sqliteDSN("file:wa.db?cache=shared"); !strings.HasPrefix(got, "file:wa.db?cache=shared&_pragma=") {
		t.Fatalf("dsn with query = %q", got)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DBConfig{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("want unsupported driver error, got %v", err)
	}
}

func TestOpen_SQLiteWithTracingAndMigrate(t *testing.T) {
	db, err := Open(config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "wa.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	closeDB(t, db)
	if len(db.Config.Plugins) != 1 {
		t.Fatalf("want tracing plugin installed, plugins=%v", db.Config.Plugins)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"accounts", "contacts", "broadcasts", "broadcast_recipients", "conversations", "messages", "flow_sessions", "idempotency"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
}
