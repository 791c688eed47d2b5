package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// newTestDB opens a private in-memory database and migrates the given
// models (all models when none are passed).
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection so the PRAGMA below applies to every statement.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Exec("PRAGMA foreign_keys=ON;").Error; err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if len(migrate) == 0 {
		migrate = Models()
	}
	if err := db.AutoMigrate(migrate...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, email string) *domain.Account {
	t.Helper()
	a := &domain.Account{Name: "Owner", Email: email, PasswordHash: "x"}
	if err := CreateAccount(context.Background(), db, a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func seedDevice(t *testing.T, db *gorm.DB, accountID, phoneNumberID string) *domain.Device {
	t.Helper()
	d := &domain.Device{AccountID: accountID, Name: "Main", PhoneNumberID: phoneNumberID, DisplayPhone: "+15550001"}
	if err := CreateDevice(context.Background(), db, d); err != nil {
		t.Fatalf("seed device: %v", err)
	}
	return d
}

func seedConversation(t *testing.T, db *gorm.DB, accountID, deviceID, phone string) *domain.Conversation {
	t.Helper()
	c, _, err := GetOrCreateConversation(context.Background(), db, domain.Conversation{
		AccountID: accountID, DeviceID: deviceID, ContactPhone: phone,
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return c
}

func ts(min int) time.Time {
	return time.Date(2025, 1, 1, 10, min, 0, 0, time.UTC)
}
